package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"styleauth/internal/corpus"
	"styleauth/internal/evaluation"
	"styleauth/internal/model"
	"styleauth/internal/store"
	"styleauth/internal/trainer"
)

func newEvalCmd(o *rootOptions) *cobra.Command {
	var (
		dataPath string
		retrain  bool
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Report false acceptance and false rejection rates",
		Long: `Eval replays each author's held-out texts, and an equal-size sample of
other authors' texts, through a fresh trust session and reports FRR, FAR
and the mean number of prompts seen before a lockout.

The held-out split is recomputed from training.seed and
training.test_fraction, so it matches the split used by train as long as
the corpus and those settings are unchanged. --retrain trains first.

Examples:
  styleauth eval --data corpus.csv
  styleauth eval --data corpus.csv --retrain -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(cmd, o, dataPath, retrain)
		},
	}
	cmd.Flags().StringVar(&dataPath, "data", "", "CSV corpus with author,content columns")
	cmd.Flags().BoolVar(&retrain, "retrain", false, "Train every author before evaluating")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func runEval(cmd *cobra.Command, o *rootOptions, dataPath string, retrain bool) error {
	ctx := cmd.Context()

	a, err := openApp(ctx, o)
	if err != nil {
		return err
	}
	defer a.Close()

	c, err := corpus.ReadFile(dataPath)
	if err != nil {
		return err
	}

	var (
		inputs  []evaluation.Input
		skipped []string
	)
	if retrain {
		t, err := a.trainer()
		if err != nil {
			return err
		}
		reports, notTrained, err := t.TrainAll(ctx, c)
		if err != nil {
			return err
		}
		inputs = evaluation.InputsFromReports(reports, c)
		skipped = notTrained
	} else {
		for _, u := range c.Users() {
			bank, err := model.LoadBank(ctx, a.store, u, a.cfg.Grid)
			if err == nil {
				err = bank.CheckExtractor(a.extractor)
			}
			if err != nil {
				if model.IsUnavailable(err) || errors.Is(err, store.ErrIntegrity) {
					a.logger.Warn("no usable bank; skipping", "user_id", u, "error", err)
					skipped = append(skipped, u)
					continue
				}
				return err
			}
			_, test := trainer.Split(c.Texts(u), a.cfg.Training.TestFraction, a.cfg.Training.Seed)
			inputs = append(inputs, evaluation.Input{
				UserID:       u,
				Bank:         bank,
				Genuine:      test,
				ImpostorPool: c.Others(u),
			})
		}
	}

	ev, err := evaluation.New(a.extractor, a.cfg.Trust, a.cfg.Training.Seed, a.cfg.Training.Workers)
	if err != nil {
		return err
	}
	summary, err := ev.Evaluate(ctx, inputs)
	if err != nil {
		return err
	}
	summary.Skipped = append(skipped, summary.Skipped...)

	w := cmd.OutOrStdout()
	if o.json() {
		return writeJSON(w, summary)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tGENUINE\tIMPOSTOR\tFRR%\tFAR%\tREJECTED/LOCK\tACCEPTED/LOCK")
	for _, r := range summary.Users {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.2f\t%.2f\t%.2f\t%.2f\n",
			r.UserID, r.GenuinePrompts, r.ImpostorPrompts, r.FRR, r.FAR,
			r.MeanRejectedBeforeLock, r.MeanAcceptedBeforeLock)
	}
	fmt.Fprintf(tw, "MEAN\t\t\t%.2f\t%.2f\t%.2f\t%.2f\n",
		summary.MeanFRR, summary.MeanFAR, summary.MeanRejectedBeforeLock, summary.MeanAcceptedBeforeLock)
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, u := range summary.Skipped {
		fmt.Fprintf(w, "skipped %s\n", u)
	}
	return nil
}

package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"styleauth/internal/corpus"
	"styleauth/internal/trainer"
)

func newTrainCmd(o *rootOptions) *cobra.Command {
	var dataPath, user string

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a model bank for every author in a corpus",
		Long: `Train reads a CSV corpus with author and content columns, holds out a
seeded fraction of each author's texts, and fits one one-class SVM per grid
point on the rest. Banks replace whatever the store held for that author.

Examples:
  styleauth train --data corpus.csv
  styleauth train --data corpus.csv --user alice -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrain(cmd, o, dataPath, user)
		},
	}
	cmd.Flags().StringVar(&dataPath, "data", "", "CSV corpus with author,content columns")
	cmd.Flags().StringVar(&user, "user", "", "Train only this author")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

type trainOutput struct {
	User         string        `json:"user"`
	TrainSamples int           `json:"train_samples"`
	TestSamples  int           `json:"test_samples"`
	Models       int           `json:"models"`
	Converged    int           `json:"converged"`
	Duration     time.Duration `json:"duration_ns"`
}

type trainSummary struct {
	Trained []trainOutput `json:"trained"`
	Skipped []string      `json:"skipped,omitempty"`
}

func runTrain(cmd *cobra.Command, o *rootOptions, dataPath, user string) error {
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
	t, err := a.trainer()
	if err != nil {
		return err
	}

	var (
		reports []*trainer.Report
		skipped []string
	)
	if user != "" {
		texts := c.Texts(user)
		if len(texts) == 0 {
			return fmt.Errorf("author %q not found in %s", user, dataPath)
		}
		r, err := t.TrainUser(ctx, user, texts)
		if err != nil {
			return err
		}
		reports = append(reports, r)
	} else {
		if reports, skipped, err = t.TrainAll(ctx, c); err != nil {
			return err
		}
	}

	summary := trainSummary{Skipped: skipped}
	for _, r := range reports {
		out := trainOutput{
			User:         r.UserID,
			TrainSamples: r.TrainSamples,
			TestSamples:  len(r.TestTexts),
			Models:       len(r.Models),
			Duration:     r.Duration,
		}
		for _, m := range r.Models {
			if m.Converged {
				out.Converged++
			}
		}
		summary.Trained = append(summary.Trained, out)
	}

	w := cmd.OutOrStdout()
	if o.json() {
		return writeJSON(w, summary)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tTRAIN\tTEST\tMODELS\tCONVERGED\tDURATION")
	for _, r := range summary.Trained {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\n", r.User, r.TrainSamples, r.TestSamples, r.Models, r.Converged, r.Duration.Round(time.Millisecond))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, u := range summary.Skipped {
		fmt.Fprintf(w, "skipped %s: not enough texts\n", u)
	}
	return nil
}

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"styleauth/internal/auth"
	"styleauth/internal/config"
	"styleauth/internal/health"
	"styleauth/internal/metrics"
	"styleauth/internal/store"
)

const maxPromptBytes = 1 << 20

func newStreamCmd(o *rootOptions) *cobra.Command {
	var sessionID, metricsAddr string

	cmd := &cobra.Command{
		Use:   "stream <user>",
		Short: "Authenticate prompts from stdin with session trust tracking",
		Long: `Stream reads one prompt per line from stdin, scores each against the
user's bank, and updates the session's trust score. A line is printed per
prompt; LOCKED marks a prompt that pushed trust below the floor, after which
the session restarts at the baseline.

With --metrics-addr (or metrics.enabled in the config) a Prometheus endpoint
is served at /metrics for the lifetime of the stream.

Examples:
  styleauth stream alice < prompts.txt
  styleauth stream alice --metrics-addr 127.0.0.1:9464 -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(cmd, o, args[0], sessionID, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id (default: a new random id)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}

type streamOutput struct {
	Session    string  `json:"session"`
	Prompt     int     `json:"prompt"`
	Outcome    string  `json:"outcome"`
	Decision   string  `json:"decision"`
	Certainty  float64 `json:"certainty"`
	Confidence float64 `json:"confidence"`
	Reached    float64 `json:"reached"`
	Locked     bool    `json:"locked"`
	Error      string  `json:"error,omitempty"`
}

func runStream(cmd *cobra.Command, o *rootOptions, userID, sessionID, metricsAddr string) error {
	ctx := cmd.Context()

	a, err := openApp(ctx, o)
	if err != nil {
		return err
	}
	defer a.Close()

	if stop := a.watchConfig(); stop != nil {
		defer stop()
	}

	authn, err := a.authenticator()
	if err != nil {
		return err
	}

	if metricsAddr == "" && a.cfg.Metrics.Enabled {
		metricsAddr = a.cfg.Metrics.ListenAddr
	}
	checker := health.NewChecker()
	if metricsAddr != "" {
		checker.RegisterFunc("store", true, a.storeHealth)
		checker.RegisterFunc("bank", true, health.Func("bank loaded", func(ctx context.Context) error {
			return authn.Preload(ctx, userID)
		}))

		shutdown, err := a.metrics.Serve(metricsAddr,
			metrics.Route{Pattern: "/healthz", Handler: checker.LivenessHandler()},
			metrics.Route{Pattern: "/readyz", Handler: checker.ReadinessHandler()},
		)
		if err != nil {
			return err
		}
		defer shutdown(context.WithoutCancel(ctx))
		a.logger.Info("serving metrics", "addr", metricsAddr)
	}

	if err := authn.Preload(ctx, userID); err != nil {
		return err
	}
	checker.SetReady(true)

	if sessionID == "" {
		sessionID = auth.NewSessionID()
	}
	defer authn.EndSession(sessionID)
	a.logger.Info("stream started", "user_id", userID, "session_id", sessionID)

	w := cmd.OutOrStdout()
	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 64*1024), maxPromptBytes)

	n := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		n++

		res, err := authn.AuthenticateStream(ctx, sessionID, userID, line)
		out := streamOutput{Session: sessionID, Prompt: n}
		switch {
		case errors.Is(err, auth.ErrRateLimited):
			out.Outcome = string(auth.Denied)
			out.Error = "rate limited"
		case err != nil:
			return err
		default:
			out.Outcome = string(res.Outcome)
			out.Decision = res.Decision.String()
			out.Certainty = res.Certainty
			out.Confidence = res.Confidence
			out.Reached = res.Reached
			out.Locked = res.Locked
		}

		if err := printStream(w, o, out); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func printStream(w io.Writer, o *rootOptions, out streamOutput) error {
	if o.json() {
		return writeJSONLine(w, out)
	}
	if out.Error != "" {
		_, err := fmt.Fprintf(w, "%d %s (%s)\n", out.Prompt, out.Outcome, out.Error)
		return err
	}
	lock := ""
	if out.Locked {
		lock = " LOCKED"
	}
	_, err := fmt.Fprintf(w, "%d %s decision=%s certainty=%.3f confidence=%.3f%s\n",
		out.Prompt, out.Outcome, out.Decision, out.Certainty, out.Reached, lock)
	return err
}

// watchConfig reloads the config file on change so edits are validated and
// audited while a stream runs. Running components keep their settings until
// restart.
func (a *app) watchConfig() func() {
	if _, err := os.Stat(a.cfgPath); err != nil {
		return nil
	}

	loader := config.NewLoader(a.cfgPath, config.WithAuditLogger(a.audit))
	if _, err := loader.Load(); err != nil {
		a.logger.Warn("config watch disabled", "error", err)
		return nil
	}
	current := a.cfg
	loader.OnChange(func(c *config.Config) {
		var sections []string
		for _, ch := range config.ChangedSections(current, c) {
			sections = append(sections, ch.Section)
		}
		a.logger.Warn("config changed on disk; restart the stream to apply", "sections", strings.Join(sections, ","))
	})
	if err := loader.Watch(); err != nil {
		a.logger.Warn("config watch disabled", "error", err)
		loader.Close()
		return nil
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case err := <-loader.Errors():
				a.logger.Warn("config reload rejected", "error", err)
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		loader.Close()
	}
}

// storeHealth reports whether the store answers and, for sqlite, whether
// its schema is fully migrated.
func (a *app) storeHealth(ctx context.Context) health.CheckResult {
	users, err := a.store.Users(ctx)
	if err != nil {
		return health.CheckResult{Status: health.StatusUnhealthy, Message: "store unreachable", Error: err.Error()}
	}
	details := map[string]any{"users": len(users)}
	sq, ok := a.store.(*store.SQLiteStore)
	if !ok {
		return health.CheckResult{Status: health.StatusHealthy, Message: "store reachable", Details: details}
	}
	status, err := sq.MigrationStatus()
	if err != nil {
		return health.CheckResult{Status: health.StatusUnhealthy, Message: "migration status", Error: err.Error(), Details: details}
	}
	details["schema_version"] = status.CurrentVersion
	if n := len(status.Pending); n > 0 {
		details["pending_migrations"] = n
		return health.CheckResult{Status: health.StatusUnhealthy, Message: "migrations pending", Details: details}
	}
	return health.CheckResult{Status: health.StatusHealthy, Message: "store reachable", Details: details}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"scriptwatch/internal/app"
	"scriptwatch/internal/check"
	"scriptwatch/internal/config"
	"scriptwatch/internal/runner"
	logx "scriptwatch/pkg/logx"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// errCheckFailed makes `check` exit non-zero without printing usage.
var errCheckFailed = errors.New("check failed")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errCheckFailed) {
			fmt.Fprintln(os.Stderr, "fatal:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "scriptwatch",
		Short:         "Run health-check scripts periodically and notify on failures",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newCheckCmd(), newVersionCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the scheduler loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfgPath)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config yaml (defaults plus env when empty)")
	return cmd
}

func run(ctx context.Context, cfgPath string) error {
	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = a.Stop(stopCtx, reason)

	if reason == app.StopFatalError {
		if err := a.Err(); err != nil {
			return err
		}
	}
	return nil
}

func newCheckCmd() *cobra.Command {
	var (
		dir     string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "check <script>",
		Short: "Run one script once and print its interpreted outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = os.Getenv(config.EnvScriptsDir)
			}
			if dir == "" {
				dir = config.Default().Scripts.Dir
			}
			ex := runner.New(dir, timeout, logx.NewConsole("warn"))
			res := ex.Run(cmd.Context(), check.ScriptID(args[0]))
			out := res.Outcome(time.Now())

			w := cmd.OutOrStdout()
			switch o := out.(type) {
			case check.Success:
				fmt.Fprintf(w, "ok (exit %d, %s)\n", res.Raw.ExitCode, res.Duration.Round(time.Millisecond))
				if o.Manifest.Interval > 0 {
					fmt.Fprintf(w, "interval: %s, only_if_changed: %t\n", o.Manifest.Interval, o.Manifest.OnlyIfChanged)
				}
				if o.Text != "" {
					fmt.Fprintln(w, o.Text)
				}
				return nil
			case check.Failure:
				fmt.Fprintf(w, "FAIL %s (exit %d, %s)\n", o.Kind, res.Raw.ExitCode, res.Duration.Round(time.Millisecond))
				fmt.Fprintln(w, o.Text)
			}
			return errCheckFailed
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "scripts directory (env "+config.EnvScriptsDir+" or \"scripts\")")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", config.DefaultScriptTimeout, "hard timeout for the script")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "scriptwatch", version)
		},
	}
}

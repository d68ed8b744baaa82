package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"amoreport/internal/app"
	"amoreport/internal/authz"
	"amoreport/internal/config"
	"amoreport/internal/jobs"
	"amoreport/internal/logger"
	"amoreport/internal/middleware"
)

const (
	ExitSuccess      = 0
	ExitFatal        = 1
	ExitNotDelivered = 2
)

type AppContext struct {
	Stdout io.Writer
	Stderr io.Writer
	// Environ подменяет os.Environ() в тестах.
	Environ []string
}

type globalFlags struct {
	configPath string
	envFile    string
}

// Run executes the CLI and returns the process exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	return run(AppContext{Stdout: stdout, Stderr: stderr}, args)
}

func run(appCtx AppContext, args []string) int {
	root := newRootCommand(appCtx)
	root.SetArgs(args)
	root.SetOut(appCtx.Stdout)
	root.SetErr(appCtx.Stderr)

	err := root.Execute()
	if err == nil {
		return ExitSuccess
	}

	var exitErr *codedExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	_, _ = fmt.Fprintln(appCtx.Stderr, "error:", err)
	return ExitFatal
}

func newRootCommand(appCtx AppContext) *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "dailyrevenue",
		Short:         "Send the daily amoCRM revenue report on schedule",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(appCtx, flags)
			if err != nil {
				return err
			}
			log, closer, err := logger.New(logger.Options{File: cfg.Log.File, Level: cfg.Log.Level, Console: appCtx.Stderr})
			if err != nil {
				return err
			}
			defer closer.Close()

			a, err := app.New(cfg, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Info("[app] started", "notifier", cfg.Notifier, "at", cfg.Schedule.At, "timezone", cfg.Schedule.Timezone)
			return a.Run(ctx)
		},
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to config YAML (default config/config.yaml or $CONFIG_PATH)")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", config.DefaultDotEnv, "path to .env file")

	root.AddCommand(newRunOnceCommand(appCtx, flags))
	root.AddCommand(newTokenCommand(appCtx, flags))
	return root
}

func newRunOnceCommand(appCtx AppContext, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run-once",
		Short: "Produce and send one report now, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(appCtx, flags)
			if err != nil {
				return err
			}
			log, closer, err := logger.New(logger.Options{File: cfg.Log.File, Level: cfg.Log.Level, Console: appCtx.Stderr})
			if err != nil {
				return err
			}
			defer closer.Close()

			a, err := app.New(cfg, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res := a.RunOnce(ctx)
			if err := writeResult(appCtx.Stdout, res); err != nil {
				return err
			}
			if !res.Delivered {
				return &codedExitError{Code: ExitNotDelivered}
			}
			return nil
		},
	}
}

func newTokenCommand(appCtx AppContext, flags *globalFlags) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator token for POST /run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(appCtx, flags)
			if err != nil {
				return err
			}
			if cfg.Server.JWTSecret == "" {
				return errors.New("server.jwt_secret is not configured")
			}
			tok, err := middleware.IssueToken([]byte(cfg.Server.JWTSecret), subject, []string{authz.ScopeReportRun}, ttl)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			_, err = fmt.Fprintln(appCtx.Stdout, tok)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func loadConfig(appCtx AppContext, flags *globalFlags) (*config.Config, error) {
	path := flags.configPath
	if path == "" {
		path = lookupEnv(appCtx, "CONFIG_PATH")
	}
	return config.Load(config.LoadOptions{
		Path:    path,
		DotEnv:  flags.envFile,
		Environ: appCtx.Environ,
	})
}

func lookupEnv(appCtx AppContext, key string) string {
	if appCtx.Environ == nil {
		return os.Getenv(key)
	}
	prefix := key + "="
	for _, kv := range appCtx.Environ {
		if len(kv) > len(prefix) && kv[:len(prefix)] == prefix {
			return kv[len(prefix):]
		}
	}
	return ""
}

func writeResult(w io.Writer, res jobs.Result) error {
	data, err := sonic.ConfigStd.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

type codedExitError struct {
	Code int
}

func (err *codedExitError) Error() string {
	return fmt.Sprintf("exit with code %d", err.Code)
}

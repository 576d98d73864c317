package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/target/reclaim/config"
	"github.com/target/reclaim/internal/bootstrap"
	"github.com/target/reclaim/internal/domain/lifecycle"
	apperrors "github.com/target/reclaim/internal/errors"
	"github.com/target/reclaim/internal/service"
)

// app carries state shared by every subcommand.
type app struct {
	out      io.Writer
	jsonOut  bool
	cfg      config.AppConfig
	logger   *slog.Logger
	loadConf func() (config.AppConfig, error)
	// open builds the runtime for commands that touch the database.
	open func(ctx context.Context, a *app) (*runtime, error)
}

func newApp(out io.Writer) *app {
	return &app{
		out:      out,
		logger:   slog.Default(),
		loadConf: bootstrap.LoadConfig,
		open:     openRuntime,
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "reclaim-admin",
		Short: "Operate the reclaim entity lifecycle service",
		Long: `reclaim-admin reads the same environment configuration as the reclaim
service and runs one lifecycle operation against its database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConf()
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = bootstrap.InitLogger(&a.cfg)
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "output as JSON")

	root.AddCommand(
		newMigrateCmd(a),
		newShowCmd(a),
		newEraseCmd(a),
		newSafeEraseCmd(a),
		newFinalizeCmd(a),
		newRunFinalizeCmd(a),
		newStatsCmd(a),
		newReapOnceCmd(a),
		newCatalogCmd(a),
	)
	return root
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// withRuntime opens the runtime, runs f and closes it.
func (a *app) withRuntime(cmd *cobra.Command, f func(ctx context.Context, rt *runtime) error) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	rt, err := a.open(ctx, a)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil {
			a.logger.Warn("close runtime failed", "error", cerr)
		}
	}()
	return f(ctx, rt)
}

// userError marks failures caused by the caller's input.
type userError struct{ err error }

func (e userError) Error() string { return e.err.Error() }
func (e userError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var ue userError
	if errors.As(err, &ue) {
		return exitUserError
	}
	switch apperrors.Classify(err) {
	case apperrors.ErrCodeNotFound, apperrors.ErrCodeValidation, apperrors.ErrCodeConflict,
		apperrors.ErrCodeUnprocessable:
		return exitUserError
	}
	if errors.Is(err, service.ErrNotDeleted) {
		return exitUserError
	}
	return exitSysError
}

func refArgs(args []string) lifecycle.Ref {
	return lifecycle.Ref{Type: args[0], ID: args[1]}
}

func (a *app) printf(format string, args ...any) error {
	_, err := fmt.Fprintf(a.out, format, args...)
	return err
}

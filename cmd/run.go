package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-menu-ingest/internal/catalog"
)

// newRunCmd creates the 'run' subcommand.
func newRunCmd() *cobra.Command {
	var serveAddr string
	cmd := &cobra.Command{
		Use:   "run [kind...]",
		Short: "Process pending units",
		Long: `Processes every pending unit of the given kinds, in the order given.
Without arguments the kinds run as location, restaurant, tag: locations seed
the restaurants that the later phases fetch. Prints one run summary per kind.`,
		ValidArgs: []string{"location", "restaurant", "tag"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, args, serveAddr)
		},
	}
	cmd.Flags().StringVar(&serveAddr, "serve-addr", "", "serve health, metrics and run history while running (overrides server.addr)")
	return cmd
}

func runPipeline(cmd *cobra.Command, args []string, serveAddr string) error {
	st, err := resolveState(cmd.Context())
	if err != nil {
		return err
	}
	kinds := make([]catalog.Kind, 0, len(args))
	for _, arg := range args {
		kind, err := catalog.ParseKind(arg)
		if err != nil {
			return err
		}
		kinds = append(kinds, kind)
	}
	if serveAddr == "" {
		serveAddr = st.cfg.Server.Addr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, st.cfg, st.logger)
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}
	defer a.Close()

	serveErr := make(chan error, 1)
	serveCtx, stopServe := context.WithCancel(ctx)
	if serveAddr != "" {
		go func() { serveErr <- a.Serve(serveCtx, serveAddr) }()
	} else {
		close(serveErr)
	}

	summaries, runErr := a.Run(ctx, kinds)
	stopServe()
	if err := <-serveErr; err != nil {
		st.logger.Warn("status server stopped with error", zap.Error(err))
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(summaries); err != nil {
		return fmt.Errorf("write summaries: %w", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("run: %w", runErr)
	}
	return nil
}

package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/lazypower/foresight/internal/logging"
	"github.com/lazypower/foresight/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server and background schedulers",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg := rt.cfg

	handler := &sutureslog.Handler{Logger: logging.NewSlogLogger()}
	sup := suture.New("foresight", suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          10 * time.Second,
	})

	srv := server.New(rt.engine, VersionString(), server.Options{
		RateLimit:   cfg.Server.RateLimit,
		Metrics:     cfg.Server.MetricsEnable,
		CORSOrigins: cfg.Server.CORSOrigins,
	})
	sup.Add(srv.Service(cfg.ListenAddr(), 10*time.Second))
	rt.engine.Supervise(sup)

	logging.Info().
		Str("addr", cfg.ListenAddr()).
		Str("db", rt.dbPath).
		Str("fast", cfg.Fast.Driver).
		Str("archive", cfg.Archive.Driver).
		Str("version", VersionString()).
		Msg("foresight serving")

	err = sup.Serve(ctx)
	logging.Info().Msg("shutting down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

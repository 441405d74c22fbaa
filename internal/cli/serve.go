package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/battle-backend/internal/battle"
	"github.com/DoyleJ11/battle-backend/internal/config"
	"github.com/DoyleJ11/battle-backend/internal/httpapi"
	"github.com/DoyleJ11/battle-backend/internal/hub"
	"github.com/DoyleJ11/battle-backend/internal/logging"
	"github.com/DoyleJ11/battle-backend/internal/room"
	"github.com/DoyleJ11/battle-backend/internal/supervisor"
	"github.com/DoyleJ11/battle-backend/internal/ws"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, *envFile)
		},
	}
}

func runServe(cmd *cobra.Command, envFile string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Warn("close store", zap.Error(err))
		}
	}()

	reg := room.New(log.Named("room"), nil)
	sup := supervisor.New(reg, st, supervisor.Config{
		InactivityTimeout: cfg.RoomInactivityTimeout,
		AdminGracePeriod:  cfg.AdminGracePeriod,
		MaxRoomLifetime:   cfg.MaxRoomLifetime,
		StoreTimeout:      cfg.StoreTimeout,
	}, log.Named("supervisor"))
	// The hub outlives the signal context so it can still tell clients
	// the server is going away.
	h := hub.NewHub(context.Background(), reg, sup, hub.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		CheckInterval:     cfg.SupervisorInterval,
		SweepInterval:     cfg.OrphanSweepInterval,
	}, log.Named("hub"))
	svc := battle.NewService(st, h, battle.Config{
		DefaultRounds:   cfg.DefaultRounds,
		VotingDuration:  cfg.VotingDuration,
		ReadingDuration: cfg.ReadingDuration,
	}, log.Named("battle"), nil)

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Hub:           h,
			Battles:       svc,
			IngressSecret: cfg.IngressSecret,
			WS:            ws.Options{OriginPatterns: cfg.AllowedOrigins},
			Log:           log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.IngressSecret == "" {
		log.Warn("INGRESS_SECRET is empty; internal broadcasts will be rejected")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr), zap.String("database", cfg.DatabaseType))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return multierr.Combine(h.Shutdown(sctx), srv.Shutdown(sctx))
	})
	return g.Wait()
}

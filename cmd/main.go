// Command captur runs the location telemetry and reward accrual daemon.
// It samples the (simulated) device position, forwards samples to the
// remote ledger, and accrues a token balance while location sharing is on.
//
// Usage:
//
//	captur --config config.yaml
//	captur --setup (interactive wizard, writes config.gen.yaml)
//	captur --user <id> --ledger sqlite --sqlite captur.db
//
// Environment variables:
//
//	CAPTUR_USER_ID overrides the configured user id
//	SUPABASE_KEY supplies the Supabase API key for the supabase ledger
//	SUPABASE_ACCESS_TOKEN supplies the user's JWT for row level security
package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/captur/config"
	"github.com/vadiminshakov/captur/internal/clients"
	"github.com/vadiminshakov/captur/internal/engine"
	"github.com/vadiminshakov/captur/internal/location"
	"github.com/vadiminshakov/captur/internal/session"
	"github.com/vadiminshakov/captur/internal/setup"
	"github.com/vadiminshakov/captur/internal/storage/ledger"
	"github.com/vadiminshakov/captur/internal/storage/preferences"
	"github.com/vadiminshakov/captur/internal/web"
)

type closableLedger interface {
	engine.Ledger
	io.Closer
}

type nopCloser struct {
	engine.Ledger
}

func (nopCloser) Close() error { return nil }

func main() {
	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	if flags.Setup {
		path, err := setup.RunTUI()
		if err != nil {
			log.Fatal(err)
		}
		flags.ConfigPath = path
	}

	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatal(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if err := run(logger, cfg); err != nil {
		logger.Fatal("captur stopped with error", zap.Error(err))
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	prefs, err := preferences.NewWALStore(cfg.PreferencesDir)
	if err != nil {
		return errors.Wrap(err, "open preference store")
	}
	defer prefs.Close()

	remote, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer remote.Close()

	source := location.NewSimulated(location.SimulatedConfig{
		StartLatitude:  cfg.StartLatitude,
		StartLongitude: cfg.StartLongitude,
		Denied:         cfg.DenyLocation,
	}, nil)

	sess := session.FromEnv(cfg.UserID)
	eng, err := engine.New(logger, engine.Config{
		TelemetryInterval: cfg.TelemetryInterval,
		AccrualInterval:   cfg.AccrualInterval,
		MaxIncrement:      cfg.MaxIncrement,
		OpTimeout:         cfg.OpTimeout,
	}, sess, source, prefs, remote)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Initialize(ctx); err != nil {
		return errors.Wrap(err, "initialize engine")
	}
	defer eng.Shutdown()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return web.NewServer(logger, cfg.HTTPAddr, eng, web.WithIdentity(sess)).Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return nil
	})

	return g.Wait()
}

func openLedger(cfg config.Config) (closableLedger, error) {
	switch cfg.Ledger {
	case config.LedgerSupabase:
		var opts []clients.SupabaseOption
		if cfg.SupabaseAccessToken != "" {
			opts = append(opts, clients.WithAccessToken(cfg.SupabaseAccessToken))
		}
		c, err := clients.NewSupabaseClient(cfg.SupabaseURL, cfg.SupabaseKey, opts...)
		if err != nil {
			return nil, errors.Wrap(err, "create supabase client")
		}
		return nopCloser{c}, nil
	default:
		l, err := ledger.NewSQLiteLedger(cfg.SQLitePath)
		if err != nil {
			return nil, errors.Wrap(err, "open sqlite ledger")
		}
		return l, nil
	}
}

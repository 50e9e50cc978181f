package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lakayvote/intake/auth"
	"github.com/lakayvote/intake/cliparse"
	"github.com/lakayvote/intake/db"
	"github.com/lakayvote/intake/gateway"
	"github.com/lakayvote/intake/intake"
	"github.com/lakayvote/intake/notify"
	"github.com/lakayvote/intake/ratelimit"
	"github.com/lakayvote/intake/reputation"
	"github.com/lakayvote/intake/router"
	"github.com/lakayvote/intake/store"
	"github.com/lakayvote/intake/tally"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if len(os.Args) > 1 && os.Args[1] == "operator-token" {
		if err := issueOperatorToken(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	// Parse configuration
	cfg, err := cliparse.ParseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func newLogger(cfg cliparse.Config) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	if cfg.Env == "production" {
		zcfg = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	zcfg.Level = level
	return zcfg.Build()
}

func run(ctx context.Context, cfg cliparse.Config, logger *zap.Logger) error {
	dbConn, err := db.Open(ctx, cfg.DatabaseType, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	applied, err := db.Migrate(ctx, dbConn, cfg.DatabaseType)
	if err != nil {
		return err
	}
	logger.Info("database schema ready",
		zap.String("type", cfg.DatabaseType),
		zap.Strings("applied", applied))

	keys, err := auth.DeriveKeys(cfg.Secret)
	if err != nil {
		return err
	}

	clock := clockwork.NewRealClock()
	st := store.New(dbConn, cfg.DatabaseType)

	// Seed the live counters from the persisted ones
	counter := tally.NewCounter(clock)
	refresher := tally.NewRefresher(counter, st, clock, cfg.StatsRefresh, logger.Named("tally"))
	if err := refresher.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to load tally: %w", err)
	}

	var sender notify.Sender
	if cfg.NotifyWebhookURL != "" {
		sender = notify.NewRetrying(notify.NewWebhook(cfg.NotifyWebhookURL, 5*time.Second), 3, 250*time.Millisecond, logger.Named("notify"))
	} else {
		logger.Warn("NOTIFY_WEBHOOK_URL not set, codes are only logged as digests")
		sender = notify.NewLogOutbox(logger.Named("notify"))
	}

	var lookup reputation.Lookup = reputation.Unknown{}
	if cfg.ReputationURL != "" {
		lookup = reputation.NewSafe(reputation.NewHTTPLookup(cfg.ReputationURL, 2*time.Second), 750*time.Millisecond, logger.Named("reputation"))
	}

	gw := gateway.New(st, sender, keys.Code, clock, gateway.Config{
		CodeTTL:        cfg.CodeTTL,
		ResendCooldown: cfg.ResendCooldown,
		AttemptTTL:     cfg.AttemptTTL,
		MaxResends:     cfg.MaxResends,
		MaxFailures:    cfg.MaxCodeFailures,
	}, logger.Named("gateway"))
	limiter := ratelimit.New(clock, cfg.Budgets, 12)

	machine := intake.NewMachine(st, gw, limiter, counter, lookup, keys, clock, intake.Config{
		MinAge:        cfg.MinAge,
		Candidates:    cfg.Candidates,
		BlockDuration: cfg.BlockDuration,
		Policy:        cfg.Policy,
	}, logger.Named("intake"))
	sweeper := intake.NewSweeper(st, limiter, clock, cfg.SweepInterval, cfg.AttemptTTL, cfg.AttemptRetention, logger.Named("sweeper"))

	server := &http.Server{
		Handler:           router.NewRouter(machine, counter, cfg, logger.Named("http")),
		Addr:              ":" + strconv.Itoa(cfg.Port),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.Int("port", cfg.Port), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error { return refresher.Run(gctx) })

	return g.Wait()
}

// issueOperatorToken prints a signed operator token for the admin API.
func issueOperatorToken(args []string) error {
	fs := flag.NewFlagSet("operator-token", flag.ContinueOnError)
	name := fs.String("name", "", "Operator name recorded on overrides")
	ttl := fs.Duration("ttl", 12*time.Hour, "Token lifetime")
	secret := fs.String("admin-secret", "", "Operator JWT secret (prefer ADMIN_JWT_SECRET env)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *secret == "" {
		*secret = os.Getenv("ADMIN_JWT_SECRET")
	}
	if *secret == "" {
		return errors.New("ADMIN_JWT_SECRET required")
	}
	if strings.TrimSpace(*name) == "" {
		return errors.New("-name required")
	}

	token, err := auth.IssueOperatorToken(*secret, strings.TrimSpace(*name), *ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// Package runtime assembles the service from configuration: storage,
// gateway, services, HTTP surface and lifecycle management.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/marbledao/market-layer/internal/app"
	"github.com/marbledao/market-layer/internal/app/domain/market"
	"github.com/marbledao/market-layer/internal/app/domain/staking"
	"github.com/marbledao/market-layer/internal/app/gateway"
	"github.com/marbledao/market-layer/internal/app/httpapi"
	"github.com/marbledao/market-layer/internal/app/metrics"
	"github.com/marbledao/market-layer/internal/app/storage/memory"
	"github.com/marbledao/market-layer/internal/app/storage/postgres"
	"github.com/marbledao/market-layer/internal/app/system"
	"github.com/marbledao/market-layer/internal/config"
	"github.com/marbledao/market-layer/internal/httpserver"
	"github.com/marbledao/market-layer/pkg/logger"
)

// Application is the fully assembled service.
type Application struct {
	cfg     *config.Config
	log     *logger.Logger
	db      *sql.DB
	manager *system.Manager
}

// New loads configuration (path from CONFIG_PATH, optional) and builds
// the application.
func New() (*Application, error) {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	var (
		db     *sql.DB
		stores app.Stores
	)
	if cfg.Database.DSN != "" {
		db, err = openDatabase(cfg.Database)
		if err != nil {
			return nil, err
		}
		pg := postgres.New(db)
		if err := pg.EnsureSchema(context.Background()); err != nil {
			db.Close()
			return nil, err
		}
		stores = app.Stores{Sales: pg, Staking: pg, Configs: pg, Intents: pg}
		log.Info("using postgres storage")
	} else {
		mem := memory.New()
		stores = app.Stores{Sales: mem, Staking: mem, Configs: mem, Intents: mem}
		log.Info("using in-memory storage")
	}

	var sink interface {
		gateway.Deliverer
		gateway.BalanceReader
	}
	if cfg.Gateway.Endpoint != "" {
		sink = gateway.NewHTTPClient(cfg.Gateway.Endpoint, cfg.Gateway.APIKey, cfg.Gateway.Timeout.Std())
		log.WithField("endpoint", cfg.Gateway.Endpoint).Info("using http gateway")
	} else {
		sink = gateway.NewMemory()
		log.Info("using in-memory gateway")
	}

	application := app.New(stores, sink, log)
	if err := application.Seed(context.Background(), market.Config{
		Owner:             cfg.Market.Owner,
		Royalties:         cfg.Market.Royalties,
		RoyaltyCeilingPPM: cfg.Market.RoyaltyCeilingPPM,
		Enabled:           cfg.Market.Enabled,
	}, staking.Config{
		Owner:             cfg.Staking.Owner,
		RewardDenom:       cfg.Staking.RewardDenom,
		RewardPerInterval: cfg.Staking.RewardPerInterval,
		Interval:          cfg.Staking.Interval,
		LockTime:          cfg.Staking.LockTime,
		PoolAccount:       cfg.Staking.PoolAccount,
		Enabled:           cfg.Staking.Enabled,
	}); err != nil {
		if db != nil {
			db.Close()
		}
		return nil, err
	}

	m := metrics.New()
	handler := buildHandler(application, cfg, m, log)

	manager := system.NewManager(log)
	manager.Register(gateway.NewDispatcher(stores.Intents, sink, cfg.Gateway.PollInterval.Std(), log))
	manager.Register(httpserver.New(cfg.Server, handler, log))

	return &Application{cfg: cfg, log: log, db: db, manager: manager}, nil
}

// Run starts every component and blocks until the context is cancelled.
func (a *Application) Run(ctx context.Context) error {
	if err := a.manager.StartAll(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	a.manager.StopAll(stopCtx)
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("close database")
		}
	}
	return nil
}

func buildHandler(application *app.Application, cfg *config.Config, m *metrics.Metrics, log *logger.Logger) http.Handler {
	api := httpapi.New(application.Market, application.Staking, m, log)

	var handler http.Handler = api
	if cfg.RateLimit.Enabled {
		handler = httpapi.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst).Wrap(handler)
	}
	handler = httpapi.WrapWithAuth(handler, cfg.Auth.Tokens)
	handler = m.InstrumentHandler(handler)

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/", handler)
	return mux
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Std())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

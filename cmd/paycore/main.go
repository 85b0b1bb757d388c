package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/subledger/paycore/modules/billing"
	"github.com/subledger/paycore/pkg/config"
	"github.com/subledger/paycore/pkg/environment"
	"github.com/subledger/paycore/pkg/httpserver"
	"github.com/subledger/paycore/pkg/logger"
	"github.com/subledger/paycore/pkg/metrics"
	"github.com/subledger/paycore/pkg/pg"
	"github.com/subledger/paycore/pkg/redis"
	"github.com/subledger/paycore/pkg/requestid"
	"github.com/subledger/paycore/pkg/subscription"
	"github.com/subledger/paycore/pkg/subscription/pgstore"
	"github.com/subledger/paycore/pkg/subscription/sessioncache"
)

type appConfig struct {
	Env         string `env:"APP_ENV" envDefault:"development"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"paycore"`

	Processor          string  `env:"PROCESSOR" envDefault:"stripe"`
	ProcessorRateLimit float64 `env:"PROCESSOR_RATE_LIMIT" envDefault:"20"`
	ProcessorBurst     int     `env:"PROCESSOR_RATE_BURST" envDefault:"10"`

	PlanCatalogPath string `env:"PLAN_CATALOG_PATH"`
	IdentityHeader  string `env:"IDENTITY_HEADER" envDefault:"X-User-ID"`
	BasePath        string `env:"BILLING_BASE_PATH" envDefault:"/billing"`
}

func main() {
	app := config.MustLoad[appConfig]()
	env := environment.Parse(app.Env)

	log := logger.New(
		logger.WithEnvironment(env, app.ServiceName),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	)
	logger.SetAsDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, app, log); err != nil {
		log.ErrorContext(ctx, "paycore stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, app appConfig, log *slog.Logger) error {
	pgCfg := config.MustLoad[pg.Config]()
	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if pgCfg.MigrateOnStart {
		if err := pg.Migrate(ctx, pool, pgstore.Migrations, pgCfg, log); err != nil {
			return err
		}
	}

	rdb, err := redis.Connect(ctx, config.MustLoad[redis.Config]())
	if err != nil {
		return err
	}
	defer rdb.Close()

	base, err := newProcessor(app.Processor)
	if err != nil {
		return err
	}
	proc := sessioncache.New(
		subscription.RateLimited(base, rate.NewLimiter(rate.Limit(app.ProcessorRateLimit), app.ProcessorBurst)),
		rdb,
		config.MustLoad[sessioncache.Config](),
		sessioncache.WithLogger(log),
	)

	collector := metrics.New()
	store := pgstore.New(pool)
	svc := subscription.NewService(store, proc, config.MustLoad[subscription.Config](),
		subscription.WithLogger(log),
		subscription.WithRecorder(collector),
	)

	if app.PlanCatalogPath != "" {
		plans, err := subscription.LoadCatalogFile(app.PlanCatalogPath)
		if err != nil {
			return err
		}
		if err := subscription.SyncCatalog(ctx, store, plans); err != nil {
			return err
		}
		log.InfoContext(ctx, "plan catalog synced", slog.Int("plans", len(plans)))
	}

	srv := httpserver.NewFromConfig(config.MustLoad[httpserver.Config](), httpserver.WithLogger(log))
	log.InfoContext(ctx, "paycore starting",
		logger.Processor(base.Name()),
		slog.String("addr", srv.Addr()),
	)
	return srv.Run(ctx, routes(app, log, svc, collector, pool, rdb))
}

func newProcessor(name string) (subscription.Processor, error) {
	switch name {
	case "stripe":
		p, err := subscription.NewStripeProcessor(config.MustLoad[subscription.StripeConfig](), &http.Client{})
		if err != nil {
			return nil, err
		}
		return p, nil
	case "paddle":
		p, err := subscription.NewPaddleProcessor(config.MustLoad[subscription.PaddleConfig]())
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown payment processor %q", name)
	}
}

func routes(app appConfig, log *slog.Logger, svc *subscription.Service, collector *metrics.Collector, pool *pgxpool.Pool, rdb *goredis.Client) http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware, collector.Middleware)

	r.Get("/health/live", httpserver.Liveness())
	r.Get("/health/ready", httpserver.Readiness(log,
		httpserver.Check{Name: "postgres", Fn: pg.Healthcheck(pool)},
		httpserver.Check{Name: "redis", Fn: redis.Healthcheck(rdb)},
	))
	r.Method(http.MethodGet, "/metrics", collector.Handler())

	r.Mount(app.BasePath, billing.Router(svc,
		billing.WithLogger(log),
		billing.WithIdentityHeader(app.IdentityHeader),
	))
	return r
}

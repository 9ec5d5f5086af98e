package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"marketsales/internal/aggregate"
	apihttp "marketsales/internal/api/http"
	"marketsales/internal/api/http/handlers"
	"marketsales/internal/api/http/mw"
	"marketsales/internal/config"
	"marketsales/internal/domain"
	"marketsales/internal/feed"
	"marketsales/internal/metrics"
	"marketsales/internal/pipeline"
	"marketsales/internal/pubsub"
	natspub "marketsales/internal/pubsub/nats"
	"marketsales/internal/security"
	"marketsales/internal/stores/clickhouse"
	redisstore "marketsales/internal/stores/redis"
	"marketsales/internal/window"

	"github.com/prometheus/client_golang/prometheus"
	lgcfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"
)

type Container struct {
	app *App

	// infra, optional parts stay nil when not configured
	redis    *redisstore.Client
	ch       *clickhouse.Conn
	chWriter *clickhouse.Writer
	nc       *natspub.Client

	httpSrv *apihttp.Server
}

func (c *Container) Start() error {
	return c.app.Start()
}

func (c *Container) Stop(ctx context.Context) error {
	if err := c.app.Shutdown(ctx); err != nil {
		return fmt.Errorf("app shutdown is failed, error=%w", err)
	}
	return nil
}

// Build assembles the whole container from config.
func Build(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	lg := logger.New(lgcfg.LoggerCfg{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	lg.Info("Successfully initialize logger")

	met := metrics.New(prometheus.DefaultRegisterer)

	dataDir := cfg.App.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}

	calc, err := windowCalculator(&cfg.Window)
	if err != nil {
		return nil, nil, err
	}

	apiKeyEnv := cfg.Feed.APIKeyEnv
	if apiKeyEnv == "" {
		apiKeyEnv = "SM_API_KEY"
	}
	feedClient, err := feed.NewClient(lg, &cfg.Feed, os.Getenv(apiKeyEnv))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize feed client: %w", err)
	}
	lg.Infof("Successfully initialize feed client, url=%s", cfg.Feed.URL)

	tokens := make(domain.TokenTable, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		tokens[strings.ToLower(t.Address)] = domain.TokenInfo{Symbol: t.Symbol, Decimals: t.Decimals}
	}

	cats := make([]domain.Category, 0, len(cfg.Categories))
	for _, c := range cfg.Categories {
		cats = append(cats, domain.Category{
			Name:         c.Name,
			TokenAddress: c.TokenAddress,
			WithQuantity: c.WithQuantity,
		})
	}

	// optional NATS broadcast
	var nc *natspub.Client
	if cfg.PubSub.NATS.URL != "" {
		if nc, err = natspub.New(lg, &cfg.PubSub.NATS); err != nil {
			return nil, nil, fmt.Errorf("failed to initialize nats client: %w", err)
		}
		lg.Infof("Successfully initialize nats client, url=%s", cfg.PubSub.NATS.URL)
	}

	// optional ClickHouse archive
	var chConn *clickhouse.Conn
	var chWriter *clickhouse.Writer
	if cfg.Stores.ClickHouse.DSN != "" {
		if chConn, err = clickhouse.New(ctx, &cfg.Stores.ClickHouse); err != nil {
			return nil, nil, fmt.Errorf("failed to initialize clickhouse client: %w", err)
		}
		chWriter = clickhouse.NewWriter(lg, chConn.Native, calc, cfg.Stores.ClickHouse.Writer)
		lg.Info("Successfully initialize clickhouse archive writer")
	}

	var sinks []pipeline.RecordSink
	if nc != nil {
		sinks = append(sinks, nc)
	}
	if chWriter != nil {
		sinks = append(sinks, chWriter)
	}

	workers := make([]Worker, 0, 2*len(cats))
	for _, cat := range cats {
		workers = append(workers, pipeline.New(
			lg, met, cat,
			feed.ForCategory(feedClient, cat.TokenAddress),
			tokens, calc, dataDir, cfg.Ingest,
			sinks...,
		))
		workers = append(workers, aggregate.New(lg, cat, dataDir, calc, cfg.Rollup.Interval))
	}
	lg.Infof("Successfully initialize %d category pipelines", len(cats))

	// optional redis-backed rate limiting
	var rdb *redisstore.Client
	var rateLimitMW *mw.RateLimitMiddleware
	var verifier *security.RS256Verifier

	if cfg.Security.JWT.Enabled {
		if verifier, err = security.NewRS256Verifier(&cfg.Security.JWT); err != nil {
			return nil, nil, fmt.Errorf("failed to initialize JWT verifier: %w", err)
		}
		lg.Info("Successfully initialize JWT verifier")
	}

	if cfg.RateLimit.Enabled {
		if rdb, err = redisstore.New(ctx, &cfg.Stores.Redis); err != nil {
			return nil, nil, fmt.Errorf("failed to initialize redis client: %w", err)
		}
		rateLimitMW = mw.NewRateLimit(rdb.Client, mw.RateLimitConfig{
			ByJWT: mw.RateBucket{
				RefillPerSec: cfg.RateLimit.ByJWT.RefillPerSec,
				Burst:        cfg.RateLimit.ByJWT.Burst,
			},
			ByIP: mw.RateBucket{
				RefillPerSec: cfg.RateLimit.ByIP.RefillPerSec,
				Burst:        cfg.RateLimit.ByIP.Burst,
			},
			Verifier: verifier,
		})
		lg.Info("Successfully initialize redis rate limiter")
	}

	var jwtMW *mw.JWTMiddleware
	if verifier != nil {
		jwtMW = mw.NewJWT(verifier)
	}
	var corsMW *mw.CORSMiddleware
	if cfg.API.HTTP.CORS.Enabled {
		corsMW = mw.NewCORS(&cfg.API.HTTP.CORS)
	}

	files := handlers.NewFiles(lg, dataDir, cats, calc)

	dep := &depChecker{redis: rdb, ch: chConn}
	if nc != nil {
		dep.nats = nc
	}
	health := handlers.NewHealth(lg, dep)

	router := apihttp.BuildRouter(
		files, health, cats,
		mw.NewLogging(lg),
		mw.NewGzip(0, lg),
		corsMW,
		rateLimitMW,
		jwtMW,
	)
	httpSrv := apihttp.NewServer(lg, &cfg.API.HTTP, router)
	lg.Info("Successfully initialize HTTP server")

	c := &Container{
		app:      New(lg, httpSrv, workers...),
		redis:    rdb,
		ch:       chConn,
		chWriter: chWriter,
		nc:       nc,
		httpSrv:  httpSrv,
	}

	cleanupF := func() {
		ctxClean, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if chWriter != nil {
			if err := chWriter.Close(ctxClean); err != nil {
				lg.Errorf("Failed to close clickhouse writer: %v", err)
			}
		}
		if chConn != nil {
			if err := chConn.Close(); err != nil {
				lg.Errorf("Failed to close clickhouse client: %v", err)
			}
		}
		if nc != nil {
			if err := nc.Close(); err != nil {
				lg.Errorf("Failed to close nats client: %v", err)
			}
		}
		if rdb != nil {
			if err := rdb.Close(); err != nil {
				lg.Errorf("Failed to close redis client: %v", err)
			}
		}

		lg.Info("Successfully cleaned up dependency")
	}

	lg.Info("Successfully initialize Wiring")
	return c, cleanupF, nil
}

func windowCalculator(cfg *config.WindowConfig) (window.Calculator, error) {
	anchor := window.DefaultAnchor
	if cfg.Anchor != "" {
		parsed, err := time.Parse(time.RFC3339, cfg.Anchor)
		if err != nil {
			return window.Calculator{}, fmt.Errorf("invalid window.anchor: %w", err)
		}
		anchor = parsed
	}
	return window.NewCalculator(anchor, cfg.Length), nil
}

// depChecker pings whichever optional collaborators are wired.
type depChecker struct {
	redis *redisstore.Client
	nats  pubsub.Broadcaster
	ch    *clickhouse.Conn
}

func (d *depChecker) CheckDependency(ctx context.Context) error {
	var failures []string

	if d.redis != nil {
		if err := d.redis.Ping(ctx).Err(); err != nil {
			failures = append(failures, fmt.Sprintf("redis: %v", err))
		}
	}
	if d.nats != nil {
		if err := d.nats.Health(ctx); err != nil {
			failures = append(failures, fmt.Sprintf("nats: %v", err))
		}
	}
	if d.ch != nil {
		if err := d.ch.Native.Ping(ctx); err != nil {
			failures = append(failures, fmt.Sprintf("clickhouse: %v", err))
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("dependency check failed: %s", strings.Join(failures, "; "))
	}
	return nil
}

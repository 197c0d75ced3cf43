package cli

import (
	"context"
	"fmt"
	"time"

	"exam-runner/internal/app"
	"exam-runner/internal/config"
	"exam-runner/internal/gateway"
	"exam-runner/internal/infra/memory"
	"exam-runner/internal/infra/postgres"
	redisinfra "exam-runner/internal/infra/redis"
	"exam-runner/internal/logger"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// runtime bundles the collaborators shared by the subcommands.
type runtime struct {
	cfg     config.Config
	log     zerolog.Logger
	gateway *gateway.Client
	redis   *redis.Client
	pool    *pgxpool.Pool
	journal *postgres.ReceiptJournal
}

func loadRuntime(ctx context.Context, configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.Setup(cfg.Log.Level, cfg.Log.Format)

	gw, err := gateway.New(gateway.Config{
		BaseURL: cfg.Gateway.URL,
		Token:   cfg.Gateway.Token,
		Timeout: config.TTLDuration(cfg.Gateway.Timeout, 15*time.Second),
	}, log)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, log: log, gateway: gw}

	if cfg.Redis.Addr != "" {
		rt.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rt.redis.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unavailable, using in-memory stores")
			_ = rt.redis.Close()
			rt.redis = nil
		}
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			rt.close()
			return nil, err
		}
		rt.pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		rt.journal = postgres.NewReceiptJournal(rt.pool)
	}
	return rt, nil
}

// newService wires the exam service onto redis when available, memory otherwise.
func (rt *runtime) newService() *app.ExamService {
	cacheTTL := config.TTLDuration(rt.cfg.Exam.CacheTTL, 5*time.Minute)
	draftTTL := config.TTLDuration(rt.cfg.Redis.TTL, 24*time.Hour)

	opts := app.ServiceOptions{
		Catalog:       rt.gateway,
		Admin:         rt.gateway,
		Retry:         rt.retryPolicy(),
		EnforceWindow: rt.cfg.Session.EnforceWindow,
		Logger:        &rt.log,
	}
	if rt.journal != nil {
		opts.Journal = rt.journal
	}

	var sessions app.SessionRepository
	if rt.redis != nil {
		sessions = redisinfra.NewSessionStore(rt.redis, draftTTL)
		opts.Exams = redisinfra.NewExamCache(rt.redis, rt.gateway, cacheTTL, rt.log)
		opts.Drafts = redisinfra.NewDraftStore(rt.redis, draftTTL)
	} else {
		sessions = memory.NewSessionStore()
		opts.Exams = memory.NewExamCache(rt.gateway, cacheTTL)
		opts.Drafts = memory.NewDraftStore()
	}
	return app.NewExamService(sessions, rt.gateway, opts)
}

func (rt *runtime) retryPolicy() app.RetryPolicy {
	return app.RetryPolicy{
		MaxAttempts: rt.cfg.Session.MaxSubmitAttempts,
		Backoff:     config.TTLDuration(rt.cfg.Session.RetryBackoff, 2*time.Second),
	}
}

func (rt *runtime) close() {
	if rt.pool != nil {
		rt.pool.Close()
	}
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
}

// Package bootstrap assembles the send pipeline from configuration. Both
// binaries use it so the API and the worker agree on stores, quota subject
// and lock backend.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/ignite/fanmail/internal/config"
	"github.com/ignite/fanmail/internal/pkg/distlock"
	"github.com/ignite/fanmail/internal/pkg/logger"
	"github.com/ignite/fanmail/internal/queue"
	"github.com/ignite/fanmail/internal/quota"
	"github.com/ignite/fanmail/internal/repository/memory"
	"github.com/ignite/fanmail/internal/repository/postgres"
	"github.com/ignite/fanmail/internal/service/campaign"
	"github.com/ignite/fanmail/internal/service/fan"
	"github.com/ignite/fanmail/internal/service/segment"
	"github.com/ignite/fanmail/internal/service/sending"
	"github.com/ignite/fanmail/internal/worker"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

// Stack is the wired pipeline. DB and Redis are nil when not configured.
type Stack struct {
	Config    *config.Config
	DB        *sql.DB
	Redis     *redis.Client
	Quota     *quota.Controller
	Queue     queue.Store
	Locks     distlock.Factory
	Campaigns *campaign.Service
	Audience  *fan.Service
	Segments  *segment.Service
	Sending   *sending.Service
}

// ConfigureLogger applies the log section to the process-wide logger.
func ConfigureLogger(cfg config.LogConfig) {
	logger.SetLevel(logger.ParseLevel(cfg.Level))
	logger.SetRedactPII(!cfg.DisablePII)
}

// Open connects to the configured backends and builds the services.
// Without DATABASE_URL the repositories are in memory; without REDIS_URL
// the quota counters, queue and locks are in process, which only works
// when the worker runs inside the same process.
func Open(ctx context.Context, cfg *config.Config) (*Stack, error) {
	s := &Stack{Config: cfg}

	if cfg.Database.URL != "" {
		db, err := openDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		s.DB = db
		log.Println("Connected to database")
	} else {
		log.Println("DATABASE_URL not set, using in-memory repositories")
	}

	if cfg.Redis.URL != "" {
		rdb, err := openRedis(ctx, cfg.Redis.URL)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Redis = rdb
		s.Queue = queue.NewRedisStore(rdb)
		s.Quota = quota.NewController(quota.NewRedisStore(rdb), limits(cfg.Quota))
		log.Println("Connected to Redis")
	} else {
		s.Queue = queue.NewMemoryStore()
		s.Quota = quota.NewController(quota.NewMemoryStore(), limits(cfg.Quota))
		log.Println("REDIS_URL not set, using in-process queue and quota counters")
	}
	s.Locks = distlock.NewFactory(s.Redis, s.DB)

	var (
		campaignRepo campaign.Repository
		fanRepo      fan.Repository
		segmentRepo  segment.Repository
	)
	if s.DB != nil {
		campaignRepo = postgres.NewCampaignRepo(s.DB)
		fanRepo = postgres.NewFanRepo(s.DB)
		segmentRepo = postgres.NewSegmentRepo(s.DB)
	} else {
		campaignRepo = memory.NewCampaignRepo()
		fanRepo = memory.NewFanRepo()
		segmentRepo = memory.NewSegmentRepo()
	}

	s.Campaigns = campaign.NewService(campaignRepo)
	s.Audience = fan.NewService(fanRepo)
	s.Segments = segment.NewService(segmentRepo, s.Audience)

	verifier, err := s.domainVerifier(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Sending = sending.NewService(sending.Deps{
		Campaigns: s.Campaigns,
		Audience:  s.Audience,
		Segments:  s.Segments,
		Quota:     s.Quota,
		Queue:     s.Queue,
		Verifier:  verifier,
		Locks:     s.Locks,
	}, sending.Config{
		QuotaKey:              s.QuotaKey(),
		DefaultBatchSize:      cfg.Sending.DefaultBatchSize,
		MaxBatchSize:          cfg.Sending.MaxBatchSize,
		RequireVerifiedDomain: cfg.Sending.RequireVerifiedDomain,
		LockTTL:               cfg.Worker.LockTTL(),
		LockWait:              cfg.Sending.LockWait(),
	})
	return s, nil
}

// QuotaKey is the quota subject: one counter pair per provider account.
func (s *Stack) QuotaKey() string {
	if s.Config.Sending.Provider == "" {
		return "log"
	}
	return s.Config.Sending.Provider
}

// NewWorker builds a SendWorker for the configured provider.
func (s *Stack) NewWorker(ctx context.Context) (*worker.SendWorker, error) {
	cfg := s.Config
	sender, err := worker.NewSender(ctx, worker.ProviderConfig{
		Provider:        cfg.Sending.Provider,
		SESRegion:       cfg.SES.Region,
		SESAccessKey:    cfg.SES.AccessKey,
		SESSecretKey:    cfg.SES.SecretKey,
		SparkPostAPIKey: cfg.SparkPost.APIKey,
		SparkPostURL:    cfg.SparkPost.BaseURL,
	})
	if err != nil {
		return nil, err
	}
	return worker.NewSendWorker(worker.Deps{
		Queue:     s.Queue,
		Quota:     s.Quota,
		Campaigns: s.Campaigns,
		Sender:    sender,
		Locks:     s.Locks,
	}, worker.Config{
		Workers:      cfg.Worker.Workers,
		Concurrency:  cfg.Worker.Concurrency,
		SendTimeout:  cfg.Worker.SendTimeout(),
		LeaseTTL:     cfg.Worker.Lease(),
		LockTTL:      cfg.Worker.LockTTL(),
		RecoverySpec: cfg.Worker.RecoverySpec,
		QuotaKey:     s.QuotaKey(),
		MaxErrors:    cfg.Worker.MaxErrors,
	}), nil
}

// Close releases the database and Redis connections.
func (s *Stack) Close() {
	if s.Redis != nil {
		s.Redis.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}

func (s *Stack) domainVerifier(ctx context.Context) (sending.DomainVerifier, error) {
	cfg := s.Config
	switch {
	case cfg.Sending.Provider == "ses" && cfg.Sending.RequireVerifiedDomain:
		v, err := worker.NewSESDomainVerifierFromConfig(ctx, cfg.SES.Region, cfg.SES.AccessKey, cfg.SES.SecretKey)
		if err != nil {
			return nil, fmt.Errorf("ses domain verifier: %w", err)
		}
		return v, nil
	case s.DB != nil:
		return postgres.NewSendingDomainRepo(s.DB), nil
	default:
		return memory.NewDomainVerifier(), nil
	}
}

func limits(c config.QuotaConfig) quota.Limits {
	return quota.Limits{Daily: c.DailyLimit, Window: c.WindowLimit, WindowSize: c.WindowSize()}
}

func openDB(ctx context.Context, c config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", c.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetMaxIdleConns(c.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

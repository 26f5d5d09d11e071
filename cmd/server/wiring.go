package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"splitvault/internal/ledger"
	"splitvault/internal/platform/config"
	"splitvault/internal/platform/kafka"
	"splitvault/internal/platform/lock"
	"splitvault/internal/platform/postgres"
	"splitvault/internal/platform/redis"
	ratelimit "splitvault/internal/ratelimit/middleware"
	rlmodels "splitvault/internal/ratelimit/models"
	"splitvault/internal/ratelimit/store/bucket"
	pcservice "splitvault/internal/platformconfig/service"
	pcmemory "splitvault/internal/platformconfig/store/memory"
	pcpostgres "splitvault/internal/platformconfig/store/postgres"
	"splitvault/internal/settlement/ports"
	"splitvault/internal/settlement/service"
	escrowstore "splitvault/internal/settlement/store/escrow"
	poolstore "splitvault/internal/settlement/store/pool"
	"splitvault/pkg/domain"
	audit "splitvault/pkg/platform/audit"
	"splitvault/pkg/platform/audit/outbox"
	auditmemory "splitvault/pkg/platform/audit/store/memory"
	auditpostgres "splitvault/pkg/platform/audit/store/postgres"
	"splitvault/pkg/platform/circuit"
)

// ledgerBackend is a settlement ledger that can also be seeded.
type ledgerBackend interface {
	ports.Ledger
	Credit(ctx context.Context, account domain.Identity, amount uint64) error
}

// infra is every backend the services run on, selected by configuration.
type infra struct {
	escrows     service.EscrowStore
	pools       service.PoolStore
	configStore pcservice.Store
	ledger      ledgerBackend
	auditStore  audit.Store
	tx          ports.TxRunner
	relay       *outbox.Relay

	db       *sql.DB
	redis    *redis.Client
	producer *kafka.Producer
}

func buildInfra(ctx context.Context, cfg config.Config, log *slog.Logger) (*infra, error) {
	in := &infra{}
	var dbRunner lock.Runner

	switch cfg.Backend {
	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.Postgres.DSN, postgres.PoolConfig{
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		in.db = db
		if err := postgres.Migrate(db); err != nil {
			in.Close()
			return nil, err
		}
		in.escrows = escrowstore.NewPostgres(db)
		in.pools = poolstore.NewPostgres(db)
		in.configStore = pcpostgres.New(db)
		in.ledger = ledger.NewPostgres(db)
		in.auditStore = auditpostgres.New(db)
		dbRunner = postgres.NewTxRunner(db, cfg.LockTimeout)
	default:
		in.escrows = escrowstore.NewInMemoryStore()
		in.pools = poolstore.NewInMemoryStore()
		in.configStore = pcmemory.New()
		in.ledger = ledger.NewInMemory()
		in.auditStore = auditmemory.NewInMemoryStore()
	}

	switch cfg.LockBackend {
	case config.LockRedis:
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			in.Close()
			return nil, err
		}
		in.redis = client
		opts := []lock.RedisOption{lock.WithLogger(log), lock.WithTimeout(cfg.LockTimeout)}
		if dbRunner != nil {
			opts = append(opts, lock.WithInner(dbRunner))
		}
		rl, err := lock.NewRedis(client.Client, opts...)
		if err != nil {
			in.Close()
			return nil, err
		}
		in.tx = rl
	default:
		if dbRunner != nil {
			in.tx = dbRunner
		} else {
			in.tx = lock.NewLocal(lock.WithLocalTimeout(cfg.LockTimeout))
		}
	}

	if in.redis == nil && cfg.Redis.URL != "" {
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			in.Close()
			return nil, err
		}
		in.redis = client
	}

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(kafka.Config{
			Brokers:           cfg.Kafka.Brokers,
			Topic:             cfg.Kafka.Topic,
			Partitions:        cfg.Kafka.Partitions,
			ReplicationFactor: cfg.Kafka.ReplicationFactor,
		},
			kafka.WithLogger(log),
			kafka.WithBreaker(circuit.New("kafka-producer", circuit.WithLogger(log))),
		)
		if err != nil {
			in.Close()
			return nil, err
		}
		in.producer = producer
		if err := producer.EnsureTopic(ctx, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor); err != nil {
			in.Close()
			return nil, fmt.Errorf("ensure audit topic: %w", err)
		}
		source, ok := in.auditStore.(outbox.Source)
		if !ok {
			in.Close()
			return nil, fmt.Errorf("audit store %T cannot feed the outbox relay", in.auditStore)
		}
		in.relay = outbox.NewRelay(source, producer,
			outbox.WithLogger(log),
			outbox.WithInterval(cfg.Kafka.RelayInterval),
			outbox.WithBatchSize(cfg.Kafka.RelayBatchSize),
		)
	}
	return in, nil
}

// buildRateLimiter shares the window through Redis when a client is
// configured, falling back to an in-process window while Redis is down.
func buildRateLimiter(cfg config.RateLimit, in *infra, log *slog.Logger) (*ratelimit.Middleware, error) {
	limit := rlmodels.Limit{RequestsPerWindow: cfg.Requests, Window: cfg.Window}
	opts := []ratelimit.Option{
		ratelimit.WithLogger(log),
		ratelimit.WithMetrics(ratelimit.NewMetrics()),
		ratelimit.WithDisabled(!cfg.Enabled),
	}
	if in.redis == nil {
		return ratelimit.New(bucket.NewInMemoryBucketStore(), limit, opts...)
	}
	primary, err := bucket.NewRedisStore(in.redis.Client)
	if err != nil {
		return nil, err
	}
	opts = append(opts,
		ratelimit.WithFallback(bucket.NewInMemoryBucketStore()),
		ratelimit.WithBreaker(circuit.New("ratelimit-redis", circuit.WithLogger(log))),
	)
	return ratelimit.New(primary, limit, opts...)
}

// Health reports the first unreachable backend.
func (in *infra) Health(ctx context.Context) error {
	if in.db != nil {
		if err := in.db.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if in.redis != nil {
		if err := in.redis.Health(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if in.producer != nil {
		if err := in.producer.Health(ctx); err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
	}
	return nil
}

func (in *infra) Close() {
	if in.producer != nil {
		in.producer.Close()
	}
	if in.redis != nil {
		_ = in.redis.Close()
	}
	if in.db != nil {
		_ = in.db.Close()
	}
}

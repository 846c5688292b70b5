package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arkheion-systems/arkheion-securing/internal/config"
	"github.com/arkheion-systems/arkheion-securing/internal/index"
	"github.com/arkheion-systems/arkheion-securing/internal/journal"
	"github.com/arkheion-systems/arkheion-securing/internal/notify"
	"github.com/arkheion-systems/arkheion-securing/internal/offers"
	"github.com/arkheion-systems/arkheion-securing/internal/securing"
	"github.com/arkheion-systems/arkheion-securing/internal/timestamp"
)

// services holds the wired collaborators of one process.
type services struct {
	journal      *journal.PostgresStore
	offers       *offers.FilesystemStore
	service      *securing.Service
	orchestrator *securing.Orchestrator
	verifier     *securing.Verifier

	publisher   *notify.Publisher
	redisClient *redis.Client
}

// close releases every held connection, last-wired first.
func (s *services) close() {
	if s.redisClient != nil {
		s.redisClient.Close()
	}
	if s.publisher != nil {
		s.publisher.Close()
	}
	if s.offers != nil {
		s.offers.Close()
	}
	if s.journal != nil {
		s.journal.Close()
	}
}

// buildServices wires the full securing stack from configuration. On error
// everything already opened is closed.
func buildServices(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*services, error) {
	s := &services{}
	ok := false
	defer func() {
		if !ok {
			s.close()
		}
	}()

	jstore, err := journal.NewPostgresStore(ctx, cfg.Database.Postgres.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to journal database: %w", err)
	}
	s.journal = jstore

	offerStore, err := offers.NewFilesystemStore(cfg.Offers.RootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open offer store: %w", err)
	}
	s.offers = offerStore

	var provider timestamp.Provider
	if cfg.Timestamp.URL != "" {
		provider = timestamp.NewHTTPProvider(cfg.Timestamp.URL, cfg.Timestamp.Timeout)
	} else {
		provider = timestamp.NewLocalSigner(cfg.Timestamp.Secret)
	}

	window, err := securing.NewWindowSelector(jstore,
		time.Duration(cfg.Securing.OverlapDelaySeconds)*time.Second)
	if err != nil {
		return nil, err
	}
	governor, err := securing.NewCapacityGovernor(cfg.Securing.MaxEntriesPerRun)
	if err != nil {
		return nil, err
	}
	packager := securing.NewPackager(offerStore, provider, cfg.Securing.HashAlgorithm)

	var opts []securing.ServiceOption
	if cfg.NATS.Enabled {
		natsCfg := notify.DefaultConfig()
		natsCfg.URL = cfg.NATS.URL
		publisher, err := notify.NewPublisher(natsCfg, logger)
		if err != nil {
			return nil, err
		}
		s.publisher = publisher
		opts = append(opts, securing.WithNotifier(publisher))
	}
	if cfg.OpenSearch.Enabled {
		indexer, err := index.NewClient(index.Config{
			URL:           cfg.OpenSearch.URL,
			Username:      cfg.OpenSearch.Username,
			Password:      cfg.OpenSearch.Password,
			TLSSkipVerify: cfg.OpenSearch.Insecure,
			IndexName:     index.DefaultConfig().IndexName,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, securing.WithIndexer(indexer))
	}

	s.service = securing.NewService(jstore, window, securing.NewChainLinker(jstore),
		governor, packager, logger, opts...)

	var locker securing.Locker
	if cfg.Redis.Enabled {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		s.redisClient = redis.NewClient(redisOpts)
		locker = securing.NewRunLock(s.redisClient, cfg.Redis.LockTTL)
	}

	s.orchestrator = securing.NewOrchestrator(s.service, jstore, locker,
		cfg.Securing.Tenants,
		time.Duration(cfg.Securing.PollIntervalMillis)*time.Millisecond,
		time.Duration(cfg.Securing.PollIntervalCapMillis)*time.Millisecond,
		logger)

	s.verifier = securing.NewVerifier(offerStore, cfg.Securing.HashAlgorithm)

	ok = true
	return s, nil
}

package factory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"merchant-verification/internal/audit"
	"merchant-verification/internal/bucketing"
	"merchant-verification/internal/client"
	"merchant-verification/internal/clock"
	"merchant-verification/internal/config"
	"merchant-verification/internal/encryption"
	"merchant-verification/internal/events"
	"merchant-verification/internal/fingerprint"
	"merchant-verification/internal/geo"
	"merchant-verification/internal/handler"
	"merchant-verification/internal/hashing"
	"merchant-verification/internal/notify"
	"merchant-verification/internal/repository/memory"
	redisrepo "merchant-verification/internal/repository/redis"
	"merchant-verification/internal/repository/scylla"
	"merchant-verification/internal/review"
	"merchant-verification/internal/service"
	"merchant-verification/internal/storage"
	"merchant-verification/internal/tls"
	"merchant-verification/internal/util"
)

type healthCheck struct {
	name     string
	check    func(ctx context.Context) error
	critical bool
}

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	clock      clock.Clock
	tlsManager *tls.TLSManager

	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	hasher            *hashing.Hasher
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager

	deps      service.Dependencies
	sessions  handler.SessionStore
	directory *memory.Directory // memory backend only

	serviceFactory *service.ServiceFactory
	checks         []healthCheck

	closeOnce sync.Once
}

// NewFactory builds every dependency for the configured store backend.
func NewFactory(ctx context.Context, cfg *config.Config) (*Factory, error) {
	f := &Factory{config: cfg, clock: clock.Real{}}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewTLSManager(cfg.Server)
	}

	f.initializeManagers()

	var err error
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		f.initializeMemory()
	case config.StoreBackendDistributed:
		err = f.initializeDistributed(ctx)
	default:
		err = fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	if err != nil {
		f.Close()
		return nil, err
	}

	if err := f.initializeOptional(ctx); err != nil {
		f.Close()
		return nil, err
	}

	f.deps.Cities = geo.NewCityResolverFromConfig(cfg.Geo)
	f.serviceFactory = service.NewServiceFactory(f.deps, f.hasher, cfg.Verification, f.clock, util.Get())

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("store_backend", cfg.StoreBackend),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
		util.Bool("kafka_enabled", f.kafkaProducer != nil),
		util.Bool("review_index_enabled", f.esClient != nil),
		util.Bool("audit_enabled", f.clickhouseClient != nil))

	return f, nil
}

func (f *Factory) initializeManagers() {
	f.hasher = hashing.NewHasher(f.config.Hashing)
	util.Info("OTP hasher ready",
		util.String("algorithm", f.hasher.Algorithm()),
		util.Duration("avg_hash_cost", f.hasher.Benchmark(3)))
	f.bucketingManager = bucketing.NewBucketingManager(f.config.Bucketing)
}

// initializeMemory runs the whole pipeline in process. Codes go to the log.
func (f *Factory) initializeMemory() {
	f.directory = memory.NewDirectory()
	documents := memory.NewDocumentStore()

	f.deps.Challenges = memory.NewChallengeStore()
	f.deps.Attempts = memory.NewAttemptLog()
	f.deps.Users = f.directory
	f.deps.Venues = f.directory
	f.deps.Profiles = f.directory
	f.deps.Documents = documents
	f.deps.Blobs = memory.NewBlobStore()
	f.deps.Sender = notify.LoggingSender{}
	f.sessions = memory.NewSessionStore()

	util.Warn("Running on in-memory stores; data is lost on restart")
}

func (f *Factory) initializeDistributed(ctx context.Context) error {
	cfg := f.config
	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	redisClient, err := client.NewRedisClient(cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	f.redisClient = redisClient
	f.addCheck("redis", redisClient.HealthCheck, true)

	scyllaClient, err := scylla.NewScyllaClient(cfg.Scylla, cfg.IsProduction())
	if err != nil {
		return fmt.Errorf("scylla: %w", err)
	}
	f.scyllaClient = scyllaClient
	if err := scyllaClient.EnsureSchema(initCtx); err != nil {
		return fmt.Errorf("scylla schema: %w", err)
	}
	f.addCheck("scylla", scyllaClient.HealthCheck, true)

	s3Client, err := storage.NewS3Client(initCtx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("s3: %w", err)
	}
	blobs, err := storage.NewS3BlobStore(s3Client, cfg.Storage)
	if err != nil {
		return fmt.Errorf("s3: %w", err)
	}
	f.addCheck("s3", blobs.HealthCheck, false)

	directory := scylla.NewDirectoryRepository(scyllaClient)

	f.deps.Challenges = redisrepo.NewChallengeStore(redisClient)
	f.deps.Attempts = redisrepo.NewAttemptLog(redisClient)
	f.deps.Users = directory
	f.deps.Venues = directory
	f.deps.Profiles = directory
	f.deps.Documents = scylla.NewDocumentRepository(scyllaClient, f.bucketingManager)
	f.deps.Blobs = blobs
	f.sessions = redisrepo.NewSessionStore(redisClient, cfg.Verification.SessionTTL)

	return nil
}

// initializeOptional wires the backends that can be switched off: Kafka
// delivery and events, the review index, attempt audit and KMS.
func (f *Factory) initializeOptional(ctx context.Context) error {
	cfg := f.config

	if cfg.IsProduction() && !cfg.KMS.Enabled {
		return errors.New("kms must be enabled to protect document numbers")
	}

	if cfg.Kafka.Enabled {
		producer, err := client.NewKafkaProducer(cfg.Kafka, cfg.IsProduction())
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		f.kafkaProducer = producer
		f.deps.Sender = notify.NewKafkaSender(producer, cfg.Kafka.OTPTopic)
		f.deps.Events = events.NewKafkaPublisher(producer, cfg.Kafka.EventsTopic)
		f.addCheck("kafka", producer.HealthCheck, true)
	} else if f.deps.Sender == nil {
		if cfg.IsProduction() {
			return errors.New("kafka must be enabled to deliver verification codes")
		}
		util.Warn("Kafka disabled; verification codes are written to the log")
		f.deps.Sender = notify.LoggingSender{}
	}

	if cfg.Elasticsearch.Enabled {
		esClient, err := client.NewElasticsearchClient(cfg.Elasticsearch, cfg.IsDevelopment())
		if err != nil {
			return fmt.Errorf("elasticsearch: %w", err)
		}
		f.esClient = esClient
		f.deps.Review = review.NewESReviewIndex(esClient, cfg.Elasticsearch.ReviewIndex)
		f.addCheck("elasticsearch", esClient.HealthCheck, false)
	}

	if cfg.Clickhouse.Enabled {
		chClient, err := client.NewClickHouseClient(ctx, cfg.Clickhouse, cfg.IsProduction())
		if err != nil {
			return fmt.Errorf("clickhouse: %w", err)
		}
		f.clickhouseClient = chClient
		sink := audit.NewClickHouseSink(chClient, f.bucketingManager)
		if err := sink.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("clickhouse schema: %w", err)
		}
		f.deps.Audit = sink
		f.addCheck("clickhouse", chClient.HealthCheck, false)
	}

	var kmsClient encryption.KMSAPI
	if cfg.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.KMS.Region))
		if err != nil {
			return fmt.Errorf("kms: %w", err)
		}
		kmsClient = kms.NewFromConfig(awsCfg)
	} else {
		util.Warn("KMS disabled; document numbers are stored with an unwrapped data key")
	}
	f.encryptionManager = encryption.NewEncryptionManager(cfg.KMS, kmsClient)
	if err := f.encryptionManager.SelfTest(ctx); err != nil {
		return fmt.Errorf("encryption self-test: %w", err)
	}
	f.deps.Encryptor = f.encryptionManager

	return nil
}

func (f *Factory) addCheck(name string, check func(ctx context.Context) error, critical bool) {
	f.checks = append(f.checks, healthCheck{name: name, check: check, critical: critical})
}

// HealthCheck probes every backend in parallel. Only critical backends fail
// readiness; the others are logged.
func (f *Factory) HealthCheck(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, hc := range f.checks {
		hc := hc
		g.Go(func() error {
			err := hc.check(gctx)
			if err == nil {
				return nil
			}
			if !hc.critical {
				util.Warn("Optional backend unhealthy", zap.String("backend", hc.name), zap.Error(err))
				return nil
			}
			return fmt.Errorf("%s: %w", hc.name, err)
		})
	}
	return g.Wait()
}

func (f *Factory) Close() {
	f.closeOnce.Do(func() {
		util.Info("Shutting down factory...")

		if f.clickhouseClient != nil {
			_ = f.clickhouseClient.Close()
		}
		if f.kafkaProducer != nil {
			_ = f.kafkaProducer.Close()
		}
		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}
		if f.redisClient != nil {
			_ = f.redisClient.Close()
		}
		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		util.Info("Factory shutdown completed")
	})
}

// Router wires the HTTP surface on top of the built services.
func (f *Factory) Router() (http.Handler, error) {
	if f.config.Auth.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	verification := handler.NewVerificationHandler(
		f.serviceFactory.Orchestrator(),
		f.sessions,
		fingerprint.NewDefaultStrategy(),
		f.clock,
		handler.UploadLimits{
			DocumentMaxBytes: f.config.Verification.DocumentMaxBytes,
			SelfieMaxBytes:   f.config.Verification.SelfieMaxBytes,
		},
		util.Get().Named("http"),
	)
	router := handler.NewRouter(handler.RouterConfig{
		ServiceName:       f.config.ServiceName,
		RequireTLS:        f.config.Server.EnableTLS && f.config.IsProduction(),
		AllowedOrigins:    f.config.Server.AllowedOrigins,
		RequestsPerMinute: f.config.Server.RequestsPerMinute,
	}, verification, handler.NewAuthenticator(f.config.Auth.JWTSecret, f.config.Auth.Issuer), f, util.Get())
	return router, nil
}

func (f *Factory) Config() *config.Config                  { return f.config }
func (f *Factory) TLSManager() *tls.TLSManager             { return f.tlsManager }
func (f *Factory) ServiceFactory() *service.ServiceFactory { return f.serviceFactory }

// Directory exposes the in-memory user and venue directory so development
// setups can seed venues. It is nil on the distributed backend.
func (f *Factory) Directory() *memory.Directory { return f.directory }

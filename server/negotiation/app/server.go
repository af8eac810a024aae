package app

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"negotiation_server/server/common/infra/cache"
	"negotiation_server/server/common/infra/db"
	"negotiation_server/server/common/infra/directory"
	"negotiation_server/server/common/infra/mq"
	"negotiation_server/server/common/infra/object"
	commonlog "negotiation_server/server/common/log"
	"negotiation_server/server/negotiation/api"
	"negotiation_server/server/negotiation/migrations"
	"negotiation_server/server/negotiation/repository"
	"negotiation_server/server/negotiation/service"
)

type Server struct {
	HTTPServer *http.Server
	Postgres   *pgxpool.Pool
	Redis      *redis.Client
	MQConn     *amqp.Connection
	Publisher  *mq.Publisher
}

type stores struct {
	sessions   service.SessionStore
	messages   service.MessageStore
	payments   service.PaymentStore
	visibility service.VisibilityStore
}

func NewServer(cfg Config) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s := &Server{}
	ok := false
	defer func() {
		if !ok {
			s.close()
		}
	}()

	st, err := s.openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var (
		counters service.CounterCache
		dedup    service.Idempotency
	)
	if cfg.RedisEnabled {
		s.Redis = cache.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := cache.Ping(ctx, s.Redis); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		counters = cache.NewHashCounters(s.Redis, "unread", service.UnreadCacheTTL)
		dedup = cache.NewIdempotency(s.Redis, "negotiation", service.MessageDedupTTL)
	} else {
		commonlog.Warnf("event=server_init action=redis status=disabled detail=unread_counts_uncached client_msg_id_dedup_off")
	}

	var publisher service.EventPublisher = service.NoopPublisher{}
	if cfg.UseMQ {
		s.MQConn, err = mq.NewConnection(cfg.LavinMQURL)
		if err != nil {
			return nil, fmt.Errorf("initialize lavinmq: %w", err)
		}
		s.Publisher, err = mq.NewPublisher(s.MQConn, cfg.EventsExchange)
		if err != nil {
			return nil, fmt.Errorf("initialize amqp publisher: %w", err)
		}
		publisher = s.Publisher
	}

	objects, err := openObjectStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var dir service.Directory = directory.AllowAll{}
	if len(cfg.DirectoryEndpoints) > 0 {
		client := directory.NewClient(directory.Options{Timeout: cfg.DirectoryTimeout}, cfg.DirectoryEndpoints...)
		dir = directory.NewService(client)
	} else {
		commonlog.Warnf("event=server_init action=directory status=disabled detail=every_party_allowed")
	}

	rooms := service.NewBroadcaster()
	unread := service.NewUnreadTracker(st.messages, counters)
	sessions := service.NewSessionRegistry(st.sessions, dir, unread)
	messages := service.NewMessageLog(sessions, st.messages, rooms, unread, publisher)

	h := api.NewHandler(api.Services{
		Sessions:   sessions,
		Messages:   messages,
		Payments:   service.NewPaymentWorkflow(sessions, st.payments, messages, rooms, publisher),
		Visibility: service.NewVisibilityMatrix(st.visibility, dir, publisher),
		Proofs:     service.NewProofStore(objects),
		Realtime:   service.NewRealtimeService(sessions, messages, rooms, dedup, cfg.CORSAllowedOrigins),
	}, cfg.JWTSecret, cfg.JWTTTLMinutes, cfg.AuthRequired)

	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	h.RegisterRoutes(r)

	s.HTTPServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      withCORS(r, cfg.CORSAllowedOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	commonlog.Infof("event=server_init action=ready status=ok store=%s redis=%t mq=%t minio=%t auth_required=%t", cfg.StoreDriver, cfg.RedisEnabled, cfg.UseMQ, cfg.MinioEnabled, cfg.AuthRequired)
	ok = true
	return s, nil
}

func (s *Server) openStores(ctx context.Context, cfg Config) (stores, error) {
	switch cfg.StoreDriver {
	case StoreDriverMemory:
		commonlog.Warnf("event=server_init action=store status=memory detail=data_is_not_persisted")
		m := repository.NewMemoryStore()
		return stores{sessions: m, messages: m, payments: m, visibility: m}, nil
	case StoreDriverPostgres:
		pool, err := db.NewPool(ctx, db.PoolConfig{
			DSN:             cfg.PostgresDSN,
			MaxConns:        int32(cfg.PostgresMaxConns),
			MaxConnLifetime: time.Hour,
		})
		if err != nil {
			return stores{}, fmt.Errorf("initialize postgres: %w", err)
		}
		s.Postgres = pool
		if cfg.AutoMigrate {
			if err := db.Migrate(ctx, pool, migrations.FS); err != nil {
				return stores{}, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		return stores{
			sessions:   repository.NewSessionRepository(pool),
			messages:   repository.NewMessageRepository(pool),
			payments:   repository.NewPaymentRepository(pool),
			visibility: repository.NewVisibilityRepository(pool),
		}, nil
	default:
		return stores{}, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

func openObjectStore(ctx context.Context, cfg Config) (service.ObjectStore, error) {
	if !cfg.MinioEnabled {
		commonlog.Warnf("event=server_init action=object_store status=memory detail=proofs_are_not_persisted")
		return object.NewMemoryStore(), nil
	}
	client, err := object.NewClient(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL)
	if err != nil {
		return nil, fmt.Errorf("initialize minio: %w", err)
	}
	if err := object.EnsureBucket(ctx, client, cfg.MinioBucket, cfg.MinioRegion); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", cfg.MinioBucket, err)
	}
	return object.NewStore(client, cfg.MinioBucket, cfg.MinioPrefix), nil
}

func withCORS(h http.Handler, origins []string) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: !slices.Contains(origins, "*"),
	}).Handler(h)
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.HTTPServer.Shutdown(ctx)
	s.close()
	return err
}

func (s *Server) close() {
	if s.Publisher != nil {
		s.Publisher.Close()
	}
	if s.MQConn != nil {
		_ = s.MQConn.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if s.Postgres != nil {
		s.Postgres.Close()
	}
}

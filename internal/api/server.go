package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/fueltek/workorder-api/internal/allocator"
	"github.com/fueltek/workorder-api/internal/config"
	"github.com/fueltek/workorder-api/internal/database"
	"github.com/fueltek/workorder-api/internal/events"
	"github.com/fueltek/workorder-api/internal/handlers"
	"github.com/fueltek/workorder-api/internal/repository"
	"github.com/fueltek/workorder-api/internal/service"
	syncworker "github.com/fueltek/workorder-api/internal/sync"
	"github.com/fueltek/workorder-api/pkg/circuitbreaker"
	"github.com/fueltek/workorder-api/pkg/kafka"
	"github.com/fueltek/workorder-api/pkg/logger"
)

// Server wires the stores, the allocator, the sync worker and the
// Kafka fan-out behind one HTTP surface.
type Server struct {
	config     *config.Config
	logger     logger.Logger
	router     *mux.Router
	httpServer *http.Server

	localDB  *database.Local
	remoteDB *database.Postgres // nil in local-only mode

	alloc         *allocator.Allocator
	orderService  *service.OrderService
	syncer        *syncworker.Syncer
	kafkaProducer *kafka.Producer
	kafkaConsumer *kafka.Consumer
}

// NewServer builds the full service graph from configuration. The
// remote store and Kafka are both optional: with neither configured the
// server runs entirely against the embedded database.
func NewServer(cfg *config.Config, log logger.Logger) (*Server, error) {
	localDB, err := database.NewLocal(cfg.LocalDBPath, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open local database: %w", err)
	}
	if err := localDB.RunMigrations(cfg.CounterFloor); err != nil {
		return nil, fmt.Errorf("failed to run local migrations: %w", err)
	}

	localOrders := repository.NewLocalOrderRepository(localDB, log)
	localCounter := repository.NewLocalCounterRepository(localDB, log)
	journalRepo := repository.NewJournalRepository(localDB, log)

	// One breaker instance shared by the allocator, the service and
	// the syncer so all remote callers agree on store health.
	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 3,
		ResetTimeout:     15 * time.Second,
		HalfOpenMaxCalls: 1,
	})

	var (
		remoteDB      *database.Postgres
		remoteBackend *allocator.Backend
		remoteStore   repository.RecordStore
	)
	if cfg.RemoteEnabled() {
		remoteDB, err = database.NewPostgres(cfg, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := remoteDB.RunMigrations(cfg.CounterFloor); err != nil {
			return nil, fmt.Errorf("failed to run database migrations: %w", err)
		}
		orderRepo := repository.NewOrderRepository(remoteDB, log)
		counterRepo := repository.NewCounterRepository(remoteDB, log)
		remoteBackend = &allocator.Backend{Orders: orderRepo, Counter: counterRepo}
		remoteStore = orderRepo
	} else {
		log.Warn("No remote database configured, running local-only")
	}

	alloc := allocator.New(
		remoteBackend,
		allocator.Backend{Orders: localOrders, Counter: localCounter},
		breaker,
		cfg.AllocateMaxAttempts,
		cfg.CounterFloor,
		log,
	)
	alloc.Init(context.Background())

	var (
		kafkaProducer *kafka.Producer
		kafkaConsumer *kafka.Consumer
		publisher     *events.Publisher
	)
	if cfg.Kafka.Enabled() {
		kafkaProducer, err = kafka.NewProducer(cfg.Kafka.Brokers, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
		}
		publisher = events.NewPublisher(kafkaProducer, cfg.Kafka.Topic, cfg.InstanceID, log)

		kafkaConsumer, err = kafka.NewConsumer(&kafka.ConsumerConfig{
			Brokers:       cfg.Kafka.Brokers,
			Topics:        []string{cfg.Kafka.Topic},
			ConsumerGroup: cfg.Kafka.ConsumerGroup,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
		}
		kafkaConsumer.RegisterHandler(cfg.Kafka.Topic,
			handlers.NewOrderEventsHandler(localOrders, alloc, cfg.InstanceID, log))
	}

	var servicePublisher service.EventPublisher
	if publisher != nil {
		servicePublisher = publisher
	}

	orderService := service.NewOrderService(
		alloc, remoteStore, localOrders, journalRepo, breaker,
		servicePublisher, cfg.CounterFloor, log,
	)

	var syncer *syncworker.Syncer
	if remoteBackend != nil {
		var syncPublisher syncworker.EventPublisher
		if publisher != nil {
			syncPublisher = publisher
		}
		syncer = syncworker.NewSyncer(
			journalRepo, remoteBackend, localOrders, alloc, breaker, syncPublisher,
			syncworker.Config{
				PollInterval: cfg.Sync.PollInterval,
				BatchSize:    cfg.Sync.BatchSize,
				MaxRetries:   cfg.Sync.MaxRetries,
			},
			log,
		)
	}

	r := mux.NewRouter()
	server := &Server{
		config: cfg,
		logger: log,
		router: r,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		localDB:       localDB,
		remoteDB:      remoteDB,
		alloc:         alloc,
		orderService:  orderService,
		syncer:        syncer,
		kafkaProducer: kafkaProducer,
		kafkaConsumer: kafkaConsumer,
	}

	server.setupRoutes()

	if server.syncer != nil {
		server.syncer.Start()
	}
	if server.kafkaConsumer != nil {
		if err := server.kafkaConsumer.Start(); err != nil {
			log.Error("Failed to start Kafka consumer", "error", err)
			// Non-fatal, continue without the consumer
		}
	}

	return server, nil
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the workers and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.syncer != nil {
		s.syncer.Stop()
	}

	if s.kafkaConsumer != nil {
		if err := s.kafkaConsumer.Stop(); err != nil {
			s.logger.Error("Error stopping Kafka consumer", "error", err)
		}
	}
	if s.kafkaProducer != nil {
		if err := s.kafkaProducer.Close(); err != nil {
			s.logger.Error("Error closing Kafka producer", "error", err)
		}
	}

	if s.remoteDB != nil {
		if err := s.remoteDB.Close(); err != nil {
			s.logger.Error("Error closing database connection", "error", err)
		}
	}
	if err := s.localDB.Close(); err != nil {
		s.logger.Error("Error closing local database", "error", err)
	}

	return s.httpServer.Shutdown(ctx)
}

// setupRoutes configures all the routes for our API.
func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.healthCheckHandler).Methods(http.MethodGet)

	api.HandleFunc("/orders", s.listOrdersHandler).Methods(http.MethodGet)
	api.HandleFunc("/orders", s.createOrderHandler).Methods(http.MethodPost)
	api.HandleFunc("/orders", s.wipeOrdersHandler).Methods(http.MethodDelete)
	api.HandleFunc("/orders/next", s.peekNextHandler).Methods(http.MethodGet)
	api.HandleFunc("/orders/reconcile", s.reconcileHandler).Methods(http.MethodPost)
	api.HandleFunc("/orders/export", s.exportOrdersHandler).Methods(http.MethodGet)
	api.HandleFunc("/orders/{number}", s.getOrderHandler).Methods(http.MethodGet)
	api.HandleFunc("/orders/{number}", s.updateOrderHandler).Methods(http.MethodPut)
	api.HandleFunc("/orders/{number}", s.deleteOrderHandler).Methods(http.MethodDelete)

	api.HandleFunc("/backup", s.backupHandler).Methods(http.MethodGet)
	api.HandleFunc("/backup/restore", s.restoreHandler).Methods(http.MethodPost)

	api.HandleFunc("/sync/status", s.syncStatusHandler).Methods(http.MethodGet)
}

// Middleware for logging requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		s.logger.Info("Request processed",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
			"remoteAddr", r.RemoteAddr,
		)
	})
}

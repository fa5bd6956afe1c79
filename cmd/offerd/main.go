// Command offerd runs the order/offer saga service: HTTP command entry
// point, saga fabric with the configured topology, and optional broker,
// Postgres, Redis and Mongo backends.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/freyr/offer/adapters/messagebus"
	"github.com/freyr/offer/adapters/store"
	resttransport "github.com/freyr/offer/adapters/transport"
	"github.com/freyr/offer/config"
	"github.com/freyr/offer/metrics"
	"github.com/freyr/offer/observability"
	"github.com/freyr/offer/offer"
	"github.com/freyr/offer/order"
	"github.com/freyr/offer/payment"
	"github.com/freyr/offer/saga"
	"github.com/freyr/offer/stock"
	"github.com/freyr/offer/transport"
)

func main() {
	if err := run(); err != nil {
		slog.Error("offerd failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.New()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	meterProvider, err := metrics.Setup(cfg.App.Name, cfg.App.Version)
	if err != nil {
		return fmt.Errorf("setup metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metrics.Shutdown(shutdownCtx, meterProvider)
	}()

	m, err := metrics.NewMetrics()
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	tracing, err := observability.NewTracing(observability.TracingConfig{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.App.Name,
		ServiceVersion: cfg.App.Version,
		SamplingRate:   cfg.Tracing.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.Shutdown(shutdownCtx)
	}()

	codec := saga.NewCodec()
	order.RegisterCodec(codec)
	payment.RegisterCodec(codec)
	stock.RegisterCodec(codec)
	offer.RegisterCodec(codec)

	fabric := saga.NewFabric(logger).
		WithMiddleware(m.EventMiddleware()).
		WithMiddleware(tracing.Middleware())

	wiring, cleanup, err := buildWiring(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer cleanup()

	switch cfg.Saga.Topology {
	case "chain":
		order.WireChain(fabric, wiring)
	case "fanout":
		order.WireFanout(fabric, wiring)
	default:
		return fmt.Errorf("unknown saga topology %q", cfg.Saga.Topology)
	}

	if err := wireBroker(ctx, cfg, fabric, codec, logger); err != nil {
		return err
	}

	templates, offers, err := buildOfferStores(ctx, cfg)
	if err != nil {
		return err
	}
	generator := offer.NewGenerator(templates, offers, saga.NewMemoryStateStore[offer.Details](), fabric, "", logger)
	generator.Wire(fabric)

	broadcaster := resttransport.NewBroadcaster(logger)
	broadcaster.Wire(fabric)
	defer broadcaster.Close()

	rest := resttransport.NewRESTServer(resttransport.RESTConfig{
		Port:     cfg.HTTP.Port,
		BasePath: cfg.HTTP.BasePath,
	}, fabric, wiring.Projection, offers, logger)
	rest.Router().GET("/ws/orders", broadcaster.Endpoint())

	if err := rest.Start(ctx); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	logger.Info("offerd started",
		"port", cfg.HTTP.Port,
		"topology", cfg.Saga.Topology,
		"broker", cfg.Saga.Broker,
		"store", cfg.Saga.Store,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return rest.Stop(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// buildWiring assembles gateways, state stores and the projection per the
// configured store backend. The gateways are in-process stubs: real provider
// integrations sit behind the same interfaces.
func buildWiring(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (order.Wiring, func(), error) {
	w := order.Wiring{
		PaymentGateway: payment.NewStubGateway(),
		StockGateway:   stock.NewStubGateway(),
		Steps:          m,
		Logger:         logger,
	}
	cleanup := func() {}

	switch cfg.Saga.Store {
	case "inmemory":
		w.PaymentRecords = saga.NewMemoryStateStore[payment.Record]()
		w.StockRecords = saga.NewMemoryStateStore[stock.Record]()
		w.Aggregates = saga.NewMemoryAggregateStore()
		w.Projection = order.NewMemoryStatusProjection()

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN())
		if err != nil {
			return w, cleanup, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := store.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return w, cleanup, err
		}
		w.PaymentRecords = store.NewPostgresStateStore[payment.Record](pool, payment.Participant)
		w.StockRecords = store.NewPostgresStateStore[stock.Record](pool, stock.Participant)
		w.Aggregates = store.NewPostgresAggregateStore(pool)
		w.Projection = order.NewMemoryStatusProjection()
		cleanup = pool.Close

	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := client.Ping(ctx).Err(); err != nil {
			return w, cleanup, fmt.Errorf("connect to redis: %w", err)
		}
		ttl := 24 * time.Hour
		w.PaymentRecords = store.NewRedisStateStore[payment.Record](client, cfg.App.Name, payment.Participant, ttl)
		w.StockRecords = store.NewRedisStateStore[stock.Record](client, cfg.App.Name, stock.Participant, ttl)
		w.Aggregates = saga.NewMemoryAggregateStore()
		w.Projection = store.NewRedisStatusProjection(client, cfg.App.Name, ttl)
		cleanup = func() { _ = client.Close() }

	default:
		return w, cleanup, fmt.Errorf("unknown saga store %q", cfg.Saga.Store)
	}

	return w, cleanup, nil
}

// wireBroker attaches the fabric to the configured broker: terminal events
// are relayed out for external consumers, PlaceOrder commands arriving on
// the broker are ingested into the fabric, and with Kafka the dead-letter
// queue goes to the ".dlq" topic.
func wireBroker(ctx context.Context, cfg *config.Config, fabric *saga.Fabric, codec *saga.Codec, logger *slog.Logger) error {
	relayTypes := []string{order.TypeOrderConfirmed, order.TypeOrderRejected, offer.TypeOfferReady}

	switch cfg.Saga.Broker {
	case "inmemory":
		fabric.WithDeadLetterQueue(saga.NewMemoryDeadLetterQueue())
		return nil

	case "nats":
		natsCfg := messagebus.DefaultNATSConfig()
		natsCfg.URL = cfg.NATS.URL
		bus, err := messagebus.NewNATSBus(natsCfg, logger)
		if err != nil {
			return err
		}
		fabric.WithDeadLetterQueue(saga.NewMemoryDeadLetterQueue())
		return attachBus(ctx, fabric, bus, codec, logger, relayTypes)

	case "kafka":
		kafkaCfg := messagebus.DefaultKafkaConfig()
		kafkaCfg.Brokers = cfg.Kafka.Brokers
		kafkaCfg.GroupID = cfg.Kafka.GroupID
		bus, err := messagebus.NewKafkaBus(kafkaCfg, logger)
		if err != nil {
			return err
		}
		fabric.WithDeadLetterQueue(messagebus.NewKafkaDeadLetter(bus, codec, cfg.App.Name))
		return attachBus(ctx, fabric, bus, codec, logger, relayTypes)

	default:
		return fmt.Errorf("unknown saga broker %q", cfg.Saga.Broker)
	}
}

// attachBus wires both directions: the relay forwards terminal events to the
// broker, and the ingress consumes PlaceOrder commands published by other
// systems, so the HTTP endpoint is not the only way into the saga.
func attachBus(ctx context.Context, fabric *saga.Fabric, bus transport.MessageBus, codec *saga.Codec, logger *slog.Logger, relayTypes []string) error {
	transport.NewRelay(bus, codec).Attach(fabric, relayTypes...)
	ingress := transport.NewIngress(fabric, codec, logger)
	if err := ingress.Listen(ctx, bus, order.TypePlaceOrder); err != nil {
		return fmt.Errorf("listen for commands: %w", err)
	}
	return nil
}

func buildOfferStores(ctx context.Context, cfg *config.Config) (offer.TemplateStore, offer.Store, error) {
	if cfg.Mongo.URI == "" {
		return offer.NewMemoryTemplateStore(), offer.NewMemoryStore(), nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		// Offer generation degrades to in-memory storage rather than
		// blocking the saga.
		slog.Warn("mongo unavailable, using in-memory offer stores", "error", err)
		return offer.NewMemoryTemplateStore(), offer.NewMemoryStore(), nil
	}
	templates := store.NewMongoTemplateStore(client.Database(cfg.Mongo.Database), "")
	return templates, offer.NewMemoryStore(), nil
}

package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/order-service/internal/adapter/handler"
	"github.com/rl1809/order-service/internal/adapter/messaging"
	"github.com/rl1809/order-service/internal/adapter/storage"
	"github.com/rl1809/order-service/internal/config"
	"github.com/rl1809/order-service/internal/core/domain"
	"github.com/rl1809/order-service/internal/core/service"
	"github.com/rl1809/order-service/internal/port"
	"github.com/rl1809/order-service/migrations"
)

type productCatalog interface {
	SaveProduct(ctx context.Context, p domain.Product) error
}

// catalog is the write side every primary store exposes for seeding.
type catalog interface {
	productCatalog
	SaveCustomer(ctx context.Context, c domain.Customer) error
}

type stores struct {
	customers port.CustomerDirectory
	inventory port.InventoryStore
	orders    port.OrderStore
	tx        port.Transactor
	catalog   catalog
}

// App owns every long-lived dependency of the service.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Service *service.OrderService
	HTTP    *handler.HTTPHandler
	GRPC    *handler.GRPCHandler

	closers []func() error
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	s, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}

	opts := []service.Option{service.WithLogger(logger)}
	var inventories []productCatalog

	if cfg.UsesRedis() {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, PoolSize: 100})
		a.closers = append(a.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))

		redisAdapter := storage.NewRedisAdapter(rdb).WithIdempotencyTTL(cfg.IdempotencyTTL)
		s.inventory = redisAdapter
		inventories = append(inventories, redisAdapter)
		opts = append(opts, service.WithIdempotency(redisAdapter))
	} else {
		logger.Warn("idempotency disabled: Idempotency-Key and request_id are ignored without the redis inventory",
			zap.String("inventory", cfg.InventoryDriver),
		)
	}

	if len(cfg.KafkaBrokers) > 0 {
		writer := messaging.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		dispatcher := messaging.NewDispatcher(messaging.NewKafkaPublisher(writer), cfg.PublishWorkers, cfg.PublishQueueSize, logger)
		// Drain the dispatcher before the writer goes away.
		a.closers = append(a.closers, writer.Close, func() error {
			dispatcher.Close()
			return nil
		})
		opts = append(opts, service.WithEventPublisher(dispatcher))
		logger.Info("publishing order events", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	if cfg.SeedDemo {
		if err := Seed(ctx, s.catalog, inventories...); err != nil {
			return nil, fmt.Errorf("seed demo data: %w", err)
		}
		logger.Info("seeded demo data")
	}

	a.Service = service.NewOrderService(s.customers, s.inventory, s.orders, s.tx, opts...)
	a.HTTP = handler.NewHTTPHandler(a.Service, logger)
	a.GRPC = handler.NewGRPCHandler(a.Service, logger)
	return a, nil
}

func (a *App) openStores(ctx context.Context) (*stores, error) {
	switch a.Config.StoreDriver {
	case config.DriverMySQL:
		db, err := sql.Open("mysql", a.Config.MySQLDSN)
		if err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
		a.closers = append(a.closers, db.Close)

		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("ping mysql: %w", err)
		}
		if err := migrate(config.DriverMySQL, func(stmt string) error {
			_, err := db.ExecContext(ctx, stmt)
			return err
		}); err != nil {
			return nil, err
		}
		a.Logger.Info("connected to mysql")

		m := storage.NewMySQLAdapter(db)
		return &stores{customers: m.Customers(), inventory: m, orders: m.Orders(), tx: m, catalog: m}, nil

	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, a.Config.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})

		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		if err := migrate(config.DriverPostgres, func(stmt string) error {
			_, err := pool.Exec(ctx, stmt)
			return err
		}); err != nil {
			return nil, err
		}
		a.Logger.Info("connected to postgres")

		p := storage.NewPostgresAdapter(pool)
		return &stores{customers: p.Customers(), inventory: p, orders: p.Orders(), tx: p, catalog: p}, nil

	default:
		m := storage.NewMemoryAdapter()
		return &stores{customers: m.Customers(), inventory: m, orders: m.Orders(), tx: m, catalog: m}, nil
	}
}

func migrate(driver string, exec func(stmt string) error) error {
	statements, err := migrations.Statements(driver)
	if err != nil {
		return err
	}
	for _, stmt := range statements {
		if err := exec(stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", driver, err)
		}
	}
	return nil
}

// Close releases dependencies in reverse order of acquisition.
func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = errors.Join(err, a.closers[i]())
	}
	a.closers = nil
	return err
}

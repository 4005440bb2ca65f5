package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"

	"cardscan/internal/config"
	"cardscan/internal/logging"
	"cardscan/internal/services"
)

const component = "collection"

// WriteHook runs inside the commit transaction before each addition is
// written. Returning an error aborts the whole commit.
type WriteHook func(index int, addition Addition) error

// Store wraps the gorm handle for the collection database.
type Store struct {
	db     *gorm.DB
	driver string
	logger *slog.Logger
	hook   WriteHook
	now    func() time.Time
}

// Option customizes the store.
type Option func(*Store)

// WithLogger routes gorm diagnostics through logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logging.NewComponentLogger(logger, component) }
}

// WithWriteHook installs a hook invoked before each commit write.
func WithWriteHook(hook WriteHook) Option {
	return func(s *Store) { s.hook = hook }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open connects to the collection database selected by cfg and migrates it.
func Open(cfg config.Collection, opts ...Option) (*Store, error) {
	store := &Store{
		driver: strings.ToLower(strings.TrimSpace(cfg.Driver)),
		logger: logging.NewComponentLogger(nil, component),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}

	var dialector gorm.Dialector
	switch store.driver {
	case config.DriverSQLite, "":
		store.driver = config.DriverSQLite
		dialector = sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: sqliteDSN(cfg.DSN)})
	case config.DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, services.Wrap(services.ErrConfiguration, component, "open",
			fmt.Sprintf("unsupported driver %q", cfg.Driver), nil)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         newGormLogger(store.logger, 200*time.Millisecond),
		TranslateError: true,
		NowFunc:        func() time.Time { return store.now().UTC() },
	})
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, component, "open", store.driver, err)
	}
	if store.driver == config.DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, services.Wrap(services.ErrStorage, component, "open", "sql handle", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	store.db = db

	if err := db.AutoMigrate(&Card{}, &Provenance{}, &ScanCommit{}); err != nil {
		_ = store.Close()
		return nil, services.Wrap(services.ErrStorage, component, "migrate", store.driver, err)
	}
	return store, nil
}

// OpenSQLite opens a SQLite collection at path.
func OpenSQLite(path string, opts ...Option) (*Store, error) {
	return Open(config.Collection{Driver: config.DriverSQLite, DSN: path}, opts...)
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Close releases the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies the database answers.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Driver reports the active backend.
func (s *Store) Driver() string {
	return s.driver
}

func storageErr(operation, detail string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return services.Wrap(services.ErrNotFound, component, operation, detail, nil)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return services.Wrap(services.ErrStorage, component, operation, detail, err)
}

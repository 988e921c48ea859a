package db

import (
	"context"
	"crypto/tls"
	"database/sql"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"gitlab.com/secp/services/syncroom/internal/config"
	"gitlab.com/secp/services/syncroom/internal/logger"
)

type DB struct {
	SQL    *sql.DB
	Driver string
	Redis  *redis.Client
	log    *zap.Logger
}

// New opens the configured SQL store and, when reachable, Redis
func New(cfg *config.Config, log *zap.Logger) (*DB, error) {
	log = logger.OrNop(log).Named("db")

	var (
		database *DB
		err      error
	)
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		database, err = OpenSQLite(cfg.Database.SQLitePath, log)
	default:
		database, err = OpenPostgres(cfg.Database.URL, log)
	}
	if err != nil {
		return nil, err
	}

	database.Redis = connectRedis(cfg.Redis, log)
	return database, nil
}

// OpenPostgres connects to PostgreSQL and tunes the connection pool
func OpenPostgres(postgresURL string, log *zap.Logger) (*DB, error) {
	log = logger.OrNop(log)

	pg, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to postgres")
	}

	pg.SetMaxOpenConns(25)
	pg.SetMaxIdleConns(5)
	pg.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := pg.PingContext(ctx); err != nil {
		pg.Close()
		return nil, errors.Wrap(err, "failed to ping postgres")
	}

	log.Info("PostgreSQL connection established")
	return &DB{SQL: pg, Driver: config.DriverPostgres, log: log}, nil
}

// OpenSQLite opens or creates an embedded database file. Writers are
// serialized through a single connection.
func OpenSQLite(path string, log *zap.Logger) (*DB, error) {
	log = logger.OrNop(log)

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create database dir")
		}
	}

	lite, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite database")
	}
	lite.SetMaxOpenConns(1)

	if _, err := lite.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		lite.Close()
		return nil, errors.Wrap(err, "configure sqlite database")
	}

	log.Info("SQLite database opened", zap.String("path", path))
	return &DB{SQL: lite, Driver: config.DriverSQLite, log: log}, nil
}

// connectRedis supports both "host:port" and "redis://..." URL formats.
// Redis is optional: a nil client disables the features that use it.
func connectRedis(cfg config.Redis, log *zap.Logger) *redis.Client {
	if cfg.URL == "" {
		return nil
	}

	redisOpts := &redis.Options{
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		DB:           0,
	}

	if strings.HasPrefix(cfg.URL, "redis://") || strings.HasPrefix(cfg.URL, "rediss://") {
		parsedURL, err := url.Parse(cfg.URL)
		if err != nil {
			log.Warn("Failed to parse Redis URL, continuing without Redis", zap.Error(err))
			return nil
		}
		redisOpts.Addr = parsedURL.Host
		if parsedURL.User != nil {
			redisOpts.Username = parsedURL.User.Username()
			if password, ok := parsedURL.User.Password(); ok {
				redisOpts.Password = password
			}
		}
		if parsedURL.Scheme == "rediss" {
			redisOpts.TLSConfig = &tls.Config{
				MinVersion: tls.VersionTLS12,
			}
		}
	} else {
		redisOpts.Addr = cfg.URL
		redisOpts.Password = cfg.Password
	}

	rdb := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("Failed to connect to Redis, continuing without Redis", zap.Error(err))
		rdb.Close()
		return nil
	}

	log.Info("Redis connection established")
	return rdb
}

// Close closes all database connections
func (db *DB) Close() error {
	var errs []string

	if db.SQL != nil {
		if err := db.SQL.Close(); err != nil {
			errs = append(errs, "sql: "+err.Error())
		}
	}

	if db.Redis != nil {
		if err := db.Redis.Close(); err != nil {
			errs = append(errs, "redis: "+err.Error())
		}
	}

	if len(errs) > 0 {
		return errors.Errorf("errors closing databases: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (db *DB) migrationsTableDDL() string {
	if db.Driver == config.DriverSQLite {
		return `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version TEXT PRIMARY KEY,
				applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)
		`
	}
	return `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`
}

// RunMigrations executes the *.sql files of migrations in lexical order,
// each inside its own transaction
func (db *DB) RunMigrations(migrations fs.FS) error {
	log := logger.OrNop(db.log)
	log.Info("Running migrations")

	if _, err := db.SQL.Exec(db.migrationsTableDDL()); err != nil {
		return errors.Wrap(err, "failed to create migrations table")
	}

	files, err := fs.Glob(migrations, "*.sql")
	if err != nil {
		return errors.Wrap(err, "failed to read migration files")
	}

	sort.Strings(files)

	for _, file := range files {
		version := filepath.Base(file)

		var exists bool
		err := db.SQL.QueryRow(
			db.Rebind("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)"),
			version,
		).Scan(&exists)
		if err != nil {
			return errors.Wrap(err, "failed to check migration status")
		}

		if exists {
			log.Debug("Migration already applied, skipping", zap.String("version", version))
			continue
		}

		content, err := fs.ReadFile(migrations, file)
		if err != nil {
			return errors.Wrapf(err, "failed to read migration file %s", version)
		}

		tx, err := db.SQL.Begin()
		if err != nil {
			return errors.Wrapf(err, "failed to start transaction for migration %s", version)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "failed to execute migration %s", version)
		}

		if _, err := tx.Exec(
			db.Rebind("INSERT INTO schema_migrations (version) VALUES (?)"),
			version,
		); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "failed to record migration %s", version)
		}

		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "failed to commit migration %s", version)
		}

		log.Info("Applied migration", zap.String("version", version))
	}

	log.Info("All migrations completed successfully")
	return nil
}

// Rebind rewrites ? placeholders into the driver's bind syntax
func (db *DB) Rebind(query string) string {
	return Rebind(db.Driver, query)
}

// Rebind rewrites ? placeholders into $1, $2, ... for postgres
func Rebind(driver, query string) string {
	if driver != config.DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Health checks database health
func (db *DB) Health(ctx context.Context) error {
	if err := db.SQL.PingContext(ctx); err != nil {
		return errors.Wrap(err, "database health check failed")
	}

	// Redis is optional
	if db.Redis != nil {
		if err := db.Redis.Ping(ctx).Err(); err != nil {
			logger.OrNop(db.log).Warn("Redis health check failed", zap.Error(err))
		}
	}

	return nil
}

// InTx runs fn inside a transaction, committing when fn returns nil and
// rolling back otherwise
func (db *DB) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// ForUpdate is the row locking suffix for SELECTs inside InTx. SQLite has no
// row locks; its single connection already serializes transactions.
func (db *DB) ForUpdate() string {
	if db.Driver == config.DriverPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// SnapshotTxOptions returns options for a multi-statement consistent read
func (db *DB) SnapshotTxOptions() *sql.TxOptions {
	if db.Driver == config.DriverPostgres {
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	return nil
}

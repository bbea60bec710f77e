package wsbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
	}
	dbOperationTimeout = 30 * time.Second
)

// ModelUnixTime is an embeddable model with Unix millisecond timestamps
// for creation and update.
type ModelUnixTime struct {
	CreatedAt int64 `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64 `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// migrationModels are the tables created by AutoMigrate
func migrationModels() []any {
	return []any{
		&DiscordCache{},
		&InteractionLog{},
	}
}

// database wraps a gorm connection. When concurrent writes are disabled
// (sqlite), writes are serialized with a mutex.
type database struct {
	db                     *gorm.DB
	mu                     sync.Mutex
	enableConcurrentWrites bool
}

func newDatabase(db *gorm.DB, enableConcurrentWrites bool) *database {
	return &database{db: db, enableConcurrentWrites: enableConcurrentWrites}
}

func (d *database) DB() *gorm.DB {
	return d.db
}

func (d *database) lock() {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
	}
}

func (d *database) unlock() {
	if !d.enableConcurrentWrites {
		d.mu.Unlock()
	}
}

// Create inserts value. If ctx has no deadline, dbOperationTimeout is
// applied.
func (d *database) Create(ctx context.Context, value any) (int64, error) {
	ctx, cancel := withDBTimeout(ctx)
	defer cancel()

	d.lock()
	defer d.unlock()

	rv := d.db.WithContext(ctx).Create(value)
	return rv.RowsAffected, rv.Error
}

// Upsert inserts value, or updates updateColumns on a conflict on
// conflictColumns.
func (d *database) Upsert(
	ctx context.Context,
	value any,
	conflictColumns []string,
	updateColumns []string,
) (int64, error) {
	ctx, cancel := withDBTimeout(ctx)
	defer cancel()

	cols := make([]clause.Column, 0, len(conflictColumns))
	for _, c := range conflictColumns {
		cols = append(cols, clause.Column{Name: c})
	}

	d.lock()
	defer d.unlock()

	rv := d.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns:   cols,
			DoUpdates: clause.AssignmentColumns(updateColumns),
		},
	).Create(value)
	return rv.RowsAffected, rv.Error
}

func withDBTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, dbOperationTimeout)
}

// openDB opens the configured database, applies sqlite connection
// settings and migrates the schema.
func openDB(ctx context.Context, cfg *Config, logger *slog.Logger) (*gorm.DB, error) {
	handler := newLogHandler(defaultLogWriter, cfg.DatabaseLogLevel)
	gormLogger := newGORMLogger(handler, cfg.DatabaseSlowThreshold)

	db, err := getDB(cfg.DatabaseType, cfg.Database, gormLogger)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if cfg.DatabaseType == dbTypeSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("error getting database connection: %w", err)
		}
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)

		pragmaErrors := make([]error, 0, len(sqliteExecPragma))
		for _, p := range sqliteExecPragma {
			pragmaErrors = append(
				pragmaErrors,
				db.WithContext(ctx).Exec(p).Error,
			)
		}
		if pragmaErr := errors.Join(pragmaErrors...); pragmaErr != nil {
			return nil, pragmaErr
		}
	}

	logger.DebugContext(ctx, "migrating database...")
	if err = migrate(ctx, db); err != nil {
		return nil, fmt.Errorf("error migrating database: %w", err)
	}
	return db, nil
}

// CreateDB initializes the database and migrates the schema.
//
// Parameters:
//   - databaseType: Must be 'sqlite' or 'postgres'
//   - database: The database connection string, or SQLite file path.
func CreateDB(ctx context.Context, databaseType string, database string) (*gorm.DB, error) {
	handler := newLogHandler(defaultLogWriter, slog.LevelWarn)
	gormLogger := newGORMLogger(handler, 500*time.Millisecond)
	dbLogger := slog.New(handler)

	dbLogger.InfoContext(
		ctx,
		"Initializing database",
		"database_type", databaseType,
	)
	db, err := getDB(databaseType, database, gormLogger)
	if err != nil {
		return db, err
	}
	if err = migrate(ctx, db); err != nil {
		return db, err
	}
	return db, nil
}

func migrate(ctx context.Context, db *gorm.DB) error {
	txn := db.WithContext(ctx).Begin()
	if txn.Error != nil {
		return txn.Error
	}
	if err := txn.Migrator().AutoMigrate(migrationModels()...); err != nil {
		txn.Rollback()
		return err
	}
	return txn.Commit().Error
}

// getDB returns a *gorm.DB for the specified database type.
//
// Parameters:
//   - databaseType: Must be 'sqlite' or 'postgres'
//   - database: Database connection string, or SQLite file path.
//   - gormLogger: A pointer to a gormStructuredLogger instance for
//     logging database operations.
func getDB(
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(database)
		if parentDir != "" {
			if err := os.MkdirAll(parentDir, 0755); err != nil {
				if !errors.Is(err, os.ErrExist) {
					return nil, err
				}
			}
		}
		return gorm.Open(sqlite.Open(database), gormConfig)
	case dbTypePostgres:
		return gorm.Open(postgres.Open(database), gormConfig)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}

package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore keeps every collection in a single collection_records table
// with the document in a JSONB column.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (ps *PostgresStore) All(ctx context.Context, collection string) ([]json.RawMessage, error) {
	rows, err := ps.db.QueryContext(ctx,
		`SELECT data FROM collection_records
		 WHERE collection = $1
		 ORDER BY created_at ASC, id ASC`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", collection, err)
		}
		out = append(out, json.RawMessage(data))
	}
	return out, rows.Err()
}

func (ps *PostgresStore) FindByID(ctx context.Context, collection, id string) (json.RawMessage, bool, error) {
	var data []byte
	err := ps.db.QueryRowContext(ctx,
		`SELECT data FROM collection_records WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	return json.RawMessage(data), true, nil
}

func (ps *PostgresStore) Insert(ctx context.Context, collection, id string, doc json.RawMessage) error {
	if id == "" {
		return ErrMissingID
	}
	res, err := ps.db.ExecContext(ctx,
		`INSERT INTO collection_records (collection, id, data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (collection, id) DO NOTHING`,
		collection, id, []byte(doc), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert %s/%s: %w", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicateID
	}
	return nil
}

func (ps *PostgresStore) Update(ctx context.Context, collection, id string, doc json.RawMessage) (bool, error) {
	res, err := ps.db.ExecContext(ctx,
		`UPDATE collection_records SET data = $3, updated_at = $4
		 WHERE collection = $1 AND id = $2`,
		collection, id, []byte(doc), time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (ps *PostgresStore) Remove(ctx context.Context, collection, id string) (bool, error) {
	res, err := ps.db.ExecContext(ctx,
		`DELETE FROM collection_records WHERE collection = $1 AND id = $2`,
		collection, id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SaveAll replaces the collection inside a single transaction.
func (ps *PostgresStore) SaveAll(ctx context.Context, collection string, docs []Document) error {
	tx, err := ps.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM collection_records WHERE collection = $1`, collection); err != nil {
		return fmt.Errorf("failed to clear %s: %w", collection, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO collection_records (collection, id, data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	// keep insertion order visible through created_at
	base := time.Now()
	for i, d := range docs {
		if d.ID == "" {
			return ErrMissingID
		}
		if _, err := stmt.ExecContext(ctx, collection, d.ID, []byte(d.Data), base.Add(time.Duration(i)*time.Microsecond)); err != nil {
			return fmt.Errorf("failed to insert %s/%s: %w", collection, d.ID, err)
		}
	}
	return tx.Commit()
}

// ConnectPostgres establishes a connection to PostgreSQL
func ConnectPostgres(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, err
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not open embedded migrations: %w", err)
	}

	driver, err := migratepg.WithInstance(db, &migratepg.Config{
		MigrationsTable: "ec_checkout_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

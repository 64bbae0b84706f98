package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/aluiziolira/go-scrape-autovit/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	createCarsTableSQL = `
	CREATE TABLE IF NOT EXISTS car_listings (
		id BIGSERIAL PRIMARY KEY,
		link TEXT NOT NULL,
		full_name TEXT,
		price TEXT,
		year TEXT,
		mileage_km TEXT,
		fuel_type TEXT,
		location TEXT,
		scraped_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	`

	insertCarSQL = `
	INSERT INTO car_listings (link, full_name, price, year, mileage_km, fuel_type, location)
	VALUES ($1, $2, $3, $4, $5, $6, $7);
	`
)

// PostgresWriter mirrors records into the car_listings table.
// Absent fields are stored as NULL rather than the N/A sentinel.
type PostgresWriter struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewPostgresWriter connects to dsn and ensures the schema exists.
func NewPostgresWriter(dsn string) (*PostgresWriter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	w := &PostgresWriter{pool: pool, timeout: 30 * time.Second}
	if err := w.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return w, nil
}

// EnsureSchema creates the car_listings table when missing.
func (w *PostgresWriter) EnsureSchema(ctx context.Context) error {
	if _, err := w.pool.Exec(ctx, createCarsTableSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Write inserts cars in a single batch.
func (w *PostgresWriter) Write(cars []models.Car) error {
	if len(cars) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	batch := &pgx.Batch{}
	for _, car := range cars {
		batch.Queue(insertCarSQL, rowArgs(car)...)
	}

	results := w.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := range cars {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert car row %d: %w", i, err)
		}
	}
	return nil
}

// Validate checks the database is still reachable.
func (w *PostgresWriter) Validate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (w *PostgresWriter) Close() error {
	if w.pool != nil {
		w.pool.Close()
	}
	return nil
}

func rowArgs(car models.Car) []any {
	return []any{
		car.Link,
		nullable(car.FullName),
		nullable(car.Price),
		nullable(car.Year),
		nullable(car.MileageKM),
		nullable(car.FuelType),
		nullable(car.Location),
	}
}

func nullable(f models.Field) *string {
	value, ok := f.Value()
	if !ok {
		return nil
	}
	return &value
}

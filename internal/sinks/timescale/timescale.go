// Package timescale stores UPS readings in a PostgreSQL/TimescaleDB table,
// one row per reading with the variables as a JSONB document.
package timescale

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/Guliveer/nutwatch/internal/models"
	"github.com/Guliveer/nutwatch/internal/plugin"
	"github.com/Guliveer/nutwatch/internal/schema"
)

// Model is the TIMESCALE_* configuration. TABLE is interpolated into SQL, so
// it is restricted to a plain identifier.
var Model = schema.FieldModel{
	"DSN":          {Type: schema.String, Required: true},
	"TABLE":        {Type: schema.String, Default: "ups_readings", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
	"CREATE_TABLE": {Type: schema.Boolean, Default: false},
}

// Factory registers the sink in a plugin.Catalog.
func Factory() plugin.Factory {
	return plugin.Factory{
		Name:      "timescale",
		Namespace: "timescale",
		Model:     Model,
		New: func(cfg schema.Values, deps plugin.Deps) (plugin.Sink, error) {
			db, err := sql.Open("postgres", cfg.StringOr("DSN", ""))
			if err != nil {
				return nil, fmt.Errorf("failed to open database: %w", err)
			}
			s := New(db, cfg.StringOr("TABLE", "ups_readings"), deps.Logger)
			if create, _ := cfg.Bool("CREATE_TABLE"); create {
				if err := s.CreateTable(context.Background()); err != nil {
					db.Close()
					return nil, err
				}
			}
			return s, nil
		},
	}
}

// Sink inserts readings idempotently: a second reading for the same UPS and
// timestamp is ignored.
type Sink struct {
	db     *sql.DB
	table  string
	logger *zap.Logger
}

func New(db *sql.DB, table string, logger *zap.Logger) *Sink {
	return &Sink{db: db, table: table, logger: logger.Named("timescale")}
}

func (s *Sink) Name() string { return "timescale" }

// CreateTable creates the readings table if it does not exist.
func (s *Sink) CreateTable(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	ups TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	variables JSONB NOT NULL,
	PRIMARY KEY (ups, ts)
)`, s.table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	s.logger.Info("Table ready", zap.String("table", s.table))
	return nil
}

func (s *Sink) Accept(ctx context.Context, r *models.Reading) error {
	vars, err := json.Marshal(r.Vars)
	if err != nil {
		return fmt.Errorf("failed to encode variables: %w", err)
	}

	query := "INSERT INTO " + s.table + " (ups, ts, variables) VALUES ($1,$2,$3) ON CONFLICT (ups, ts) DO NOTHING"
	if _, err := s.db.ExecContext(ctx, query, r.UPS, r.Timestamp, vars); err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	return s.db.Close()
}

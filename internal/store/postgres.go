package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"freightalloc/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies every *.sql file in dir in lexical order. Migrations are
// written to be idempotent (CREATE ... IF NOT EXISTS).
func (p *Postgres) MigrateDir(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("migrate: no .sql files in %s", dir)
	}
	sort.Strings(files)
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("migrate %s: %w", filepath.Base(f), err)
		}
		if _, err := p.db.Exec(string(b)); err != nil {
			return fmt.Errorf("migrate %s: %w", filepath.Base(f), err)
		}
	}
	return nil
}

// SaveContracts upserts by id inside one transaction.
func (p *Postgres) SaveContracts(ctx context.Context, contracts []model.Contract) (string, int, int, error) {
	importID := "imp_" + uuid.New().String()
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return "", 0, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	created, updated := 0, 0
	for _, c := range contracts {
		if c.ID == "" {
			return "", 0, 0, fmt.Errorf("save contracts: contract id is required")
		}
		// xmax = 0 only for freshly inserted rows.
		var inserted bool
		err = tx.QueryRowContext(ctx, `INSERT INTO contracts (id, issuer, origin, destination, origin_location_id, dest_location_id, volume, reward, distance_ly, direction, import_id)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
            ON CONFLICT (id) DO UPDATE SET issuer=EXCLUDED.issuer, origin=EXCLUDED.origin, destination=EXCLUDED.destination,
              origin_location_id=EXCLUDED.origin_location_id, dest_location_id=EXCLUDED.dest_location_id, volume=EXCLUDED.volume,
              reward=EXCLUDED.reward, distance_ly=EXCLUDED.distance_ly, direction=EXCLUDED.direction, import_id=EXCLUDED.import_id, updated_at=now()
            RETURNING (xmax = 0)`,
			c.ID, c.Issuer, c.Origin, c.Destination, c.OriginLocationID, c.DestLocationID, c.Volume, c.Reward, c.DistanceLy, string(c.Direction), importID).Scan(&inserted)
		if err != nil {
			return "", 0, 0, fmt.Errorf("save contract %s: %w", c.ID, err)
		}
		if inserted {
			created++
		} else {
			updated++
		}
	}
	if err := tx.Commit(); err != nil {
		return "", 0, 0, err
	}
	return importID, created, updated, nil
}

const contractColumns = `id, issuer, origin, destination, origin_location_id, dest_location_id, volume, reward, distance_ly, direction`

func scanContract(sc interface{ Scan(...any) error }) (model.Contract, error) {
	var c model.Contract
	var dir string
	if err := sc.Scan(&c.ID, &c.Issuer, &c.Origin, &c.Destination, &c.OriginLocationID, &c.DestLocationID, &c.Volume, &c.Reward, &c.DistanceLy, &dir); err != nil {
		return c, err
	}
	c.Direction = model.Direction(dir)
	return c, nil
}

// ListContracts pages by id; the cursor is the last id returned.
func (p *Postgres) ListContracts(ctx context.Context, direction model.Direction, cursor string, limit int) ([]model.Contract, string, error) {
	limit = clampLimit(limit)
	var where []string
	var args []any
	if direction != "" {
		args = append(args, string(direction))
		where = append(where, fmt.Sprintf("direction=$%d", len(args)))
	}
	if cursor != "" {
		args = append(args, cursor)
		where = append(where, fmt.Sprintf("id > $%d", len(args)))
	}
	q := `SELECT ` + contractColumns + ` FROM contracts`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	q += fmt.Sprintf(` ORDER BY id LIMIT $%d`, len(args))

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Contract{}
	var last string
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, c)
		last = c.ID
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	var next string
	if len(out) == limit {
		next = last
	}
	return out, next, nil
}

func (p *Postgres) GetContract(ctx context.Context, id string) (model.Contract, error) {
	c, err := scanContract(p.db.QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	return c, err
}

func (p *Postgres) DeleteContract(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM contracts WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveAllocation stores the summary columns plus the full allocation as JSONB.
func (p *Postgres) SaveAllocation(ctx context.Context, a *model.Allocation) error {
	if a == nil || a.RunID == "" {
		return fmt.Errorf("save allocation: run id is required")
	}
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("save allocation %s: %w", a.RunID, err)
	}
	s := summarize(a, time.Now().UTC())
	_, err = p.db.ExecContext(ctx, `INSERT INTO allocations (run_id, strategy, fuel_unit_price, outbound_bins, inbound_bins, unscheduled, grand_total_fuel_cost, grand_total_profit, body, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		s.RunID, s.Strategy, s.FuelUnitPrice, s.OutboundBins, s.InboundBins, s.Unscheduled, s.GrandTotalFuelCost, s.GrandTotalProfit, body, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("save allocation %s: %w", a.RunID, err)
	}
	return nil
}

func (p *Postgres) GetAllocation(ctx context.Context, runID string) (*model.Allocation, error) {
	var body []byte
	if err := p.db.QueryRowContext(ctx, `SELECT body FROM allocations WHERE run_id=$1`, runID).Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var a model.Allocation
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, fmt.Errorf("decode allocation %s: %w", runID, err)
	}
	return &a, nil
}

// ListAllocations returns newest first; the cursor is the last run id returned.
func (p *Postgres) ListAllocations(ctx context.Context, cursor string, limit int) ([]AllocationSummary, string, error) {
	limit = clampLimit(limit)
	const cols = `run_id, strategy, fuel_unit_price, outbound_bins, inbound_bins, unscheduled, grand_total_fuel_cost, grand_total_profit, created_at`
	var rows *sql.Rows
	var err error
	if cursor != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT `+cols+` FROM allocations
            WHERE (created_at, run_id) < (SELECT created_at, run_id FROM allocations WHERE run_id=$1)
            ORDER BY created_at DESC, run_id DESC LIMIT $2`, cursor, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT `+cols+` FROM allocations ORDER BY created_at DESC, run_id DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []AllocationSummary{}
	for rows.Next() {
		var s AllocationSummary
		if err := rows.Scan(&s.RunID, &s.Strategy, &s.FuelUnitPrice, &s.OutboundBins, &s.InboundBins, &s.Unscheduled, &s.GrandTotalFuelCost, &s.GrandTotalProfit, &s.CreatedAt); err != nil {
			return nil, "", err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	var next string
	if len(out) == limit {
		next = out[len(out)-1].RunID
	}
	return out, next, nil
}

// Package runs persists optimization results so they can be listed and
// fetched later.
package runs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned by Get for unknown run IDs.
var ErrNotFound = errors.New("run not found")

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Run is one stored optimization.
type Run struct {
	ID          string                   `json:"id"`
	CreatedAt   time.Time                `json:"created_at"`
	Symbols     []string                 `json:"symbols"`
	Start       time.Time                `json:"start"`
	End         time.Time                `json:"end"`
	Converged   bool                     `json:"converged"`
	SharpeRatio float64                  `json:"sharpe_ratio"`
	Result      *optimization.Allocation `json:"result,omitempty"`
}

// Repository stores runs in the optimization_runs table.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
}

func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "runs").Logger(),
		now: time.Now,
	}
}

// Save stores alloc for req under a fresh ID.
func (r *Repository) Save(ctx context.Context, req optimization.Request, alloc *optimization.Allocation) (*Run, error) {
	if alloc == nil {
		return nil, fmt.Errorf("cannot save empty allocation")
	}
	result, err := json.Marshal(alloc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode allocation: %w", err)
	}

	run := &Run{
		ID:          uuid.New().String(),
		CreatedAt:   r.now().UTC().Truncate(time.Second),
		Symbols:     append([]string(nil), req.Symbols...),
		Start:       req.Start.UTC(),
		End:         req.End.UTC(),
		Converged:   alloc.Converged,
		SharpeRatio: alloc.SharpeRatio,
		Result:      alloc,
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO optimization_runs
		(id, created_at, symbols, start_date, end_date, converged, sharpe_ratio, result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.CreatedAt.Unix(),
		strings.Join(run.Symbols, ","),
		run.Start.Unix(),
		run.End.Unix(),
		boolToInt(run.Converged),
		run.SharpeRatio,
		string(result),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert optimization run: %w", err)
	}

	r.log.Debug().Str("id", run.ID).Strs("symbols", run.Symbols).Msg("Saved optimization run")
	return run, nil
}

// Get returns the run with its full result.
func (r *Repository) Get(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, created_at, symbols, start_date, end_date, converged, sharpe_ratio, result
		FROM optimization_runs
		WHERE id = ?
	`, id)

	run, err := scanRun(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// List returns the most recent runs without their result payloads. A
// non-positive limit uses the default.
func (r *Repository) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, created_at, symbols, start_date, end_date, converged, sharpe_ratio, ''
		FROM optimization_runs
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query optimization runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows, false)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating optimization runs: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner, withResult bool) (*Run, error) {
	var (
		run                   Run
		createdAt, start, end int64
		converged             int
		symbols, result       string
	)
	if err := s.Scan(&run.ID, &createdAt, &symbols, &start, &end, &converged, &run.SharpeRatio, &result); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan optimization run: %w", err)
	}

	run.CreatedAt = time.Unix(createdAt, 0).UTC()
	run.Start = time.Unix(start, 0).UTC()
	run.End = time.Unix(end, 0).UTC()
	run.Converged = converged != 0
	if symbols != "" {
		run.Symbols = strings.Split(symbols, ",")
	}

	if withResult {
		var alloc optimization.Allocation
		if err := json.Unmarshal([]byte(result), &alloc); err != nil {
			return nil, fmt.Errorf("failed to decode stored allocation %s: %w", run.ID, err)
		}
		run.Result = &alloc
	}
	return &run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

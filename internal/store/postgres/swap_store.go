package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapguard/internal/domain"
)

const swapColumns = `id, owner, from_symbol, to_symbol,
	from_amount::text, to_amount::text, exchange_rate::text,
	reference, status, risk_score, failure_reason, created_at, updated_at`

// SwapStore implements domain.SwapStore using PostgreSQL.
type SwapStore struct {
	pool *pgxpool.Pool
}

// NewSwapStore creates a new SwapStore backed by the given connection pool.
func NewSwapStore(pool *pgxpool.Pool) *SwapStore {
	return &SwapStore{pool: pool}
}

// Create inserts a new swap. A duplicate id or reference maps to
// domain.ErrConflict.
func (s *SwapStore) Create(ctx context.Context, tx domain.SwapTransaction) error {
	const query = `
		INSERT INTO swaps (
			id, owner, from_symbol, to_symbol,
			from_amount, to_amount, exchange_rate,
			reference, status, risk_score, failure_reason,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.pool.Exec(ctx, query,
		tx.ID, tx.Owner, tx.FromSymbol, tx.ToSymbol,
		tx.FromAmount.String(), tx.ToAmount.String(), tx.ExchangeRate.String(),
		tx.Reference, string(tx.Status), tx.RiskScore, tx.FailureReason,
		tx.CreatedAt, tx.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create swap %s: %w", tx.ID, domain.ErrConflict)
		}
		return fmt.Errorf("postgres: create swap %s: %w", tx.ID, err)
	}
	return nil
}

// Transition moves a pending swap to a terminal status. The update is
// conditional on status = 'pending'; zero affected rows means the swap is
// either already terminal or missing.
func (s *SwapStore) Transition(ctx context.Context, id string, to domain.SwapStatus, reason string, at time.Time) (bool, error) {
	if !to.Terminal() {
		return false, fmt.Errorf("postgres: transition swap %s to %q: %w", id, to, domain.ErrInvalidArgument)
	}

	const query = `
		UPDATE swaps SET status = $1, failure_reason = $2, updated_at = $3
		WHERE id = $4 AND status = 'pending'`

	tag, err := s.pool.Exec(ctx, query, string(to), reason, at, id)
	if err != nil {
		return false, fmt.Errorf("postgres: transition swap %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM swaps WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("postgres: transition swap %s: check exists: %w", id, err)
	}
	if !exists {
		return false, fmt.Errorf("postgres: transition swap %s: %w", id, domain.ErrNotFound)
	}
	return false, nil
}

// GetByID retrieves a single swap.
func (s *SwapStore) GetByID(ctx context.Context, id string) (domain.SwapTransaction, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+swapColumns+` FROM swaps WHERE id = $1`, id)
	tx, err := scanSwap(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SwapTransaction{}, fmt.Errorf("postgres: get swap %s: %w", id, domain.ErrNotFound)
		}
		return domain.SwapTransaction{}, fmt.Errorf("postgres: get swap %s: %w", id, err)
	}
	return tx, nil
}

// List returns one page of the owner's swaps, newest first, and the total
// number of matching rows.
func (s *SwapStore) List(ctx context.Context, owner string, filter domain.SwapFilter, opts domain.ListOpts) (domain.SwapPage, error) {
	count, list := listSwapQueries(owner, filter, opts)

	var total int64
	if err := s.pool.QueryRow(ctx, count.String(), count.args...).Scan(&total); err != nil {
		return domain.SwapPage{}, fmt.Errorf("postgres: count swaps: %w", err)
	}

	swaps, err := s.query(ctx, list.String(), list.args...)
	if err != nil {
		return domain.SwapPage{}, fmt.Errorf("postgres: list swaps: %w", err)
	}
	return domain.SwapPage{Swaps: swaps, Total: total}, nil
}

// Stats aggregates the owner's swaps in a single query.
func (s *SwapStore) Stats(ctx context.Context, owner string) (domain.SwapStats, error) {
	const query = `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COALESCE(SUM(from_amount), 0)::text,
			COALESCE(ROUND(AVG(risk_score), 2), 0)::text
		FROM swaps WHERE owner = $1`

	var (
		st            domain.SwapStats
		volume, avgRS string
	)
	err := s.pool.QueryRow(ctx, query, owner).Scan(
		&st.TotalSwaps, &st.CompletedSwaps, &st.FailedSwaps, &st.PendingSwaps, &volume, &avgRS,
	)
	if err != nil {
		return domain.SwapStats{}, fmt.Errorf("postgres: swap stats for %s: %w", owner, err)
	}
	if st.TotalVolume, err = parseDecimal("total_volume", volume); err != nil {
		return domain.SwapStats{}, err
	}
	if st.AverageRiskScore, err = parseDecimal("average_risk_score", avgRS); err != nil {
		return domain.SwapStats{}, err
	}
	return st, nil
}

// ListStalePending returns pending swaps created before createdBefore.
func (s *SwapStore) ListStalePending(ctx context.Context, createdBefore time.Time) ([]domain.SwapTransaction, error) {
	swaps, err := s.query(ctx,
		`SELECT `+swapColumns+` FROM swaps WHERE status = 'pending' AND created_at < $1 ORDER BY created_at`,
		createdBefore,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list stale pending swaps: %w", err)
	}
	return swaps, nil
}

// ListCreatedBetween returns swaps with from <= created_at < to, oldest first.
func (s *SwapStore) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]domain.SwapTransaction, error) {
	swaps, err := s.query(ctx,
		`SELECT `+swapColumns+` FROM swaps WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list swaps created between: %w", err)
	}
	return swaps, nil
}

func (s *SwapStore) query(ctx context.Context, query string, args ...any) ([]domain.SwapTransaction, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	swaps := make([]domain.SwapTransaction, 0)
	for rows.Next() {
		tx, err := scanSwap(rows)
		if err != nil {
			return nil, err
		}
		swaps = append(swaps, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return swaps, nil
}

// listSwapQueries builds the COUNT and page SELECT for a history query. Both
// share the same filter arguments.
func listSwapQueries(owner string, filter domain.SwapFilter, opts domain.ListOpts) (count, list *queryBuilder) {
	build := func(base string) *queryBuilder {
		q := newQuery(base)
		q.where("owner = ?", owner)
		if filter.Status != "" {
			q.where("status = ?", string(filter.Status))
		}
		q.timeRange("created_at", opts)
		return q
	}

	count = build(`SELECT COUNT(*) FROM swaps WHERE 1=1`)
	list = build(`SELECT ` + swapColumns + ` FROM swaps WHERE 1=1`)
	list.raw(" ORDER BY created_at DESC, id DESC")
	list.page(opts)
	return count, list
}

func scanSwap(row pgx.Row) (domain.SwapTransaction, error) {
	var (
		tx                   domain.SwapTransaction
		status               string
		fromAmt, toAmt, rate string
	)
	err := row.Scan(
		&tx.ID, &tx.Owner, &tx.FromSymbol, &tx.ToSymbol,
		&fromAmt, &toAmt, &rate,
		&tx.Reference, &status, &tx.RiskScore, &tx.FailureReason,
		&tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return domain.SwapTransaction{}, err
	}
	tx.Status = domain.SwapStatus(status)

	for _, f := range []struct {
		col string
		raw string
		dst *decimal.Decimal
	}{
		{"from_amount", fromAmt, &tx.FromAmount},
		{"to_amount", toAmt, &tx.ToAmount},
		{"exchange_rate", rate, &tx.ExchangeRate},
	} {
		if *f.dst, err = parseDecimal(f.col, f.raw); err != nil {
			return domain.SwapTransaction{}, err
		}
	}
	return tx, nil
}

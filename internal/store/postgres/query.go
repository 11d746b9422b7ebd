package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapguard/internal/domain"
)

const uniqueViolation = "23505"

// queryBuilder accumulates positional arguments for a dynamic WHERE clause.
type queryBuilder struct {
	sb     strings.Builder
	args   []any
	argIdx int
}

func newQuery(base string) *queryBuilder {
	q := &queryBuilder{argIdx: 1}
	q.sb.WriteString(base)
	return q
}

// where appends " AND <cond>" with every ? replaced by the next placeholder.
func (q *queryBuilder) where(cond string, arg any) {
	q.sb.WriteString(" AND ")
	q.sb.WriteString(strings.Replace(cond, "?", fmt.Sprintf("$%d", q.argIdx), 1))
	q.args = append(q.args, arg)
	q.argIdx++
}

func (q *queryBuilder) raw(s string) {
	q.sb.WriteString(s)
}

// timeRange applies Since/Until from opts to column.
func (q *queryBuilder) timeRange(column string, opts domain.ListOpts) {
	if opts.Since != nil {
		q.where(column+" >= ?", *opts.Since)
	}
	if opts.Until != nil {
		q.where(column+" <= ?", *opts.Until)
	}
}

// page applies LIMIT and OFFSET from opts.
func (q *queryBuilder) page(opts domain.ListOpts) {
	if opts.Limit > 0 {
		q.sb.WriteString(fmt.Sprintf(" LIMIT $%d", q.argIdx))
		q.args = append(q.args, opts.Limit)
		q.argIdx++
	}
	if opts.Offset > 0 {
		q.sb.WriteString(fmt.Sprintf(" OFFSET $%d", q.argIdx))
		q.args = append(q.args, opts.Offset)
		q.argIdx++
	}
}

func (q *queryBuilder) String() string { return q.sb.String() }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// parseDecimal reads a NUMERIC column selected as text.
func parseDecimal(col, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: parse %s %q: %w", col, s, err)
	}
	return d, nil
}

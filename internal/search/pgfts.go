package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across customers, bookings, and
// trip_proposals using plainto_tsquery and ts_rank, with ts_headline for
// snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultCustomer {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'customer'::text AS type, c.id, c.full_name AS title,
				ts_headline('english', coalesce(c.email, '') || ' ' || coalesce(c.notes, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS status,
				ts_rank(c.fts, %s) AS rank
			FROM customers c
			WHERE c.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultBooking {
		bookingWhere := "b.fts @@ " + tsQuery
		if q.FilterStatus != "" {
			bookingWhere += fmt.Sprintf(" AND b.status = $%d", argN)
			args = append(args, q.FilterStatus)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'booking'::text AS type, b.id, b.reference AS title,
				ts_headline('english', coalesce(b.tour_name, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				b.status,
				ts_rank(b.fts, %s) AS rank
			FROM bookings b
			WHERE %s`, tsQuery, tsQuery, bookingWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultTrip {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'trip'::text AS type, tp.id, tp.title,
				ts_headline('english', coalesce(tp.itinerary, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				tp.planning_phase AS status,
				ts_rank(tp.fts, %s) AS rank
			FROM trip_proposals tp
			WHERE tp.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "), limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts search: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var rtyp string
		if err := rows.Scan(&rtyp, &r.ID, &r.Title, &r.Snippet, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(rtyp)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgfts iterate: %w", err)
	}

	return results, total, nil
}

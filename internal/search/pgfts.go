package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher over the mission_entities table using
// PostgreSQL full-text search. It is the fallback when Meilisearch is
// unavailable and the entity store is Postgres.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true: without Postgres the entity store is down too.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs one sub-query per record type, ranked with ts_rank and
// excerpted with ts_headline.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text, q.MissionID}

	var subQueries []string
	if q.FilterType == "" || q.FilterType == ResultSection {
		doc := "to_tsvector('english', coalesce(s.value->>'title', '') || ' ' || coalesce(s.value->>'content', ''))"
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'kb_section'::text AS type, s.key AS id, coalesce(s.value->>'title', '') AS title,
				ts_headline('english', coalesce(s.value->>'content', ''), %[1]s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS status,
				ts_rank(%[2]s, %[1]s) AS rank
			FROM mission_entities e, jsonb_each(e.data->'sections') s
			WHERE e.mission_id = $2 AND e.scope = 'shared' AND e.entity_type = 'kb'
				AND %[2]s @@ %[1]s`, tsQuery, doc))
	}
	if q.FilterType == "" || q.FilterType == ResultRequest {
		doc := "to_tsvector('english', coalesce(e.data->>'title', '') || ' ' || coalesce(e.data->>'description', '') || ' ' || coalesce(e.data->>'resolution', ''))"
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'field_request'::text AS type, e.entity_id AS id, coalesce(e.data->>'title', '') AS title,
				ts_headline('english', coalesce(e.data->>'description', ''), %[1]s, 'MaxFragments=1,MaxWords=30') AS snippet,
				coalesce(e.data->>'status', '') AS status,
				ts_rank(%[2]s, %[1]s) AS rank
			FROM mission_entities e
			WHERE e.mission_id = $2 AND e.scope = 'shared' AND e.entity_type = 'requests'
				AND %[2]s @@ %[1]s`, tsQuery, doc))
	}
	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, union, limitOf(q), offset)

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		r := Result{MissionID: q.MissionID}
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

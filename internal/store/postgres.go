package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore is the durable Backend. Version monotonicity is enforced by
// the conditional upsert in Put, so concurrent processes cannot regress a
// record.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Get(ctx context.Context, key Key) (Record, error) {
	record := Record{Key: key}
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT version, data, updated_at
		FROM mission_entities
		WHERE mission_id=$1 AND scope=$2 AND entity_type=$3 AND entity_id=$4
	`, key.MissionID, key.Scope, key.Type, key.ID).Scan(&record.Version, &data, &record.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("get %s: %w", key, err)
	}
	record.Data = data
	return record, nil
}

func (s *PostgresStore) Put(ctx context.Context, record Record) error {
	if !record.Key.valid() {
		return fmt.Errorf("put %s: invalid key", record.Key)
	}
	key := record.Key
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO mission_entities (mission_id, scope, entity_type, entity_id, version, data, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, NOW())
		ON CONFLICT (mission_id, scope, entity_type, entity_id) DO UPDATE
		SET version = EXCLUDED.version, data = EXCLUDED.data, updated_at = NOW()
		WHERE mission_entities.version < EXCLUDED.version
	`, key.MissionID, key.Scope, key.Type, key.ID, record.Version, string(record.Data))
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("put %s rows affected: %w", key, err)
	}
	if affected == 0 {
		return ErrStale
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, missionID, scope, entityType string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, version, data, updated_at
		FROM mission_entities
		WHERE mission_id=$1 AND scope=$2 AND entity_type=$3
		ORDER BY entity_id
	`, missionID, scope, entityType)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	items := make([]Record, 0)
	for rows.Next() {
		record := Record{Key: Key{MissionID: missionID, Scope: scope, Type: entityType}}
		var data []byte
		if err := rows.Scan(&record.Key.ID, &record.Version, &data, &record.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		record.Data = data
		items = append(items, record)
	}
	return items, rows.Err()
}

func (s *PostgresStore) Missions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mission_id FROM mission_entities
		WHERE scope=$1 AND entity_type=$2
		ORDER BY mission_id
	`, ScopeShared, TypeStatus)
	if err != nil {
		return nil, fmt.Errorf("list missions: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan mission: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertParticipant records the display name the identity provider reported
// for a user.
func (s *PostgresStore) UpsertParticipant(ctx context.Context, userID, displayName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO participants (user_id, display_name, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET display_name = EXCLUDED.display_name, updated_at = NOW()
	`, userID, displayName)
	if err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}
	return nil
}

// DisplayName resolves a user id through the participants table.
func (s *PostgresStore) DisplayName(ctx context.Context, userID string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT display_name FROM participants WHERE user_id=$1`, userID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("participant %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("lookup participant: %w", err)
	}
	return name, nil
}

// Participant is a row of the participants table.
type Participant struct {
	UserID      string
	DisplayName string
	UpdatedAt   time.Time
}

func (s *PostgresStore) ListParticipants(ctx context.Context) ([]Participant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, display_name, updated_at FROM participants ORDER BY display_name`)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	items := make([]Participant, 0)
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.UserID, &p.DisplayName, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

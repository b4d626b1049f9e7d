package callstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists calls and events in Postgres.
//
// Expected schema:
//
//	CREATE TABLE voice_calls (
//	    id UUID PRIMARY KEY,
//	    to_phone_number TEXT NOT NULL,
//	    from_phone_number TEXT NOT NULL,
//	    organization_id TEXT,
//	    provider_call_id TEXT,
//	    status TEXT NOT NULL,
//	    duration_seconds INT,
//	    cost_cents INT,
//	    recording_url TEXT,
//	    metadata JSONB NOT NULL DEFAULT '{}',
//	    created_at TIMESTAMPTZ NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX voice_calls_provider_call_id_idx ON voice_calls (provider_call_id);
//
//	CREATE TABLE voice_call_events (
//	    id UUID PRIMARY KEY,
//	    voice_call_id UUID NOT NULL REFERENCES voice_calls (id),
//	    event_type TEXT NOT NULL,
//	    event_data JSONB,
//	    created_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX voice_call_events_call_idx ON voice_call_events (voice_call_id, created_at);
//
// voice_call_events is insert-only; no update or delete statements exist here.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a store backed by the given connection pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateCall(ctx context.Context, call *VoiceCall) error {
	metadataJSON, err := json.Marshal(call.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := `
		INSERT INTO voice_calls (
			id, to_phone_number, from_phone_number, organization_id,
			provider_call_id, status, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9)
	`
	_, err = s.db.Exec(ctx, query,
		call.ID, call.ToPhoneNumber, call.FromPhoneNumber, call.OrganizationID,
		call.ProviderCallID, call.Status, metadataJSON, call.CreatedAt, call.UpdatedAt,
	)
	return err
}

const callColumns = `
	id, to_phone_number, from_phone_number, COALESCE(organization_id, ''),
	COALESCE(provider_call_id, ''), status, duration_seconds, cost_cents,
	COALESCE(recording_url, ''), metadata, created_at, updated_at
`

func (s *PostgresStore) GetCall(ctx context.Context, id uuid.UUID) (*VoiceCall, error) {
	row := s.db.QueryRow(ctx, `SELECT `+callColumns+` FROM voice_calls WHERE id = $1`, id)
	return scanCall(row)
}

func (s *PostgresStore) GetCallByProviderID(ctx context.Context, providerCallID string) (*VoiceCall, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+callColumns+` FROM voice_calls WHERE provider_call_id = $1`, providerCallID)
	return scanCall(row)
}

func (s *PostgresStore) ListCalls(ctx context.Context, organizationID string, limit, offset int) ([]*VoiceCall, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + callColumns + ` FROM voice_calls`
	args := []any{}
	if organizationID != "" {
		query += ` WHERE organization_id = $1`
		args = append(args, organizationID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []*VoiceCall
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}
	return calls, rows.Err()
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id uuid.UUID, update StatusUpdate) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var current CallStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM voice_calls WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}

	// Duplicate or stale delivery: leave the row untouched.
	if update.Status == current || update.Status.Rank() <= current.Rank() {
		return false, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `
		UPDATE voice_calls SET
			status = $2,
			duration_seconds = COALESCE($3, duration_seconds),
			cost_cents = COALESCE($4, cost_cents),
			updated_at = $5
		WHERE id = $1
	`, id, update.Status, update.DurationSeconds, update.CostCents, time.Now().UTC())
	if err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (s *PostgresStore) SetRecordingURL(ctx context.Context, id uuid.UUID, url string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE voice_calls SET recording_url = $2, updated_at = $3 WHERE id = $1`,
		id, url, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, event *VoiceCallEvent) error {
	dataJSON, err := json.Marshal(event.EventData)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO voice_call_events (id, voice_call_id, event_type, event_data, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, event.ID, event.VoiceCallID, event.EventType, dataJSON, event.Timestamp)
	return err
}

func (s *PostgresStore) ListEvents(ctx context.Context, callID uuid.UUID) ([]*VoiceCallEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, voice_call_id, event_type, event_data, created_at
		FROM voice_call_events
		WHERE voice_call_id = $1
		ORDER BY created_at ASC
	`, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*VoiceCallEvent
	for rows.Next() {
		var event VoiceCallEvent
		var dataJSON []byte
		if err := rows.Scan(&event.ID, &event.VoiceCallID, &event.EventType, &dataJSON, &event.Timestamp); err != nil {
			return nil, err
		}
		if len(dataJSON) > 0 {
			if err := json.Unmarshal(dataJSON, &event.EventData); err != nil {
				return nil, fmt.Errorf("unmarshal event data: %w", err)
			}
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (*VoiceCall, error) {
	var call VoiceCall
	var metadataJSON []byte

	err := row.Scan(
		&call.ID, &call.ToPhoneNumber, &call.FromPhoneNumber, &call.OrganizationID,
		&call.ProviderCallID, &call.Status, &call.DurationSeconds, &call.CostCents,
		&call.RecordingURL, &metadataJSON, &call.CreatedAt, &call.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &call.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &call, nil
}

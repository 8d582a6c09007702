package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// InsertActivity appends one captain's log entry. Context is stored as JSONB;
// nil context becomes an empty object.
func (s *PostgresStore) InsertActivity(ctx context.Context, e ActivityEntry) error {
	payload := e.Context
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal activity context: %w", err)
	}

	actorType := e.ActorType
	if actorType == "" {
		actorType = "member"
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO captains_log (
			id, band_id, actor_id, actor_type, action, action_past,
			entity_type, entity_id, entity_name, context
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.BandID, e.ActorID, actorType, e.Action, e.ActionPast,
		e.EntityType, e.EntityID, e.EntityName, raw)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// ListActivity returns a filtered page of log entries, newest first, along
// with the total count matching the filter.
func (s *PostgresStore) ListActivity(ctx context.Context, bandID string, f ActivityFilter) ([]ActivityEntry, int, error) {
	where := `WHERE band_id = $1`
	args := []any{bandID}

	if f.EntityType != "" {
		args = append(args, f.EntityType)
		where += fmt.Sprintf(` AND entity_type = $%d`, len(args))
	}
	if f.ActorID != "" {
		args = append(args, f.ActorID)
		where += fmt.Sprintf(` AND actor_id = $%d`, len(args))
	}
	if f.Start != nil {
		args = append(args, *f.Start)
		where += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	if f.End != nil {
		args = append(args, *f.End)
		where += fmt.Sprintf(` AND created_at <= $%d`, len(args))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM captains_log `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count activity: %w", err)
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)
	query := fmt.Sprintf(`
		SELECT id, band_id, actor_id, actor_type, action, action_past,
			entity_type, entity_id, entity_name, context, created_at
		FROM captains_log %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	items := make([]ActivityEntry, 0)
	for rows.Next() {
		e, err := scanActivity(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate activity: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStore) GetActivityEntry(ctx context.Context, bandID, entryID string) (ActivityEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, band_id, actor_id, actor_type, action, action_past,
			entity_type, entity_id, entity_name, context, created_at
		FROM captains_log
		WHERE band_id = $1 AND id = $2
	`, bandID, entryID)
	return scanActivity(row)
}

func scanActivity(row interface{ Scan(...any) error }) (ActivityEntry, error) {
	var e ActivityEntry
	var raw []byte
	err := row.Scan(&e.ID, &e.BandID, &e.ActorID, &e.ActorType, &e.Action, &e.ActionPast,
		&e.EntityType, &e.EntityID, &e.EntityName, &raw, &e.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return ActivityEntry{}, err
		}
		return ActivityEntry{}, fmt.Errorf("scan activity: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &e.Context); err != nil {
			return ActivityEntry{}, fmt.Errorf("unmarshal activity context: %w", err)
		}
	}
	return e, nil
}

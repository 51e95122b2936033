package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hubline/crm/internal/crm/event"
	"github.com/hubline/crm/internal/crm/storage"
)

// AppendEvent validates that the client and manager share the hub, stamps
// the server time, and appends one immutable ledger row. Appended rows are
// never updated; only cascading client deletion removes them.
func (s *Store) AppendEvent(ctx context.Context, hubID int64, entry event.New) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	if err := s.ready(); err != nil {
		return event.Event{}, err
	}
	if entry.Type == "" {
		return event.Event{}, fmt.Errorf("event type is required")
	}
	if !event.ValidObject(entry.Data) {
		return event.Event{}, fmt.Errorf("event data must be a JSON object")
	}

	createdAt := time.Now().UTC()
	var appended event.Event
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, probe := range []struct {
			query string
			id    int64
		}{
			{`SELECT id FROM clients WHERE hub_id = ? AND id = ?`, entry.ClientID},
			{`SELECT id FROM managers WHERE hub_id = ? AND id = ?`, entry.ManagerID},
		} {
			var found int64
			row := tx.QueryRowContext(ctx, probe.query, hubID, probe.id)
			if err := row.Scan(&found); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return storage.ErrNotFound
				}
				return fmt.Errorf("resolve event reference: %w", err)
			}
		}
		result, err := tx.ExecContext(
			ctx,
			`INSERT INTO client_events (client_id, manager_id, event_type, event_data, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			entry.ClientID,
			entry.ManagerID,
			string(entry.Type),
			entry.Data,
			toMillis(createdAt),
		)
		if err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("read appended event id: %w", err)
		}
		appended = event.Event{
			ID:        id,
			ClientID:  entry.ClientID,
			ManagerID: entry.ManagerID,
			Type:      entry.Type,
			Data:      entry.Data,
			CreatedAt: createdAt,
		}
		return nil
	})
	if err != nil {
		return event.Event{}, err
	}
	return appended, nil
}

// ListEvents returns one newest-first page of a client's timeline. Same
// timestamp entries tie-break by row id, so insertion order is preserved.
// A missing or foreign-hub client yields an empty page.
func (s *Store) ListEvents(ctx context.Context, query storage.EventQuery) (storage.EventPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.EventPage{}, err
	}
	if err := s.ready(); err != nil {
		return storage.EventPage{}, err
	}
	limit := query.Limit
	if limit <= 0 {
		limit = 50
	}

	where := `e.client_id = ? AND c.hub_id = ?`
	args := []any{query.ClientID, query.HubID}
	if query.Type != "" {
		where += ` AND e.event_type = ?`
		args = append(args, string(query.Type))
	}

	var total int
	countRow := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM client_events e JOIN clients c ON c.id = e.client_id WHERE `+where,
		args...,
	)
	if err := countRow.Scan(&total); err != nil {
		return storage.EventPage{}, fmt.Errorf("count events: %w", err)
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT e.id, e.client_id, e.manager_id, e.event_type, e.event_data, e.created_at
		   FROM client_events e
		   JOIN clients c ON c.id = e.client_id
		  WHERE `+where+`
		  ORDER BY e.created_at DESC, e.id DESC
		  LIMIT ? OFFSET ?`,
		append(args, limit, query.Offset)...,
	)
	if err != nil {
		return storage.EventPage{}, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	page := storage.EventPage{Total: total}
	for rows.Next() {
		var entry event.Event
		var eventType string
		var createdAt int64
		if err := rows.Scan(
			&entry.ID,
			&entry.ClientID,
			&entry.ManagerID,
			&eventType,
			&entry.Data,
			&createdAt,
		); err != nil {
			return storage.EventPage{}, fmt.Errorf("list events: %w", err)
		}
		entry.Type = event.Type(eventType)
		entry.CreatedAt = fromMillis(createdAt)
		page.Events = append(page.Events, entry)
	}
	if err := rows.Err(); err != nil {
		return storage.EventPage{}, fmt.Errorf("list events: %w", err)
	}
	return page, nil
}

// EventExists probes for an exact duplicate (client, manager, type, payload).
// Ingest consumers use it to keep at-least-once delivery idempotent.
func (s *Store) EventExists(ctx context.Context, entry event.New) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := s.ready(); err != nil {
		return false, err
	}

	var found int
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT 1 FROM client_events
		  WHERE client_id = ? AND manager_id = ? AND event_type = ? AND event_data = ?
		  LIMIT 1`,
		entry.ClientID,
		entry.ManagerID,
		string(entry.Type),
		entry.Data,
	)
	if err := row.Scan(&found); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("probe duplicate event: %w", err)
	}
	return true, nil
}

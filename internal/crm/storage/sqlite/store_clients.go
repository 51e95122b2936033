package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hubline/crm/internal/crm/domain"
	"github.com/hubline/crm/internal/crm/storage"
)

// dbtx is the subset of database/sql shared by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const clientColumns = `id, public_id, hub_id, name, email, phone, fields, created_at`

func scanClient(scan func(dest ...any) error) (storage.Client, error) {
	var client storage.Client
	var email, phone sql.NullString
	var createdAt int64
	if err := scan(
		&client.ID,
		&client.PublicID,
		&client.HubID,
		&client.Name,
		&email,
		&phone,
		&client.SearchText,
		&createdAt,
	); err != nil {
		return storage.Client{}, err
	}
	client.Email = email.String
	client.Phone = phone.String
	client.CreatedAt = fromMillis(createdAt)
	return client, nil
}

func loadClientFields(ctx context.Context, q dbtx, clientID int64) (map[string]string, error) {
	rows, err := q.QueryContext(
		ctx,
		`SELECT field, value FROM client_fields WHERE client_id = ?`,
		clientID,
	)
	if err != nil {
		return nil, fmt.Errorf("load client fields: %w", err)
	}
	defer rows.Close()

	fields := make(map[string]string)
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, fmt.Errorf("load client fields: %w", err)
		}
		fields[field] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load client fields: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}

func replaceClientFields(ctx context.Context, tx *sql.Tx, clientID int64, fields map[string]string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM client_fields WHERE client_id = ?`, clientID); err != nil {
		return fmt.Errorf("clear client fields: %w", err)
	}
	for field, value := range fields {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO client_fields (client_id, field, value) VALUES (?, ?, ?)`,
			clientID,
			field,
			value,
		); err != nil {
			return fmt.Errorf("insert client field: %w", err)
		}
	}
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE clients SET fields = ? WHERE id = ?`,
		domain.SearchText(fields),
		clientID,
	); err != nil {
		return fmt.Errorf("update denormalized fields: %w", err)
	}
	return nil
}

// insertClient inserts the client row, regenerating the public id once on
// the unlikely collision with the unique index.
func insertClient(ctx context.Context, tx *sql.Tx, client storage.NewClient, createdAt time.Time) (int64, string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		publicID := domain.NewPublicID()
		result, err := tx.ExecContext(
			ctx,
			`INSERT INTO clients (hub_id, public_id, name, email, phone, fields, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			client.HubID,
			publicID,
			client.Name,
			nullable(client.Email),
			nullable(client.Phone),
			domain.SearchText(client.Fields),
			toMillis(createdAt),
		)
		if err != nil {
			if isPublicIDViolation(err) {
				continue
			}
			return 0, "", err
		}
		id, err := result.LastInsertId()
		if err != nil {
			return 0, "", fmt.Errorf("read inserted client id: %w", err)
		}
		return id, publicID, nil
	}
	return 0, "", fmt.Errorf("public id collision persisted across retries")
}

// CreateClient inserts one client, its custom fields, and its search
// document in a single transaction. Identity collisions within the hub
// surface as ErrConflict.
func (s *Store) CreateClient(ctx context.Context, client storage.NewClient) (storage.Client, error) {
	if err := ctx.Err(); err != nil {
		return storage.Client{}, err
	}
	if err := s.ready(); err != nil {
		return storage.Client{}, err
	}
	if client.HubID <= 0 {
		return storage.Client{}, fmt.Errorf("hub id is required")
	}

	createdAt := time.Now().UTC()
	var created storage.Client
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		id, publicID, err := insertClient(ctx, tx, client, createdAt)
		if err != nil {
			if isUniqueViolation(err) {
				return storage.ErrConflict
			}
			return fmt.Errorf("insert client: %w", err)
		}
		if err := replaceClientFields(ctx, tx, id, client.Fields); err != nil {
			return err
		}
		if err := syncSearchDoc(ctx, tx, id); err != nil {
			return err
		}
		created = storage.Client{
			ID:         id,
			PublicID:   publicID,
			HubID:      client.HubID,
			Name:       client.Name,
			Email:      client.Email,
			Phone:      client.Phone,
			Fields:     client.Fields,
			SearchText: domain.SearchText(client.Fields),
			CreatedAt:  createdAt,
		}
		return nil
	})
	if err != nil {
		return storage.Client{}, err
	}
	return created, nil
}

// UpsertClients inserts or updates each item independently: matching by
// email first, phone second; one bad item never blocks the rest. Outcomes
// line up with the input slice.
func (s *Store) UpsertClients(ctx context.Context, clients []storage.NewClient) []storage.UpsertOutcome {
	outcomes := make([]storage.UpsertOutcome, len(clients))
	for i, client := range clients {
		outcomes[i] = storage.UpsertOutcome{Name: client.Name, Email: client.Email}
		if err := ctx.Err(); err != nil {
			outcomes[i].Err = err
			continue
		}
		inserted, err := s.upsertClient(ctx, client)
		if err != nil {
			outcomes[i].Err = err
			continue
		}
		outcomes[i].Inserted = inserted
		outcomes[i].Updated = !inserted
	}
	return outcomes
}

func (s *Store) upsertClient(ctx context.Context, client storage.NewClient) (inserted bool, err error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	if client.HubID <= 0 {
		return false, fmt.Errorf("hub id is required")
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		existingID, err := findClientByIdentity(ctx, tx, client)
		if err != nil {
			return err
		}
		if existingID == 0 {
			id, _, err := insertClient(ctx, tx, client, time.Now().UTC())
			if err != nil {
				if isUniqueViolation(err) {
					return storage.ErrConflict
				}
				return fmt.Errorf("insert client: %w", err)
			}
			inserted = true
			if err := replaceClientFields(ctx, tx, id, client.Fields); err != nil {
				return err
			}
			return syncSearchDoc(ctx, tx, id)
		}
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE clients SET name = ?, email = ?, phone = ? WHERE id = ?`,
			client.Name,
			nullable(client.Email),
			nullable(client.Phone),
			existingID,
		); err != nil {
			if isUniqueViolation(err) {
				return storage.ErrConflict
			}
			return fmt.Errorf("update client: %w", err)
		}
		if err := replaceClientFields(ctx, tx, existingID, client.Fields); err != nil {
			return err
		}
		return syncSearchDoc(ctx, tx, existingID)
	})
	return inserted, err
}

// findClientByIdentity resolves an existing row by (hub, email) first and
// (hub, phone) as a fallback. Zero means no match.
func findClientByIdentity(ctx context.Context, tx *sql.Tx, client storage.NewClient) (int64, error) {
	lookup := func(column, value string) (int64, error) {
		var id int64
		row := tx.QueryRowContext(
			ctx,
			`SELECT id FROM clients WHERE hub_id = ? AND `+column+` = ?`,
			client.HubID,
			value,
		)
		if err := row.Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return 0, nil
			}
			return 0, fmt.Errorf("find client by %s: %w", column, err)
		}
		return id, nil
	}
	if client.Email != "" {
		if id, err := lookup("email", client.Email); err != nil || id != 0 {
			return id, err
		}
	}
	if client.Phone != "" {
		return lookup("phone", client.Phone)
	}
	return 0, nil
}

func (s *Store) getClient(ctx context.Context, where string, args ...any) (storage.Client, error) {
	if err := ctx.Err(); err != nil {
		return storage.Client{}, err
	}
	if err := s.ready(); err != nil {
		return storage.Client{}, err
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT `+clientColumns+` FROM clients WHERE `+where,
		args...,
	)
	client, err := scanClient(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Client{}, storage.ErrNotFound
		}
		return storage.Client{}, fmt.Errorf("get client: %w", err)
	}
	client.Fields, err = loadClientFields(ctx, s.sqlDB, client.ID)
	if err != nil {
		return storage.Client{}, err
	}
	return client, nil
}

// GetClientByID returns one client scoped to a hub.
func (s *Store) GetClientByID(ctx context.Context, hubID, clientID int64) (storage.Client, error) {
	return s.getClient(ctx, `hub_id = ? AND id = ?`, hubID, clientID)
}

// GetClientByPublicID returns one client by its public identifier.
func (s *Store) GetClientByPublicID(ctx context.Context, hubID int64, publicID string) (storage.Client, error) {
	return s.getClient(ctx, `hub_id = ? AND public_id = ?`, hubID, publicID)
}

// GetClientByEmail returns one client by its normalized email.
func (s *Store) GetClientByEmail(ctx context.Context, hubID int64, email string) (storage.Client, error) {
	return s.getClient(ctx, `hub_id = ? AND email = ?`, hubID, email)
}

// ListClients returns one hub-scoped page. Search terms run through the
// full-text index; hub scoping is applied in SQL over the global index.
// List results carry the denormalized search text but not the field map.
func (s *Store) ListClients(ctx context.Context, query storage.ClientQuery) (storage.ClientPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.ClientPage{}, err
	}
	if err := s.ready(); err != nil {
		return storage.ClientPage{}, err
	}
	if query.HubID <= 0 {
		return storage.ClientPage{}, fmt.Errorf("hub id is required")
	}
	limit := query.Limit
	if limit <= 0 {
		limit = 50
	}

	where := []string{"c.hub_id = ?"}
	args := []any{query.HubID}
	joins := ""
	orderBy := "c.id DESC"

	if query.ManagerID != 0 {
		joins += " JOIN client_managers cm ON cm.client_id = c.id"
		where = append(where, "cm.manager_id = ?")
		args = append(args, query.ManagerID)
	}
	if query.PublicID != "" {
		where = append(where, "c.public_id = ?")
		args = append(args, query.PublicID)
	}
	if match := buildMatchQuery(query.Search); match != "" {
		joins += " JOIN client_search cs ON cs.rowid = c.id"
		where = append(where, "cs.client_search MATCH ?")
		args = append(args, match)
		orderBy = "cs.rank"
	}
	whereClause := " WHERE " + joinAnd(where)

	var total int
	countRow := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM clients c`+joins+whereClause,
		args...,
	)
	if err := countRow.Scan(&total); err != nil {
		return storage.ClientPage{}, fmt.Errorf("count clients: %w", err)
	}

	selectCols := `c.id, c.public_id, c.hub_id, c.name, c.email, c.phone, c.fields, c.created_at`
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT `+selectCols+` FROM clients c`+joins+whereClause+
			` ORDER BY `+orderBy+` LIMIT ? OFFSET ?`,
		append(args, limit, query.Offset)...,
	)
	if err != nil {
		return storage.ClientPage{}, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	page := storage.ClientPage{Total: total}
	for rows.Next() {
		client, err := scanClient(rows.Scan)
		if err != nil {
			return storage.ClientPage{}, fmt.Errorf("list clients: %w", err)
		}
		page.Clients = append(page.Clients, client)
	}
	if err := rows.Err(); err != nil {
		return storage.ClientPage{}, fmt.Errorf("list clients: %w", err)
	}
	return page, nil
}

func joinAnd(conditions []string) string {
	out := conditions[0]
	for _, condition := range conditions[1:] {
		out += " AND " + condition
	}
	return out
}

// UpdateClient rewrites the core fields and the full custom-field set, then
// re-derives the search document, all in one transaction.
func (s *Store) UpdateClient(ctx context.Context, hubID, clientID int64, update storage.UpdateClient) (storage.Client, error) {
	if err := ctx.Err(); err != nil {
		return storage.Client{}, err
	}
	if err := s.ready(); err != nil {
		return storage.Client{}, err
	}

	var updated storage.Client
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var createdAt int64
		var publicID string
		row := tx.QueryRowContext(
			ctx,
			`SELECT public_id, created_at FROM clients WHERE hub_id = ? AND id = ?`,
			hubID,
			clientID,
		)
		if err := row.Scan(&publicID, &createdAt); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("read client: %w", err)
		}
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE clients SET name = ?, email = ?, phone = ? WHERE id = ?`,
			update.Name,
			nullable(update.Email),
			nullable(update.Phone),
			clientID,
		); err != nil {
			if isUniqueViolation(err) {
				return storage.ErrConflict
			}
			return fmt.Errorf("update client: %w", err)
		}
		if err := replaceClientFields(ctx, tx, clientID, update.Fields); err != nil {
			return err
		}
		if err := syncSearchDoc(ctx, tx, clientID); err != nil {
			return err
		}
		updated = storage.Client{
			ID:         clientID,
			PublicID:   publicID,
			HubID:      hubID,
			Name:       update.Name,
			Email:      update.Email,
			Phone:      update.Phone,
			Fields:     update.Fields,
			SearchText: domain.SearchText(update.Fields),
			CreatedAt:  fromMillis(createdAt),
		}
		return nil
	})
	if err != nil {
		return storage.Client{}, err
	}
	return updated, nil
}

// DeleteClient cascades in one transaction: events, manager links, custom
// fields, the search document, then the client row.
func (s *Store) DeleteClient(ctx context.Context, hubID, clientID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var id int64
		row := tx.QueryRowContext(
			ctx,
			`SELECT id FROM clients WHERE hub_id = ? AND id = ?`,
			hubID,
			clientID,
		)
		if err := row.Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("read client: %w", err)
		}
		for _, stmt := range []string{
			`DELETE FROM client_events WHERE client_id = ?`,
			`DELETE FROM client_managers WHERE client_id = ?`,
			`DELETE FROM client_fields WHERE client_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, clientID); err != nil {
				return fmt.Errorf("cascade delete client: %w", err)
			}
		}
		if err := deleteSearchDoc(ctx, tx, clientID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM clients WHERE id = ?`, clientID); err != nil {
			return fmt.Errorf("delete client: %w", err)
		}
		return nil
	})
}

// RebuildSearchIndex recomputes every search document from the source
// tables. The result must match the incrementally maintained index byte for
// byte.
func (s *Store) RebuildSearchIndex(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM client_search`); err != nil {
			return fmt.Errorf("clear search index: %w", err)
		}
		rows, err := tx.QueryContext(ctx, `SELECT id FROM clients`)
		if err != nil {
			return fmt.Errorf("list clients for rebuild: %w", err)
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("list clients for rebuild: %w", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("list clients for rebuild: %w", err)
		}
		rows.Close()
		for _, id := range ids {
			fields, err := loadClientFields(ctx, tx, id)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(
				ctx,
				`UPDATE clients SET fields = ? WHERE id = ?`,
				domain.SearchText(fields),
				id,
			); err != nil {
				return fmt.Errorf("rederive denormalized fields: %w", err)
			}
			if err := syncSearchDoc(ctx, tx, id); err != nil {
				return err
			}
		}
		return nil
	})
}

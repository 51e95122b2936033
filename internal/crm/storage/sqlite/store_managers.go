package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hubline/crm/internal/crm/storage"
)

const managerColumns = `id, hub_id, name, email, is_user, created_at`

func scanManager(scan func(dest ...any) error) (storage.Manager, error) {
	var manager storage.Manager
	var isUser int
	var createdAt int64
	if err := scan(
		&manager.ID,
		&manager.HubID,
		&manager.Name,
		&manager.Email,
		&isUser,
		&createdAt,
	); err != nil {
		return storage.Manager{}, err
	}
	manager.IsUser = isUser != 0
	manager.CreatedAt = fromMillis(createdAt)
	return manager, nil
}

// CreateOrUpdateManager upserts on (hub, email). The name refreshes on every
// call; is_user latches true and never falls back to false.
func (s *Store) CreateOrUpdateManager(ctx context.Context, manager storage.NewManager) (storage.Manager, error) {
	if err := ctx.Err(); err != nil {
		return storage.Manager{}, err
	}
	if err := s.ready(); err != nil {
		return storage.Manager{}, err
	}
	if manager.HubID <= 0 {
		return storage.Manager{}, fmt.Errorf("hub id is required")
	}

	var result storage.Manager
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(
			ctx,
			`SELECT `+managerColumns+` FROM managers WHERE hub_id = ? AND email = ?`,
			manager.HubID,
			manager.Email,
		)
		existing, err := scanManager(row.Scan)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("find manager: %w", err)
		}
		if errors.Is(err, sql.ErrNoRows) {
			createdAt := time.Now().UTC()
			isUser := 0
			if manager.IsUser {
				isUser = 1
			}
			insert, err := tx.ExecContext(
				ctx,
				`INSERT INTO managers (hub_id, name, email, is_user, created_at) VALUES (?, ?, ?, ?, ?)`,
				manager.HubID,
				manager.Name,
				manager.Email,
				isUser,
				toMillis(createdAt),
			)
			if err != nil {
				if isUniqueViolation(err) {
					return storage.ErrConflict
				}
				return fmt.Errorf("insert manager: %w", err)
			}
			id, err := insert.LastInsertId()
			if err != nil {
				return fmt.Errorf("read inserted manager id: %w", err)
			}
			result = storage.Manager{
				ID:        id,
				HubID:     manager.HubID,
				Name:      manager.Name,
				Email:     manager.Email,
				IsUser:    manager.IsUser,
				CreatedAt: createdAt,
			}
			return nil
		}

		isUser := existing.IsUser || manager.IsUser
		isUserValue := 0
		if isUser {
			isUserValue = 1
		}
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE managers SET name = ?, is_user = ? WHERE id = ?`,
			manager.Name,
			isUserValue,
			existing.ID,
		); err != nil {
			return fmt.Errorf("update manager: %w", err)
		}
		result = existing
		result.Name = manager.Name
		result.IsUser = isUser
		return nil
	})
	if err != nil {
		return storage.Manager{}, err
	}
	return result, nil
}

// GetManagerByID returns one manager scoped to a hub.
func (s *Store) GetManagerByID(ctx context.Context, hubID, managerID int64) (storage.Manager, error) {
	return s.getManager(ctx, `hub_id = ? AND id = ?`, hubID, managerID)
}

// GetManagerByEmail returns one manager by its normalized email.
func (s *Store) GetManagerByEmail(ctx context.Context, hubID int64, email string) (storage.Manager, error) {
	return s.getManager(ctx, `hub_id = ? AND email = ?`, hubID, email)
}

func (s *Store) getManager(ctx context.Context, where string, args ...any) (storage.Manager, error) {
	if err := ctx.Err(); err != nil {
		return storage.Manager{}, err
	}
	if err := s.ready(); err != nil {
		return storage.Manager{}, err
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT `+managerColumns+` FROM managers WHERE `+where,
		args...,
	)
	manager, err := scanManager(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Manager{}, storage.ErrNotFound
		}
		return storage.Manager{}, fmt.Errorf("get manager: %w", err)
	}
	return manager, nil
}

// ListManagersWithClients returns every manager in the hub with its assigned
// client ids.
func (s *Store) ListManagersWithClients(ctx context.Context, hubID int64) ([]storage.ManagerWithClients, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT `+managerColumns+` FROM managers WHERE hub_id = ? ORDER BY name, id`,
		hubID,
	)
	if err != nil {
		return nil, fmt.Errorf("list managers: %w", err)
	}
	defer rows.Close()

	var managers []storage.ManagerWithClients
	index := make(map[int64]int)
	for rows.Next() {
		manager, err := scanManager(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("list managers: %w", err)
		}
		index[manager.ID] = len(managers)
		managers = append(managers, storage.ManagerWithClients{Manager: manager})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list managers: %w", err)
	}

	linkRows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT cm.manager_id, cm.client_id
		   FROM client_managers cm
		   JOIN managers m ON m.id = cm.manager_id
		  WHERE m.hub_id = ?
		  ORDER BY cm.client_id`,
		hubID,
	)
	if err != nil {
		return nil, fmt.Errorf("list manager assignments: %w", err)
	}
	defer linkRows.Close()

	for linkRows.Next() {
		var managerID, clientID int64
		if err := linkRows.Scan(&managerID, &clientID); err != nil {
			return nil, fmt.Errorf("list manager assignments: %w", err)
		}
		if i, ok := index[managerID]; ok {
			managers[i].ClientIDs = append(managers[i].ClientIDs, clientID)
		}
	}
	if err := linkRows.Err(); err != nil {
		return nil, fmt.Errorf("list manager assignments: %w", err)
	}
	return managers, nil
}

// AssignClients replaces the manager's full assignment set: old links are
// removed and the new set inserted atomically. Managers or clients outside
// the hub fail with ErrNotFound.
func (s *Store) AssignClients(ctx context.Context, hubID, managerID int64, clientIDs []int64) error {
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
			`SELECT id FROM managers WHERE hub_id = ? AND id = ?`,
			hubID,
			managerID,
		)
		if err := row.Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("read manager: %w", err)
		}
		for _, clientID := range clientIDs {
			var found int64
			row := tx.QueryRowContext(
				ctx,
				`SELECT id FROM clients WHERE hub_id = ? AND id = ?`,
				hubID,
				clientID,
			)
			if err := row.Scan(&found); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return storage.ErrNotFound
				}
				return fmt.Errorf("read client: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM client_managers WHERE manager_id = ?`, managerID); err != nil {
			return fmt.Errorf("clear manager assignments: %w", err)
		}
		for _, clientID := range clientIDs {
			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO client_managers (client_id, manager_id) VALUES (?, ?)`,
				clientID,
				managerID,
			); err != nil {
				return fmt.Errorf("insert manager assignment: %w", err)
			}
		}
		return nil
	})
}

// ClientAssignedToManager reports whether the hub-scoped link exists.
func (s *Store) ClientAssignedToManager(ctx context.Context, hubID, clientID, managerID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := s.ready(); err != nil {
		return false, err
	}

	var found int
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT 1
		   FROM client_managers cm
		   JOIN clients c ON c.id = cm.client_id
		  WHERE cm.client_id = ? AND cm.manager_id = ? AND c.hub_id = ?`,
		clientID,
		managerID,
		hubID,
	)
	if err := row.Scan(&found); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check assignment: %w", err)
	}
	return true, nil
}

// Package app implements the CRM application service: the role-scoped query
// façade, entity mutations, timeline writes, and CSV import. Hub and role
// always come from the authenticated user, never from caller input.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/hubline/crm/internal/crm/auth"
	"github.com/hubline/crm/internal/crm/bus"
	"github.com/hubline/crm/internal/crm/storage"
	apperrors "github.com/hubline/crm/internal/platform/errors"
)

// Service coordinates storage and the outbound bus for all CRM operations.
type Service struct {
	store     storage.Store
	publisher bus.Publisher
}

// New builds a Service. The publisher may be nil when the process does not
// send email; Email comment events then fail with a bus error.
func New(store storage.Store, publisher bus.Publisher) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	return &Service{store: store, publisher: publisher}, nil
}

// requireRole returns an Unauthorized error unless the user has the role.
func requireRole(user auth.User, role string) error {
	if !user.HasRole(role) {
		return apperrors.WithMetadata(apperrors.CodeUnauthorized, "missing required role",
			map[string]string{"role": role})
	}
	return nil
}

// storeError maps storage sentinels to the domain error taxonomy.
func storeError(operation string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.Wrap(apperrors.CodeNotFound, operation, err)
	case errors.Is(err, storage.ErrConflict):
		return apperrors.Wrap(apperrors.CodeConflict, operation, err)
	default:
		return apperrors.Wrap(apperrors.CodeStorageUnavailable, fmt.Sprintf("%s: storage failure", operation), err)
	}
}

// authorizeClientView enforces the restricted-role visibility rule on
// single-client reads: admins see the hub, managers only their assigned
// clients. Denials surface as NotFound so existence never leaks.
func (s *Service) authorizeClientView(ctx context.Context, user auth.User, clientID int64) error {
	if user.HasRole(auth.RoleAdmin) {
		return nil
	}
	if !user.HasRole(auth.RoleManager) {
		return apperrors.New(apperrors.CodeNotFound, "client not found")
	}
	manager, err := s.sessionManager(ctx, user)
	if err != nil {
		return err
	}
	assigned, err := s.store.ClientAssignedToManager(ctx, user.HubID, clientID, manager.ID)
	if err != nil {
		return storeError("check assignment", err)
	}
	if !assigned {
		return apperrors.New(apperrors.CodeNotFound, "client not found")
	}
	return nil
}

// sessionManager upserts the manager row mirroring the authenticated user.
// The row is the acting identity for timeline writes and the anchor for
// restricted-role listing.
func (s *Service) sessionManager(ctx context.Context, user auth.User) (storage.Manager, error) {
	name := user.Name
	if name == "" {
		name = user.Email
	}
	manager, err := s.store.CreateOrUpdateManager(ctx, storage.NewManager{
		HubID:  user.HubID,
		Name:   name,
		Email:  user.Email,
		IsUser: true,
	})
	if err != nil {
		return storage.Manager{}, storeError("upsert session manager", err)
	}
	return manager, nil
}

package app

import (
	"context"
	"errors"

	"github.com/hubline/crm/internal/crm/auth"
	"github.com/hubline/crm/internal/crm/domain"
	"github.com/hubline/crm/internal/crm/storage"
	apperrors "github.com/hubline/crm/internal/platform/errors"
)

// ListManagers returns every manager in the hub with its assignments.
// Admin only.
func (s *Service) ListManagers(ctx context.Context, user auth.User) ([]storage.ManagerWithClients, error) {
	if err := requireRole(user, auth.RoleAdmin); err != nil {
		return nil, err
	}
	managers, err := s.store.ListManagersWithClients(ctx, user.HubID)
	if err != nil {
		return nil, storeError("list managers", err)
	}
	return managers, nil
}

// AddManager creates one manager. Unlike the session-driven upsert, an
// explicit add of an existing (hub, email) fails with Conflict. Admin only.
func (s *Service) AddManager(ctx context.Context, user auth.User, name, email string) (storage.Manager, error) {
	if err := requireRole(user, auth.RoleAdmin); err != nil {
		return storage.Manager{}, err
	}
	normalizedName, err := domain.NormalizeManagerName(name)
	if err != nil {
		return storage.Manager{}, err
	}
	normalizedEmail, err := domain.NormalizeManagerEmail(email)
	if err != nil {
		return storage.Manager{}, err
	}

	_, err = s.store.GetManagerByEmail(ctx, user.HubID, normalizedEmail)
	if err == nil {
		return storage.Manager{}, apperrors.WithMetadata(apperrors.CodeConflict, "manager email already exists",
			map[string]string{"email": normalizedEmail})
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.Manager{}, storeError("find manager", err)
	}

	manager, err := s.store.CreateOrUpdateManager(ctx, storage.NewManager{
		HubID: user.HubID,
		Name:  normalizedName,
		Email: normalizedEmail,
	})
	if err != nil {
		return storage.Manager{}, storeError("create manager", err)
	}
	return manager, nil
}

// AssignManager replaces a manager's full client assignment set with the
// clients named by public id. Admin only.
func (s *Service) AssignManager(ctx context.Context, user auth.User, managerID int64, clientPublicIDs []string) error {
	if err := requireRole(user, auth.RoleAdmin); err != nil {
		return err
	}
	clientIDs := make([]int64, 0, len(clientPublicIDs))
	for _, publicID := range clientPublicIDs {
		if !domain.ValidPublicID(publicID) {
			return apperrors.New(apperrors.CodeInvalidPublicID, "invalid client identifier")
		}
		client, err := s.store.GetClientByPublicID(ctx, user.HubID, publicID)
		if err != nil {
			return storeError("get client", err)
		}
		clientIDs = append(clientIDs, client.ID)
	}
	if err := s.store.AssignClients(ctx, user.HubID, managerID, clientIDs); err != nil {
		return storeError("assign clients", err)
	}
	return nil
}

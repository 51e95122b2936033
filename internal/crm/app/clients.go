package app

import (
	"context"

	"github.com/hubline/crm/internal/crm/auth"
	"github.com/hubline/crm/internal/crm/domain"
	"github.com/hubline/crm/internal/crm/event"
	"github.com/hubline/crm/internal/crm/storage"
	apperrors "github.com/hubline/crm/internal/platform/errors"
)

const defaultPerPage = 25

// ListQuery filters and paginates the client directory.
type ListQuery struct {
	PublicID string
	Search   string
	Page     int
	PerPage  int
}

// ClientList is one role-scoped page of the client directory.
type ClientList struct {
	Clients []storage.Client
	Total   int
	Page    int
	PerPage int
}

// ClientInput carries raw client fields from a form or API call.
type ClientInput struct {
	Name   string
	Email  string
	Phone  string
	Fields map[string]string
}

func (in ClientInput) normalize() (storage.NewClient, error) {
	name, err := domain.NormalizeClientName(in.Name)
	if err != nil {
		return storage.NewClient{}, err
	}
	email, err := domain.NormalizeEmail(in.Email)
	if err != nil {
		return storage.NewClient{}, err
	}
	phone, err := domain.NormalizePhone(in.Phone)
	if err != nil {
		return storage.NewClient{}, err
	}
	return storage.NewClient{
		Name:   name,
		Email:  email,
		Phone:  phone,
		Fields: domain.NormalizeFields(in.Fields),
	}, nil
}

// ListClients returns the caller's view of the hub directory. Admins see
// every client, managers only their assigned set, and holders of neither
// qualifying role get an empty page. A syntactically invalid public-id
// filter short-circuits to an empty page without touching the store.
func (s *Service) ListClients(ctx context.Context, user auth.User, query ListQuery) (ClientList, error) {
	if err := requireRole(user, auth.RoleCRM); err != nil {
		return ClientList{}, err
	}

	page := query.Page
	if page < 1 {
		page = 1
	}
	perPage := query.PerPage
	if perPage < 1 {
		perPage = defaultPerPage
	}
	list := ClientList{Page: page, PerPage: perPage}

	if query.PublicID != "" && !domain.ValidPublicID(query.PublicID) {
		return list, nil
	}

	storeQuery := storage.ClientQuery{
		HubID:    user.HubID,
		PublicID: query.PublicID,
		Search:   query.Search,
		Offset:   (page - 1) * perPage,
		Limit:    perPage,
	}
	switch {
	case user.HasRole(auth.RoleAdmin):
	case user.HasRole(auth.RoleManager):
		manager, err := s.sessionManager(ctx, user)
		if err != nil {
			return ClientList{}, err
		}
		storeQuery.ManagerID = manager.ID
	default:
		return list, nil
	}

	result, err := s.store.ListClients(ctx, storeQuery)
	if err != nil {
		return ClientList{}, storeError("list clients", err)
	}
	list.Clients = result.Clients
	list.Total = result.Total
	return list, nil
}

// ClientDetails combines a client with its managers, timeline page,
// extracted document links, and the custom-field partition into the hub's
// important labels and the rest.
type ClientDetails struct {
	Client          storage.Client
	Managers        []storage.Manager
	Events          storage.EventPage
	DocumentLinks   []event.DocumentLinkPayload
	ImportantFields map[string]string
	OtherFields     map[string]string
}

// ClientDetails loads the detail view for one client by public id.
func (s *Service) ClientDetails(ctx context.Context, user auth.User, publicID string, eventsPage, eventsPerPage int) (ClientDetails, error) {
	if err := requireRole(user, auth.RoleCRM); err != nil {
		return ClientDetails{}, err
	}
	if !domain.ValidPublicID(publicID) {
		return ClientDetails{}, apperrors.New(apperrors.CodeInvalidPublicID, "invalid client identifier")
	}

	client, err := s.store.GetClientByPublicID(ctx, user.HubID, publicID)
	if err != nil {
		return ClientDetails{}, storeError("get client", err)
	}
	if err := s.authorizeClientView(ctx, user, client.ID); err != nil {
		return ClientDetails{}, err
	}

	if eventsPage < 1 {
		eventsPage = 1
	}
	if eventsPerPage < 1 {
		eventsPerPage = defaultPerPage
	}
	events, err := s.store.ListEvents(ctx, storage.EventQuery{
		HubID:    user.HubID,
		ClientID: client.ID,
		Offset:   (eventsPage - 1) * eventsPerPage,
		Limit:    eventsPerPage,
	})
	if err != nil {
		return ClientDetails{}, storeError("list events", err)
	}

	var links []event.DocumentLinkPayload
	for _, entry := range events.Events {
		if entry.Type != event.TypeDocumentLink {
			continue
		}
		payload, err := event.Decode(entry.Type, entry.Data)
		if err != nil {
			continue
		}
		if link, ok := payload.(event.DocumentLinkPayload); ok {
			links = append(links, link)
		}
	}

	managers, err := s.assignedManagers(ctx, user.HubID, client.ID)
	if err != nil {
		return ClientDetails{}, err
	}

	important, err := s.store.ListImportantFields(ctx, user.HubID)
	if err != nil {
		return ClientDetails{}, storeError("list important fields", err)
	}
	importantSet := make(map[string]bool, len(important))
	for _, field := range important {
		importantSet[field] = true
	}
	details := ClientDetails{
		Client:        client,
		Managers:      managers,
		Events:        events,
		DocumentLinks: links,
	}
	for field, value := range client.Fields {
		if importantSet[field] {
			if details.ImportantFields == nil {
				details.ImportantFields = make(map[string]string)
			}
			details.ImportantFields[field] = value
		} else {
			if details.OtherFields == nil {
				details.OtherFields = make(map[string]string)
			}
			details.OtherFields[field] = value
		}
	}
	return details, nil
}

func (s *Service) assignedManagers(ctx context.Context, hubID, clientID int64) ([]storage.Manager, error) {
	withClients, err := s.store.ListManagersWithClients(ctx, hubID)
	if err != nil {
		return nil, storeError("list managers", err)
	}
	var managers []storage.Manager
	for _, mc := range withClients {
		for _, id := range mc.ClientIDs {
			if id == clientID {
				managers = append(managers, mc.Manager)
				break
			}
		}
	}
	return managers, nil
}

// AddClient validates input and creates one client. Identity collisions in
// the hub surface as Conflict.
func (s *Service) AddClient(ctx context.Context, user auth.User, input ClientInput) (storage.Client, error) {
	if err := requireRole(user, auth.RoleCRM); err != nil {
		return storage.Client{}, err
	}
	client, err := input.normalize()
	if err != nil {
		return storage.Client{}, err
	}
	client.HubID = user.HubID
	created, err := s.store.CreateClient(ctx, client)
	if err != nil {
		return storage.Client{}, storeError("create client", err)
	}
	return created, nil
}

// SaveClient updates a client's core fields and replaces its custom fields.
func (s *Service) SaveClient(ctx context.Context, user auth.User, publicID string, input ClientInput) (storage.Client, error) {
	if err := requireRole(user, auth.RoleCRM); err != nil {
		return storage.Client{}, err
	}
	if !domain.ValidPublicID(publicID) {
		return storage.Client{}, apperrors.New(apperrors.CodeInvalidPublicID, "invalid client identifier")
	}
	normalized, err := input.normalize()
	if err != nil {
		return storage.Client{}, err
	}
	client, err := s.store.GetClientByPublicID(ctx, user.HubID, publicID)
	if err != nil {
		return storage.Client{}, storeError("get client", err)
	}
	updated, err := s.store.UpdateClient(ctx, user.HubID, client.ID, storage.UpdateClient{
		Name:   normalized.Name,
		Email:  normalized.Email,
		Phone:  normalized.Phone,
		Fields: normalized.Fields,
	})
	if err != nil {
		return storage.Client{}, storeError("update client", err)
	}
	return updated, nil
}

// DeleteClient removes a client and everything it owns. Admin only.
func (s *Service) DeleteClient(ctx context.Context, user auth.User, publicID string) error {
	if err := requireRole(user, auth.RoleAdmin); err != nil {
		return err
	}
	if !domain.ValidPublicID(publicID) {
		return apperrors.New(apperrors.CodeInvalidPublicID, "invalid client identifier")
	}
	client, err := s.store.GetClientByPublicID(ctx, user.HubID, publicID)
	if err != nil {
		return storeError("get client", err)
	}
	if err := s.store.DeleteClient(ctx, user.HubID, client.ID); err != nil {
		return storeError("delete client", err)
	}
	return nil
}

// ListImportantFields returns the hub's configured important field labels.
func (s *Service) ListImportantFields(ctx context.Context, user auth.User) ([]string, error) {
	if err := requireRole(user, auth.RoleCRM); err != nil {
		return nil, err
	}
	fields, err := s.store.ListImportantFields(ctx, user.HubID)
	if err != nil {
		return nil, storeError("list important fields", err)
	}
	return fields, nil
}

// ReplaceImportantFields swaps the hub's important field labels. Admin only.
func (s *Service) ReplaceImportantFields(ctx context.Context, user auth.User, fields []string) error {
	if err := requireRole(user, auth.RoleAdmin); err != nil {
		return err
	}
	if err := s.store.ReplaceImportantFields(ctx, user.HubID, fields); err != nil {
		return storeError("replace important fields", err)
	}
	return nil
}

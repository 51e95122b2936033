// Package storage defines persistence contracts for CRM state.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hubline/crm/internal/crm/event"
)

var (
	// ErrNotFound indicates a requested record is missing or belongs to
	// another hub.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a uniqueness-constrained record already exists.
	ErrConflict = errors.New("record already exists")
)

// Client is one CRM contact record. Email and Phone are empty when absent;
// Fields holds the custom field set and SearchText its denormalized
// concatenation.
type Client struct {
	ID         int64
	PublicID   string
	HubID      int64
	Name       string
	Email      string
	Phone      string
	Fields     map[string]string
	SearchText string
	CreatedAt  time.Time
}

// NewClient describes a client to insert. Values must already be normalized
// by the domain layer.
type NewClient struct {
	HubID  int64
	Name   string
	Email  string
	Phone  string
	Fields map[string]string
}

// UpdateClient describes a full-record client update.
type UpdateClient struct {
	Name   string
	Email  string
	Phone  string
	Fields map[string]string
}

// UpsertOutcome records what happened to one item of a best-effort batch.
type UpsertOutcome struct {
	Name     string
	Email    string
	Inserted bool
	Updated  bool
	Err      error
}

// Manager is an internal user responsible for clients. IsUser latches true
// once the manager has signed in as a real user.
type Manager struct {
	ID        int64
	HubID     int64
	Name      string
	Email     string
	IsUser    bool
	CreatedAt time.Time
}

// NewManager describes a manager to upsert on (hub, email).
type NewManager struct {
	HubID  int64
	Name   string
	Email  string
	IsUser bool
}

// ManagerWithClients pairs a manager with its assigned client ids.
type ManagerWithClients struct {
	Manager   Manager
	ClientIDs []int64
}

// ClientQuery filters and paginates hub-scoped client listings. When
// ManagerID is set only clients assigned to that manager match. Search runs
// through the full-text index. PublicID is an exact-match filter.
type ClientQuery struct {
	HubID     int64
	ManagerID int64
	PublicID  string
	Search    string
	Offset    int
	Limit     int
}

// ClientPage is one page of clients plus the total match count.
type ClientPage struct {
	Clients []Client
	Total   int
}

// EventQuery paginates a client's timeline, optionally filtered by type.
type EventQuery struct {
	HubID    int64
	ClientID int64
	Type     event.Type
	Offset   int
	Limit    int
}

// EventPage is one page of timeline entries plus the total count.
type EventPage struct {
	Events []event.Event
	Total  int
}

// ClientStore persists client records and their custom fields. Mutations
// keep the search projection synchronized within the same transaction.
type ClientStore interface {
	CreateClient(ctx context.Context, client NewClient) (Client, error)
	UpsertClients(ctx context.Context, clients []NewClient) []UpsertOutcome
	GetClientByID(ctx context.Context, hubID, clientID int64) (Client, error)
	GetClientByPublicID(ctx context.Context, hubID int64, publicID string) (Client, error)
	GetClientByEmail(ctx context.Context, hubID int64, email string) (Client, error)
	ListClients(ctx context.Context, query ClientQuery) (ClientPage, error)
	UpdateClient(ctx context.Context, hubID, clientID int64, update UpdateClient) (Client, error)
	DeleteClient(ctx context.Context, hubID, clientID int64) error
	RebuildSearchIndex(ctx context.Context) error
}

// ManagerStore persists managers and their client assignments.
type ManagerStore interface {
	CreateOrUpdateManager(ctx context.Context, manager NewManager) (Manager, error)
	GetManagerByID(ctx context.Context, hubID, managerID int64) (Manager, error)
	GetManagerByEmail(ctx context.Context, hubID int64, email string) (Manager, error)
	ListManagersWithClients(ctx context.Context, hubID int64) ([]ManagerWithClients, error)
	AssignClients(ctx context.Context, hubID, managerID int64, clientIDs []int64) error
	ClientAssignedToManager(ctx context.Context, hubID, clientID, managerID int64) (bool, error)
}

// EventStore is the append-only timeline ledger. Rows are never updated;
// only cascading client deletion removes them.
type EventStore interface {
	AppendEvent(ctx context.Context, hubID int64, entry event.New) (event.Event, error)
	ListEvents(ctx context.Context, query EventQuery) (EventPage, error)
	EventExists(ctx context.Context, entry event.New) (bool, error)
}

// ImportantFieldStore persists the per-hub set of custom field names
// surfaced prominently on client detail views.
type ImportantFieldStore interface {
	ListImportantFields(ctx context.Context, hubID int64) ([]string, error)
	ReplaceImportantFields(ctx context.Context, hubID int64, fields []string) error
}

// Store aggregates every persistence contract backed by one database.
type Store interface {
	ClientStore
	ManagerStore
	EventStore
	ImportantFieldStore
	Close() error
}

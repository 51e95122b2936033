// Package event models the append-only client timeline: event type tags and
// the typed payload variants serialized into the ledger.
package event

import (
	"strings"
	"time"
)

// Type tags a timeline entry. Known tags are canonicalized; anything else is
// stored verbatim as a free-form type.
type Type string

const (
	TypeComment      Type = "Comment"
	TypeDocumentLink Type = "DocumentLink"
	TypeCall         Type = "Call"
	TypeEmail        Type = "Email"
	TypeReply        Type = "Reply"
	TypeUnsubscribed Type = "Unsubscribed"
	TypeTask         Type = "Task"
)

var knownTypes = []Type{
	TypeComment,
	TypeDocumentLink,
	TypeCall,
	TypeEmail,
	TypeReply,
	TypeUnsubscribed,
	TypeTask,
}

// ParseType canonicalizes a raw tag case-insensitively. Unknown tags pass
// through unchanged so custom event types survive round trips.
func ParseType(raw string) Type {
	trimmed := strings.TrimSpace(raw)
	for _, t := range knownTypes {
		if strings.EqualFold(trimmed, string(t)) {
			return t
		}
	}
	return Type(raw)
}

// Known reports whether t is one of the canonical tags.
func (t Type) Known() bool {
	for _, known := range knownTypes {
		if t == known {
			return true
		}
	}
	return false
}

func (t Type) String() string {
	return string(t)
}

// Event is one immutable timeline entry. Data holds the serialized payload;
// its shape depends on Type (see the payload variants in payload.go).
type Event struct {
	ID        int64
	ClientID  int64
	ManagerID int64
	Type      Type
	Data      string
	CreatedAt time.Time
}

// New describes an entry to append. The ledger stamps the creation time.
type New struct {
	ClientID  int64
	ManagerID int64
	Type      Type
	Data      string
}

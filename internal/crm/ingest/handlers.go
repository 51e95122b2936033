package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hubline/crm/internal/crm/domain"
	"github.com/hubline/crm/internal/crm/event"
	"github.com/hubline/crm/internal/crm/storage"
)

// SendEmailMessage mirrors one outbound email published by the mailer.
type SendEmailMessage struct {
	User struct {
		HubID int64  `json:"hub_id"`
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"user"`
	Email struct {
		Subject    *string  `json:"subject"`
		Recipients []string `json:"recipients"`
	} `json:"email"`
}

// InboundMessage carries reply and unsubscribe notifications, discriminated
// by Kind.
type InboundMessage struct {
	Kind    string `json:"kind"`
	HubID   int64  `json:"hub_id"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

// Inbound message kinds.
const (
	KindReply        = "reply"
	KindUnsubscribed = "unsubscribed"
)

// ClientUpsertMessage creates or updates one client record.
type ClientUpsertMessage struct {
	HubID  int64             `json:"hub_id"`
	Name   string            `json:"name"`
	Email  string            `json:"email"`
	Phone  string            `json:"phone"`
	Fields map[string]string `json:"fields"`
}

// TaskMessage mirrors a task's public state onto a client timeline.
type TaskMessage struct {
	HubID          int64             `json:"hub_id"`
	ClientPublicID string            `json:"client_public_id"`
	Task           event.TaskPayload `json:"task"`
}

// HandleEmailSent records an outbound Email event for every recipient that
// resolves to a client in the sender's hub. Unresolvable recipients are
// skipped silently; exact duplicates are dropped.
func (r *Router) HandleEmailSent(ctx context.Context, payload []byte) error {
	var msg SendEmailMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode email sent message: %w", err)
	}
	name, err := domain.NormalizeManagerName(msg.User.Name)
	if err != nil {
		return fmt.Errorf("email sent message: %w", err)
	}
	email, err := domain.NormalizeManagerEmail(msg.User.Email)
	if err != nil {
		return fmt.Errorf("email sent message: %w", err)
	}
	manager, err := r.store.CreateOrUpdateManager(ctx, storage.NewManager{
		HubID:  msg.User.HubID,
		Name:   name,
		Email:  email,
		IsUser: true,
	})
	if err != nil {
		return fmt.Errorf("upsert sender manager: %w", err)
	}

	var textPayload event.TextPayload
	if msg.Email.Subject != nil {
		textPayload = event.Text(*msg.Email.Subject)
	}
	data, err := event.Encode(textPayload)
	if err != nil {
		return err
	}

	for _, recipient := range msg.Email.Recipients {
		normalized, err := domain.NormalizeEmail(recipient)
		if err != nil || normalized == "" {
			log.Printf("skipping invalid recipient %q", recipient)
			continue
		}
		client, err := r.store.GetClientByEmail(ctx, manager.HubID, normalized)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return fmt.Errorf("resolve recipient client: %w", err)
		}
		entry := event.New{
			ClientID:  client.ID,
			ManagerID: manager.ID,
			Type:      event.TypeEmail,
			Data:      data,
		}
		duplicate, err := r.store.EventExists(ctx, entry)
		if err != nil {
			return fmt.Errorf("probe duplicate email event: %w", err)
		}
		if duplicate {
			log.Printf("skipping duplicate email event client=%d manager=%d", client.ID, manager.ID)
			continue
		}
		if _, err := r.store.AppendEvent(ctx, manager.HubID, entry); err != nil {
			log.Printf("append email event client=%d err=%v", client.ID, err)
			continue
		}
		log.Printf("recorded outbound email event client=%d", client.ID)
	}
	return nil
}

// HandleEmailInbound records a Reply or Unsubscribed event. The sender must
// resolve to an existing client in the message's hub; otherwise the message
// is dropped with a warning, since the external mailer may reference stale
// or foreign addresses.
func (r *Router) HandleEmailInbound(ctx context.Context, payload []byte) error {
	var msg InboundMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode inbound message: %w", err)
	}

	var eventType event.Type
	var eventPayload event.Payload
	switch msg.Kind {
	case KindReply:
		eventType = event.TypeReply
		eventPayload = event.ReplyPayload{
			Subject: msg.Subject,
			Text:    r.sanitizer.Sanitize(msg.Message),
		}
	case KindUnsubscribed:
		eventType = event.TypeUnsubscribed
		eventPayload = event.Text(msg.Reason)
	default:
		return fmt.Errorf("unknown inbound kind %q", msg.Kind)
	}

	email, err := domain.NormalizeEmail(msg.Email)
	if err != nil || email == "" {
		return fmt.Errorf("inbound message has an invalid sender %q", msg.Email)
	}
	client, err := r.store.GetClientByEmail(ctx, msg.HubID, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Printf("dropping %s from unknown sender %s hub=%d", msg.Kind, email, msg.HubID)
			return nil
		}
		return fmt.Errorf("resolve sender client: %w", err)
	}

	// The sender is mirrored as a non-user manager row so the event carries
	// an acting identity.
	manager, err := r.store.CreateOrUpdateManager(ctx, storage.NewManager{
		HubID: msg.HubID,
		Name:  client.Name,
		Email: email,
	})
	if err != nil {
		return fmt.Errorf("upsert sender manager: %w", err)
	}

	data, err := event.Encode(eventPayload)
	if err != nil {
		return err
	}
	entry := event.New{
		ClientID:  client.ID,
		ManagerID: manager.ID,
		Type:      eventType,
		Data:      data,
	}
	duplicate, err := r.store.EventExists(ctx, entry)
	if err != nil {
		return fmt.Errorf("probe duplicate %s event: %w", msg.Kind, err)
	}
	if duplicate {
		log.Printf("skipping duplicate %s event client=%d manager=%d", msg.Kind, client.ID, manager.ID)
		return nil
	}
	if _, err := r.store.AppendEvent(ctx, msg.HubID, entry); err != nil {
		return fmt.Errorf("append %s event: %w", msg.Kind, err)
	}
	log.Printf("recorded %s event client=%d", msg.Kind, client.ID)
	return nil
}

// HandleClientUpsert creates or updates one client from the payload.
// Identity matching never duplicates a client within a hub.
func (r *Router) HandleClientUpsert(ctx context.Context, payload []byte) error {
	var msg ClientUpsertMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode client upsert message: %w", err)
	}
	name, err := domain.NormalizeClientName(msg.Name)
	if err != nil {
		return fmt.Errorf("client upsert message: %w", err)
	}
	email, err := domain.NormalizeEmail(msg.Email)
	if err != nil {
		return fmt.Errorf("client upsert message: %w", err)
	}
	phone, err := domain.NormalizePhone(msg.Phone)
	if err != nil {
		return fmt.Errorf("client upsert message: %w", err)
	}

	outcomes := r.store.UpsertClients(ctx, []storage.NewClient{{
		HubID:  msg.HubID,
		Name:   name,
		Email:  email,
		Phone:  phone,
		Fields: domain.NormalizeFields(msg.Fields),
	}})
	outcome := outcomes[0]
	if outcome.Err != nil {
		return fmt.Errorf("upsert client %q: %w", name, outcome.Err)
	}
	log.Printf("upserted client name=%q hub=%d inserted=%v", name, msg.HubID, outcome.Inserted)
	return nil
}

// HandleTaskNotify appends a Task event mirroring the task's state. The
// client must resolve by public id; otherwise the message is dropped with a
// warning. The acting identity is the task assignee, or the client's own
// email when unassigned.
func (r *Router) HandleTaskNotify(ctx context.Context, payload []byte) error {
	var msg TaskMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode task message: %w", err)
	}
	if !domain.ValidPublicID(msg.ClientPublicID) {
		log.Printf("dropping task notification with invalid client id %q", msg.ClientPublicID)
		return nil
	}
	client, err := r.store.GetClientByPublicID(ctx, msg.HubID, msg.ClientPublicID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Printf("dropping task notification for unknown client %s hub=%d", msg.ClientPublicID, msg.HubID)
			return nil
		}
		return fmt.Errorf("resolve task client: %w", err)
	}

	managerName, managerEmail := client.Name, client.Email
	if msg.Task.Assignee != nil {
		managerName = msg.Task.Assignee.Name
		managerEmail = msg.Task.Assignee.Email
	}
	if managerEmail == "" {
		log.Printf("dropping task notification without an acting identity client=%d", client.ID)
		return nil
	}
	manager, err := r.store.CreateOrUpdateManager(ctx, storage.NewManager{
		HubID: msg.HubID,
		Name:  managerName,
		Email: managerEmail,
	})
	if err != nil {
		return fmt.Errorf("upsert task manager: %w", err)
	}

	data, err := event.Encode(msg.Task)
	if err != nil {
		log.Printf("dropping invalid task payload client=%d err=%v", client.ID, err)
		return nil
	}
	entry := event.New{
		ClientID:  client.ID,
		ManagerID: manager.ID,
		Type:      event.TypeTask,
		Data:      data,
	}
	duplicate, err := r.store.EventExists(ctx, entry)
	if err != nil {
		return fmt.Errorf("probe duplicate task event: %w", err)
	}
	if duplicate {
		log.Printf("skipping duplicate task event client=%d", client.ID)
		return nil
	}
	if _, err := r.store.AppendEvent(ctx, msg.HubID, entry); err != nil {
		return fmt.Errorf("append task event: %w", err)
	}
	log.Printf("recorded task event client=%d task=%s", client.ID, msg.Task.PublicID)
	return nil
}

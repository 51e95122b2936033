package app

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/hubline/crm/internal/crm/auth"
	"github.com/hubline/crm/internal/crm/bus"
	"github.com/hubline/crm/internal/crm/domain"
	"github.com/hubline/crm/internal/crm/event"
	"github.com/hubline/crm/internal/crm/storage"
	apperrors "github.com/hubline/crm/internal/platform/errors"
)

// CommentInput is a manual timeline entry: a comment, call note, manual
// email, or a free-form type.
type CommentInput struct {
	Type    string
	Message string
	Subject string
}

// SendEmailRequest is the payload published to the outbound email channel
// when a manual Email entry is recorded.
type SendEmailRequest struct {
	HubID   int64  `json:"hub_id"`
	To      string `json:"to"`
	Subject string `json:"subject,omitempty"`
	Message string `json:"message"`
}

// AddComment appends a manual timeline entry. Email entries additionally
// publish a send-email request on the outbound channel before the append;
// a client without an email address fails validation.
func (s *Service) AddComment(ctx context.Context, user auth.User, publicID string, input CommentInput) (event.Event, error) {
	if err := requireRole(user, auth.RoleCRM); err != nil {
		return event.Event{}, err
	}
	if !domain.ValidPublicID(publicID) {
		return event.Event{}, apperrors.New(apperrors.CodeInvalidPublicID, "invalid client identifier")
	}
	message := strings.TrimSpace(input.Message)
	if message == "" {
		return event.Event{}, apperrors.New(apperrors.CodeEventInvalidPayload, "message cannot be empty")
	}
	eventType := event.ParseType(input.Type)
	if eventType == "" {
		return event.Event{}, apperrors.New(apperrors.CodeEventInvalidType, "event type is required")
	}
	switch eventType {
	case event.TypeReply, event.TypeUnsubscribed, event.TypeTask, event.TypeDocumentLink:
		// Ingest-owned and attachment types cannot be written as comments.
		return event.Event{}, apperrors.New(apperrors.CodeEventInvalidType, "event type is not a comment type")
	}

	client, err := s.store.GetClientByPublicID(ctx, user.HubID, publicID)
	if err != nil {
		return event.Event{}, storeError("get client", err)
	}
	manager, err := s.sessionManager(ctx, user)
	if err != nil {
		return event.Event{}, err
	}

	var payload event.Payload = event.Text(message)
	if eventType == event.TypeEmail {
		if client.Email == "" {
			return event.Event{}, apperrors.New(apperrors.CodeClientNoEmail, "client has no email address")
		}
		payload = event.EmailPayload{Text: message, Subject: strings.TrimSpace(input.Subject)}
		if err := s.publishEmail(ctx, SendEmailRequest{
			HubID:   user.HubID,
			To:      client.Email,
			Subject: strings.TrimSpace(input.Subject),
			Message: message,
		}); err != nil {
			return event.Event{}, err
		}
	}

	data, err := event.Encode(payload)
	if err != nil {
		return event.Event{}, err
	}
	appended, err := s.store.AppendEvent(ctx, user.HubID, event.New{
		ClientID:  client.ID,
		ManagerID: manager.ID,
		Type:      eventType,
		Data:      data,
	})
	if err != nil {
		return event.Event{}, storeError("append event", err)
	}
	return appended, nil
}

func (s *Service) publishEmail(ctx context.Context, request SendEmailRequest) error {
	if s.publisher == nil {
		return apperrors.New(apperrors.CodeBusUnavailable, "outbound email bus is not configured")
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeBusUnavailable, "encode send email request", err)
	}
	if err := s.publisher.Publish(ctx, bus.ChannelEmailOutbox, payload); err != nil {
		return apperrors.Wrap(apperrors.CodeBusUnavailable, "publish send email request", err)
	}
	return nil
}

// AddAttachment appends a DocumentLink entry to the client timeline.
func (s *Service) AddAttachment(ctx context.Context, user auth.User, publicID, text, url string) (event.Event, error) {
	if err := requireRole(user, auth.RoleCRM); err != nil {
		return event.Event{}, err
	}
	if !domain.ValidPublicID(publicID) {
		return event.Event{}, apperrors.New(apperrors.CodeInvalidPublicID, "invalid client identifier")
	}
	text = strings.TrimSpace(text)
	url = strings.TrimSpace(url)
	if text == "" || url == "" {
		return event.Event{}, apperrors.New(apperrors.CodeEventInvalidPayload, "attachment text and url are required")
	}

	client, err := s.store.GetClientByPublicID(ctx, user.HubID, publicID)
	if err != nil {
		return event.Event{}, storeError("get client", err)
	}
	manager, err := s.sessionManager(ctx, user)
	if err != nil {
		return event.Event{}, err
	}
	data, err := event.Encode(event.DocumentLinkPayload{Text: text, URL: url})
	if err != nil {
		return event.Event{}, err
	}
	appended, err := s.store.AppendEvent(ctx, user.HubID, event.New{
		ClientID:  client.ID,
		ManagerID: manager.ID,
		Type:      event.TypeDocumentLink,
		Data:      data,
	})
	if err != nil {
		return event.Event{}, storeError("append event", err)
	}
	return appended, nil
}

// ListEvents returns one newest-first timeline page for a client,
// optionally filtered by type.
func (s *Service) ListEvents(ctx context.Context, user auth.User, publicID string, eventType event.Type, page, perPage int) (storage.EventPage, error) {
	if err := requireRole(user, auth.RoleCRM); err != nil {
		return storage.EventPage{}, err
	}
	if !domain.ValidPublicID(publicID) {
		return storage.EventPage{}, apperrors.New(apperrors.CodeInvalidPublicID, "invalid client identifier")
	}
	client, err := s.store.GetClientByPublicID(ctx, user.HubID, publicID)
	if err != nil {
		return storage.EventPage{}, storeError("get client", err)
	}
	if err := s.authorizeClientView(ctx, user, client.ID); err != nil {
		return storage.EventPage{}, err
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	events, err := s.store.ListEvents(ctx, storage.EventQuery{
		HubID:    user.HubID,
		ClientID: client.ID,
		Type:     eventType,
		Offset:   (page - 1) * perPage,
		Limit:    perPage,
	})
	if err != nil {
		return storage.EventPage{}, storeError("list events", err)
	}
	return events, nil
}

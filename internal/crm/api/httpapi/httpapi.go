// Package httpapi exposes the CRM query façade as a JSON HTTP API. Every
// route authenticates a bearer session token and delegates to the
// application service; error responses use the shared status mapping.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hubline/crm/internal/crm/app"
	"github.com/hubline/crm/internal/crm/auth"
	"github.com/hubline/crm/internal/crm/event"
	"github.com/hubline/crm/internal/crm/storage"
	apperrors "github.com/hubline/crm/internal/platform/errors"
	"github.com/hubline/crm/internal/platform/httpx"
)

// Server routes API requests to the application service.
type Server struct {
	service  *app.Service
	verifier *auth.Verifier
}

// New builds an API server.
func New(service *app.Service, verifier *auth.Verifier) (*Server, error) {
	if service == nil {
		return nil, errors.New("service is required")
	}
	if verifier == nil {
		return nil, errors.New("verifier is required")
	}
	return &Server{service: service, verifier: verifier}, nil
}

// Handler returns the routed API handler with shared middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/clients", s.handleListClients)
	mux.HandleFunc("POST /api/v1/clients", s.handleAddClient)
	mux.HandleFunc("POST /api/v1/clients/import", s.handleImportClients)
	mux.HandleFunc("GET /api/v1/clients/{publicID}", s.handleClientDetails)
	mux.HandleFunc("PUT /api/v1/clients/{publicID}", s.handleSaveClient)
	mux.HandleFunc("DELETE /api/v1/clients/{publicID}", s.handleDeleteClient)
	mux.HandleFunc("GET /api/v1/clients/{publicID}/events", s.handleListEvents)
	mux.HandleFunc("POST /api/v1/clients/{publicID}/events", s.handleAddComment)
	mux.HandleFunc("POST /api/v1/clients/{publicID}/attachments", s.handleAddAttachment)
	mux.HandleFunc("GET /api/v1/managers", s.handleListManagers)
	mux.HandleFunc("POST /api/v1/managers", s.handleAddManager)
	mux.HandleFunc("PUT /api/v1/managers/{managerID}/clients", s.handleAssignManager)
	mux.HandleFunc("GET /api/v1/fields/important", s.handleListImportantFields)
	mux.HandleFunc("PUT /api/v1/fields/important", s.handleReplaceImportantFields)
	return httpx.Chain(mux, httpx.RequestID(), httpx.RecoverPanic())
}

// authenticate resolves the caller from the Authorization header.
func (s *Server) authenticate(r *http.Request) (auth.User, error) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return auth.User{}, apperrors.New(apperrors.CodeUnauthorized, "bearer token is required")
	}
	return s.verifier.Verify(token)
}

type clientDTO struct {
	PublicID  string            `json:"public_id"`
	Name      string            `json:"name"`
	Email     string            `json:"email,omitempty"`
	Phone     string            `json:"phone,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func toClientDTO(client storage.Client) clientDTO {
	return clientDTO{
		PublicID:  client.PublicID,
		Name:      client.Name,
		Email:     client.Email,
		Phone:     client.Phone,
		Fields:    client.Fields,
		CreatedAt: client.CreatedAt,
	}
}

type eventDTO struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func toEventDTOs(events []event.Event) []eventDTO {
	dtos := make([]eventDTO, 0, len(events))
	for _, entry := range events {
		dtos = append(dtos, eventDTO{
			Type:      string(entry.Type),
			Payload:   json.RawMessage(entry.Data),
			CreatedAt: entry.CreatedAt,
		})
	}
	return dtos
}

type managerDTO struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	IsUser    bool      `json:"is_user"`
	CreatedAt time.Time `json:"created_at"`
}

func toManagerDTO(manager storage.Manager) managerDTO {
	return managerDTO{
		ID:        manager.ID,
		Name:      manager.Name,
		Email:     manager.Email,
		IsUser:    manager.IsUser,
		CreatedAt: manager.CreatedAt,
	}
}

func queryInt(r *http.Request, key string) int {
	value, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return value
}

// handleListClients serves the directory listing. The body is always a JSON
// array on success; auth and infrastructure failures produce bare status
// responses.
func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	list, err := s.service.ListClients(httpx.RequestContext(r), user, app.ListQuery{
		PublicID: r.URL.Query().Get("public_id"),
		Search:   r.URL.Query().Get("search"),
		Page:     queryInt(r, "page"),
		PerPage:  queryInt(r, "per_page"),
	})
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	clients := make([]clientDTO, 0, len(list.Clients))
	for _, client := range list.Clients {
		clients = append(clients, toClientDTO(client))
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(list.Total))
	_ = httpx.WriteJSON(w, http.StatusOK, clients)
}

type clientRequest struct {
	Name   string            `json:"name"`
	Email  string            `json:"email"`
	Phone  string            `json:"phone"`
	Fields map[string]string `json:"fields"`
}

func (req clientRequest) input() app.ClientInput {
	return app.ClientInput{
		Name:   req.Name,
		Email:  req.Email,
		Phone:  req.Phone,
		Fields: req.Fields,
	}
}

func decodeBody(r *http.Request, target any) error {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "decode request body", err)
	}
	return nil
}

func (s *Server) handleAddClient(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req clientRequest
	if err := decodeBody(r, &req); err != nil {
		httpx.WriteJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	client, err := s.service.AddClient(httpx.RequestContext(r), user, req.input())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusCreated, toClientDTO(client))
}

type clientDetailsResponse struct {
	Client          clientDTO                   `json:"client"`
	Managers        []managerDTO                `json:"managers"`
	Events          []eventDTO                  `json:"events"`
	EventsTotal     int                         `json:"events_total"`
	DocumentLinks   []event.DocumentLinkPayload `json:"document_links,omitempty"`
	ImportantFields map[string]string           `json:"important_fields,omitempty"`
	OtherFields     map[string]string           `json:"other_fields,omitempty"`
}

func (s *Server) handleClientDetails(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	details, err := s.service.ClientDetails(httpx.RequestContext(r), user, r.PathValue("publicID"),
		queryInt(r, "events_page"), queryInt(r, "events_per_page"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	managers := make([]managerDTO, 0, len(details.Managers))
	for _, manager := range details.Managers {
		managers = append(managers, toManagerDTO(manager))
	}
	_ = httpx.WriteJSON(w, http.StatusOK, clientDetailsResponse{
		Client:          toClientDTO(details.Client),
		Managers:        managers,
		Events:          toEventDTOs(details.Events.Events),
		EventsTotal:     details.Events.Total,
		DocumentLinks:   details.DocumentLinks,
		ImportantFields: details.ImportantFields,
		OtherFields:     details.OtherFields,
	})
}

func (s *Server) handleSaveClient(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req clientRequest
	if err := decodeBody(r, &req); err != nil {
		httpx.WriteJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	client, err := s.service.SaveClient(httpx.RequestContext(r), user, r.PathValue("publicID"), req.input())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, toClientDTO(client))
}

func (s *Server) handleDeleteClient(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if err := s.service.DeleteClient(httpx.RequestContext(r), user, r.PathValue("publicID")); err != nil {
		httpx.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type importOutcomeDTO struct {
	Row      int    `json:"row"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Inserted bool   `json:"inserted"`
	Updated  bool   `json:"updated"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleImportClients(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	outcomes, err := s.service.ImportClients(httpx.RequestContext(r), user, r.Body)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	dtos := make([]importOutcomeDTO, 0, len(outcomes))
	for _, outcome := range outcomes {
		dto := importOutcomeDTO{
			Row:      outcome.Row,
			Name:     outcome.Name,
			Email:    outcome.Email,
			Inserted: outcome.Inserted,
			Updated:  outcome.Updated,
		}
		if outcome.Err != nil {
			dto.Error = outcome.Err.Error()
		}
		dtos = append(dtos, dto)
	}
	_ = httpx.WriteJSON(w, http.StatusOK, dtos)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	page, err := s.service.ListEvents(httpx.RequestContext(r), user, r.PathValue("publicID"),
		event.ParseType(r.URL.Query().Get("type")), queryInt(r, "page"), queryInt(r, "per_page"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(page.Total))
	_ = httpx.WriteJSON(w, http.StatusOK, toEventDTOs(page.Events))
}

type commentRequest struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Subject string `json:"subject"`
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req commentRequest
	if err := decodeBody(r, &req); err != nil {
		httpx.WriteJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	appended, err := s.service.AddComment(httpx.RequestContext(r), user, r.PathValue("publicID"), app.CommentInput{
		Type:    req.Type,
		Message: req.Message,
		Subject: req.Subject,
	})
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusCreated, eventDTO{
		Type:      string(appended.Type),
		Payload:   json.RawMessage(appended.Data),
		CreatedAt: appended.CreatedAt,
	})
}

type attachmentRequest struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

func (s *Server) handleAddAttachment(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req attachmentRequest
	if err := decodeBody(r, &req); err != nil {
		httpx.WriteJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	appended, err := s.service.AddAttachment(httpx.RequestContext(r), user, r.PathValue("publicID"), req.Text, req.URL)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusCreated, eventDTO{
		Type:      string(appended.Type),
		Payload:   json.RawMessage(appended.Data),
		CreatedAt: appended.CreatedAt,
	})
}

type managerWithClientsDTO struct {
	managerDTO
	ClientIDs []int64 `json:"client_ids"`
}

func (s *Server) handleListManagers(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	managers, err := s.service.ListManagers(httpx.RequestContext(r), user)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	dtos := make([]managerWithClientsDTO, 0, len(managers))
	for _, mc := range managers {
		clientIDs := mc.ClientIDs
		if clientIDs == nil {
			clientIDs = []int64{}
		}
		dtos = append(dtos, managerWithClientsDTO{
			managerDTO: toManagerDTO(mc.Manager),
			ClientIDs:  clientIDs,
		})
	}
	_ = httpx.WriteJSON(w, http.StatusOK, dtos)
}

type managerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (s *Server) handleAddManager(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req managerRequest
	if err := decodeBody(r, &req); err != nil {
		httpx.WriteJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	manager, err := s.service.AddManager(httpx.RequestContext(r), user, req.Name, req.Email)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusCreated, toManagerDTO(manager))
}

type assignRequest struct {
	ClientPublicIDs []string `json:"client_public_ids"`
}

func (s *Server) handleAssignManager(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	managerID, err := strconv.ParseInt(r.PathValue("managerID"), 10, 64)
	if err != nil {
		httpx.WriteJSONError(w, http.StatusBadRequest, "invalid manager id")
		return
	}
	var req assignRequest
	if err := decodeBody(r, &req); err != nil {
		httpx.WriteJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.service.AssignManager(httpx.RequestContext(r), user, managerID, req.ClientPublicIDs); err != nil {
		httpx.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListImportantFields(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	fields, err := s.service.ListImportantFields(httpx.RequestContext(r), user)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if fields == nil {
		fields = []string{}
	}
	_ = httpx.WriteJSON(w, http.StatusOK, fields)
}

type importantFieldsRequest struct {
	Fields []string `json:"fields"`
}

func (s *Server) handleReplaceImportantFields(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req importantFieldsRequest
	if err := decodeBody(r, &req); err != nil {
		httpx.WriteJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.service.ReplaceImportantFields(httpx.RequestContext(r), user, req.Fields); err != nil {
		httpx.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

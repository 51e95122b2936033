package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/hubline/crm/internal/crm/app"
	"github.com/hubline/crm/internal/crm/auth"
	"github.com/hubline/crm/internal/crm/bus"
	"github.com/hubline/crm/internal/crm/storage/sqlite"
)

var testSecret = []byte("api-test-secret")

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	store, err := sqlite.Open(t.Context(), filepath.Join(t.TempDir(), "crm.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	service, err := app.New(store, bus.NewMemory())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	verifier, err := auth.NewVerifier(testSecret, nil)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	server, err := New(service, verifier)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return server.Handler()
}

func token(t *testing.T, roles ...string) string {
	t.Helper()
	signed, err := auth.Issue(testSecret, auth.User{
		HubID: 1,
		Email: "admin@hub.io",
		Name:  "Admin",
		Roles: roles,
	}, time.Hour, nil)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return signed
}

func doRequest(t *testing.T, handler http.Handler, method, path, bearer, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func TestListClientsUnauthenticated(t *testing.T) {
	t.Parallel()
	handler := newTestHandler(t)

	resp := doRequest(t, handler, http.MethodGet, "/api/v1/clients", "", "")
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.Code)
	}
}

func TestListClientsBadToken(t *testing.T) {
	t.Parallel()
	handler := newTestHandler(t)

	resp := doRequest(t, handler, http.MethodGet, "/api/v1/clients", "not-a-token", "")
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.Code)
	}
}

func TestListClientsReturnsArray(t *testing.T) {
	t.Parallel()
	handler := newTestHandler(t)
	admin := token(t, auth.RoleCRM, auth.RoleAdmin)

	created := doRequest(t, handler, http.MethodPost, "/api/v1/clients", admin,
		`{"name":"Vera","email":"vera@corp.io"}`)
	if created.Code != http.StatusCreated {
		t.Fatalf("create status = %d body = %s", created.Code, created.Body.String())
	}

	resp := doRequest(t, handler, http.MethodGet, "/api/v1/clients", admin, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	var clients []map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &clients); err != nil {
		t.Fatalf("body is not a JSON array: %v", err)
	}
	if len(clients) != 1 {
		t.Fatalf("clients = %d, want 1", len(clients))
	}
	if clients[0]["name"] != "Vera" {
		t.Fatalf("name = %v", clients[0]["name"])
	}
	if resp.Header().Get("X-Total-Count") != "1" {
		t.Fatalf("total = %q, want 1", resp.Header().Get("X-Total-Count"))
	}
}

func TestListClientsWithoutQualifyingRoleIsEmpty(t *testing.T) {
	t.Parallel()
	handler := newTestHandler(t)
	bare := token(t, auth.RoleCRM)

	resp := doRequest(t, handler, http.MethodGet, "/api/v1/clients", bare, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	if body := strings.TrimSpace(resp.Body.String()); body != "[]" {
		t.Fatalf("body = %s, want empty array", body)
	}
}

func TestListClientsInvalidFilterIsEmpty(t *testing.T) {
	t.Parallel()
	handler := newTestHandler(t)
	admin := token(t, auth.RoleCRM, auth.RoleAdmin)

	resp := doRequest(t, handler, http.MethodGet, "/api/v1/clients?public_id=not-a-uuid", admin, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	if body := strings.TrimSpace(resp.Body.String()); body != "[]" {
		t.Fatalf("body = %s, want empty array", body)
	}
}

func TestAddClientConflict(t *testing.T) {
	t.Parallel()
	handler := newTestHandler(t)
	admin := token(t, auth.RoleCRM, auth.RoleAdmin)

	body := `{"name":"Vera","email":"vera@corp.io"}`
	if resp := doRequest(t, handler, http.MethodPost, "/api/v1/clients", admin, body); resp.Code != http.StatusCreated {
		t.Fatalf("create status = %d", resp.Code)
	}
	if resp := doRequest(t, handler, http.MethodPost, "/api/v1/clients", admin, body); resp.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", resp.Code)
	}
}

func TestAddClientValidation(t *testing.T) {
	t.Parallel()
	handler := newTestHandler(t)
	admin := token(t, auth.RoleCRM, auth.RoleAdmin)

	resp := doRequest(t, handler, http.MethodPost, "/api/v1/clients", admin,
		`{"name":"","email":"vera@corp.io"}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}
}

func TestClientDetailsAndComments(t *testing.T) {
	t.Parallel()
	handler := newTestHandler(t)
	admin := token(t, auth.RoleCRM, auth.RoleAdmin)

	created := doRequest(t, handler, http.MethodPost, "/api/v1/clients", admin,
		`{"name":"Vera","email":"vera@corp.io","fields":{"segment":"retail"}}`)
	if created.Code != http.StatusCreated {
		t.Fatalf("create status = %d", created.Code)
	}
	var client struct {
		PublicID string `json:"public_id"`
	}
	if err := json.Unmarshal(created.Body.Bytes(), &client); err != nil {
		t.Fatalf("decode created client: %v", err)
	}

	comment := doRequest(t, handler, http.MethodPost, "/api/v1/clients/"+client.PublicID+"/events", admin,
		`{"type":"comment","message":"called about renewal"}`)
	if comment.Code != http.StatusCreated {
		t.Fatalf("comment status = %d body = %s", comment.Code, comment.Body.String())
	}

	details := doRequest(t, handler, http.MethodGet, "/api/v1/clients/"+client.PublicID, admin, "")
	if details.Code != http.StatusOK {
		t.Fatalf("details status = %d", details.Code)
	}
	var payload struct {
		Client struct {
			Name string `json:"name"`
		} `json:"client"`
		Events []struct {
			Type string `json:"type"`
		} `json:"events"`
		EventsTotal int `json:"events_total"`
	}
	if err := json.Unmarshal(details.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode details: %v", err)
	}
	if payload.Client.Name != "Vera" {
		t.Fatalf("client name = %q", payload.Client.Name)
	}
	if payload.EventsTotal != 1 || len(payload.Events) != 1 {
		t.Fatalf("events = %d total = %d, want 1", len(payload.Events), payload.EventsTotal)
	}
	if payload.Events[0].Type != "Comment" {
		t.Fatalf("event type = %q, want Comment", payload.Events[0].Type)
	}
}

func TestDeleteClientRequiresAdmin(t *testing.T) {
	t.Parallel()
	handler := newTestHandler(t)
	admin := token(t, auth.RoleCRM, auth.RoleAdmin)
	manager := token(t, auth.RoleCRM, auth.RoleManager)

	created := doRequest(t, handler, http.MethodPost, "/api/v1/clients", admin,
		`{"name":"Vera","email":"vera@corp.io"}`)
	var client struct {
		PublicID string `json:"public_id"`
	}
	if err := json.Unmarshal(created.Body.Bytes(), &client); err != nil {
		t.Fatalf("decode created client: %v", err)
	}

	if resp := doRequest(t, handler, http.MethodDelete, "/api/v1/clients/"+client.PublicID, manager, ""); resp.Code != http.StatusUnauthorized {
		t.Fatalf("manager delete status = %d, want 401", resp.Code)
	}
	if resp := doRequest(t, handler, http.MethodDelete, "/api/v1/clients/"+client.PublicID, admin, ""); resp.Code != http.StatusNoContent {
		t.Fatalf("admin delete status = %d, want 204", resp.Code)
	}
	if resp := doRequest(t, handler, http.MethodGet, "/api/v1/clients/"+client.PublicID, admin, ""); resp.Code != http.StatusNotFound {
		t.Fatalf("details after delete status = %d, want 404", resp.Code)
	}
}

func TestImportClientsEndpoint(t *testing.T) {
	t.Parallel()
	handler := newTestHandler(t)
	admin := token(t, auth.RoleCRM, auth.RoleAdmin)

	csv := "name,email,segment\nVera,vera@corp.io,retail\n,missing@corp.io,\n"
	resp := doRequest(t, handler, http.MethodPost, "/api/v1/clients/import", admin, csv)
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", resp.Code, resp.Body.String())
	}
	var outcomes []struct {
		Row      int    `json:"row"`
		Inserted bool   `json:"inserted"`
		Error    string `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &outcomes); err != nil {
		t.Fatalf("decode outcomes: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(outcomes))
	}
	var inserted, failed int
	for _, outcome := range outcomes {
		if outcome.Inserted {
			inserted++
		}
		if outcome.Error != "" {
			failed++
		}
	}
	if inserted != 1 || failed != 1 {
		t.Fatalf("inserted = %d failed = %d, want 1 and 1", inserted, failed)
	}
}

func TestManagerAssignmentFlow(t *testing.T) {
	t.Parallel()
	handler := newTestHandler(t)
	admin := token(t, auth.RoleCRM, auth.RoleAdmin)

	created := doRequest(t, handler, http.MethodPost, "/api/v1/clients", admin,
		`{"name":"Vera","email":"vera@corp.io"}`)
	var client struct {
		PublicID string `json:"public_id"`
	}
	if err := json.Unmarshal(created.Body.Bytes(), &client); err != nil {
		t.Fatalf("decode created client: %v", err)
	}

	addedManager := doRequest(t, handler, http.MethodPost, "/api/v1/managers", admin,
		`{"name":"Ana","email":"ana@hub.io"}`)
	if addedManager.Code != http.StatusCreated {
		t.Fatalf("add manager status = %d", addedManager.Code)
	}
	var manager struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(addedManager.Body.Bytes(), &manager); err != nil {
		t.Fatalf("decode manager: %v", err)
	}

	assign := doRequest(t, handler, http.MethodPut,
		"/api/v1/managers/"+strconv.FormatInt(manager.ID, 10)+"/clients", admin,
		`{"client_public_ids":["`+client.PublicID+`"]}`)
	if assign.Code != http.StatusNoContent {
		t.Fatalf("assign status = %d body = %s", assign.Code, assign.Body.String())
	}

	list := doRequest(t, handler, http.MethodGet, "/api/v1/managers", admin, "")
	if list.Code != http.StatusOK {
		t.Fatalf("list managers status = %d", list.Code)
	}
	var managers []struct {
		Email     string  `json:"email"`
		ClientIDs []int64 `json:"client_ids"`
	}
	if err := json.Unmarshal(list.Body.Bytes(), &managers); err != nil {
		t.Fatalf("decode managers: %v", err)
	}
	if len(managers) != 1 || len(managers[0].ClientIDs) != 1 {
		t.Fatalf("managers = %+v, want one manager with one client", managers)
	}
}

func TestImportantFieldsRoundTrip(t *testing.T) {
	t.Parallel()
	handler := newTestHandler(t)
	admin := token(t, auth.RoleCRM, auth.RoleAdmin)

	put := doRequest(t, handler, http.MethodPut, "/api/v1/fields/important", admin,
		`{"fields":["segment","region"]}`)
	if put.Code != http.StatusNoContent {
		t.Fatalf("put status = %d", put.Code)
	}

	get := doRequest(t, handler, http.MethodGet, "/api/v1/fields/important", admin, "")
	if get.Code != http.StatusOK {
		t.Fatalf("get status = %d", get.Code)
	}
	var fields []string
	if err := json.Unmarshal(get.Body.Bytes(), &fields); err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if len(fields) != 2 {
		t.Fatalf("fields = %v, want 2", fields)
	}
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/userdir/internal/middleware"
	"github.com/hitoshi/userdir/internal/model"
)

// --- モック定義 ---

// mockUserService はUserServiceInterfaceのモック実装。
type mockUserService struct {
	getAllFn     func(ctx context.Context) ([]model.User, error)
	getByIDFn    func(ctx context.Context, id uuid.UUID) (*model.User, error)
	createFn     func(ctx context.Context, u model.User) (bool, error)
	deleteByIDFn func(ctx context.Context, id uuid.UUID) (bool, error)
}

func (m *mockUserService) GetAll(ctx context.Context) ([]model.User, error) {
	if m.getAllFn != nil {
		return m.getAllFn(ctx)
	}
	return []model.User{}, nil
}

func (m *mockUserService) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserService) Create(ctx context.Context, u model.User) (bool, error) {
	if m.createFn != nil {
		return m.createFn(ctx, u)
	}
	return true, nil
}

func (m *mockUserService) DeleteByID(ctx context.Context, id uuid.UUID) (bool, error) {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return true, nil
}

// fakeCollector はゲートウェイ失敗の記録を保持するMetricsCollector。
type fakeCollector struct {
	mu       sync.Mutex
	failures []string
}

func (c *fakeCollector) RecordRequest(string, string, int, time.Duration) {}

func (c *fakeCollector) RecordGatewayFailure(operation string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, operation)
}

// --- ヘルパー ---

// withURLParam はchiのURLパラメータをリクエストに設定する。
func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeErrorBody(t *testing.T, resp *http.Response) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

var errGateway = errors.New("connection refused")

// --- GET /api/users テスト ---

func TestUserHandler_ListUsers_ReturnsUsers(t *testing.T) {
	g1 := uuid.New()
	svc := &mockUserService{
		getAllFn: func(ctx context.Context) ([]model.User, error) {
			return []model.User{{ID: g1, FullName: "Nick Chapsas"}}, nil
		},
	}
	h := NewUserHandler(svc, nil)

	w := httptest.NewRecorder()
	h.ListUsers(w, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var users []model.User
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(users) != 1 || users[0].ID != g1 || users[0].FullName != "Nick Chapsas" {
		t.Errorf("users = %+v, want [{%s Nick Chapsas}]", users, g1)
	}
}

func TestUserHandler_ListUsers_Empty_ReturnsEmptyArray(t *testing.T) {
	svc := &mockUserService{
		getAllFn: func(ctx context.Context) ([]model.User, error) {
			return nil, nil
		},
	}
	h := NewUserHandler(svc, nil)

	w := httptest.NewRecorder()
	h.ListUsers(w, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("body = %q, want %q", got, "[]")
	}
}

func TestUserHandler_ListUsers_GatewayError_Returns500AndRecordsFailure(t *testing.T) {
	svc := &mockUserService{
		getAllFn: func(ctx context.Context) ([]model.User, error) {
			return nil, errGateway
		},
	}
	collector := &fakeCollector{}
	h := NewUserHandler(svc, collector)

	w := httptest.NewRecorder()
	h.ListUsers(w, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}
	body := decodeErrorBody(t, resp)
	if body.Code != model.ErrCodeInternal {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInternal)
	}
	if strings.Contains(body.Message, "connection refused") {
		t.Error("internal error details should not be exposed to the client")
	}
	if len(collector.failures) != 1 || collector.failures[0] != opGetAll {
		t.Errorf("failures = %v, want [%s]", collector.failures, opGetAll)
	}
}

// --- GET /api/users/{id} テスト ---

func TestUserHandler_GetUser_Found(t *testing.T) {
	id := uuid.New()
	svc := &mockUserService{
		getByIDFn: func(ctx context.Context, got uuid.UUID) (*model.User, error) {
			if got != id {
				t.Errorf("id = %s, want %s", got, id)
			}
			return &model.User{ID: id, FullName: "Ada Lovelace"}, nil
		},
	}
	h := NewUserHandler(svc, nil)

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/users/"+id.String(), nil), "id", id.String())
	w := httptest.NewRecorder()
	h.GetUser(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var raw map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if raw["id"] != id.String() {
		t.Errorf("id = %v, want %s", raw["id"], id)
	}
	if raw["fullName"] != "Ada Lovelace" {
		t.Errorf("fullName = %v, want %q", raw["fullName"], "Ada Lovelace")
	}
}

func TestUserHandler_GetUser_Absent_Returns404(t *testing.T) {
	h := NewUserHandler(&mockUserService{}, nil)

	id := uuid.New().String()
	req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/users/"+id, nil), "id", id)
	w := httptest.NewRecorder()
	h.GetUser(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	if body := decodeErrorBody(t, resp); body.Code != model.ErrCodeUserNotFound {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUserNotFound)
	}
}

func TestUserHandler_GetUser_InvalidID_Returns400(t *testing.T) {
	called := false
	svc := &mockUserService{
		getByIDFn: func(ctx context.Context, id uuid.UUID) (*model.User, error) {
			called = true
			return nil, nil
		},
	}
	h := NewUserHandler(svc, nil)

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/users/not-a-uuid", nil), "id", "not-a-uuid")
	w := httptest.NewRecorder()
	h.GetUser(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if body := decodeErrorBody(t, resp); body.Code != model.ErrCodeInvalidUserID {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidUserID)
	}
	if called {
		t.Error("service should not be called for an invalid id")
	}
}

func TestUserHandler_GetUser_GatewayError_Returns500(t *testing.T) {
	svc := &mockUserService{
		getByIDFn: func(ctx context.Context, id uuid.UUID) (*model.User, error) {
			return nil, errGateway
		},
	}
	collector := &fakeCollector{}
	h := NewUserHandler(svc, collector)

	id := uuid.New().String()
	req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/users/"+id, nil), "id", id)
	w := httptest.NewRecorder()
	h.GetUser(w, req)

	if w.Result().StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusInternalServerError)
	}
	if len(collector.failures) != 1 || collector.failures[0] != opGetByID {
		t.Errorf("failures = %v, want [%s]", collector.failures, opGetByID)
	}
}

// --- POST /api/users テスト ---

func TestUserHandler_CreateUser_WithID_Returns201AndLocation(t *testing.T) {
	id := uuid.New()
	var received model.User
	svc := &mockUserService{
		createFn: func(ctx context.Context, u model.User) (bool, error) {
			received = u
			return true, nil
		},
	}
	h := NewUserHandler(svc, nil)

	body := `{"id":"` + id.String() + `","fullName":"  Nick Chapsas  "}`
	w := httptest.NewRecorder()
	h.CreateUser(w, httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(body)))

	resp := w.Result()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	if loc := resp.Header.Get("Location"); loc != "/api/users/"+id.String() {
		t.Errorf("Location = %q, want %q", loc, "/api/users/"+id.String())
	}
	if received.ID != id {
		t.Errorf("service received id %s, want %s", received.ID, id)
	}
	if received.FullName != "Nick Chapsas" {
		t.Errorf("service received fullName %q, want %q", received.FullName, "Nick Chapsas")
	}

	var created model.User
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if created != received {
		t.Errorf("response = %+v, want %+v", created, received)
	}
}

func TestUserHandler_CreateUser_WithoutID_GeneratesUUID(t *testing.T) {
	var received model.User
	svc := &mockUserService{
		createFn: func(ctx context.Context, u model.User) (bool, error) {
			received = u
			return true, nil
		},
	}
	h := NewUserHandler(svc, nil)

	w := httptest.NewRecorder()
	h.CreateUser(w, httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(`{"fullName":"Grace Hopper"}`)))

	if w.Result().StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusCreated)
	}
	if received.ID == uuid.Nil {
		t.Error("expected a generated id")
	}
	if loc := w.Result().Header.Get("Location"); loc != "/api/users/"+received.ID.String() {
		t.Errorf("Location = %q, want %q", loc, "/api/users/"+received.ID.String())
	}
}

func TestUserHandler_CreateUser_UppercaseID_IsAccepted(t *testing.T) {
	id := uuid.New()
	var received model.User
	svc := &mockUserService{
		createFn: func(ctx context.Context, u model.User) (bool, error) {
			received = u
			return true, nil
		},
	}
	h := NewUserHandler(svc, nil)

	body := `{"id":"` + strings.ToUpper(id.String()) + `","fullName":"Alan Turing"}`
	w := httptest.NewRecorder()
	h.CreateUser(w, httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(body)))

	if w.Result().StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusCreated)
	}
	if received.ID != id {
		t.Errorf("id = %s, want %s", received.ID, id)
	}
}

func TestUserHandler_CreateUser_Duplicate_Returns409(t *testing.T) {
	svc := &mockUserService{
		createFn: func(ctx context.Context, u model.User) (bool, error) {
			return false, nil
		},
	}
	h := NewUserHandler(svc, nil)

	body := `{"id":"` + uuid.New().String() + `","fullName":"Nick Chapsas"}`
	w := httptest.NewRecorder()
	h.CreateUser(w, httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(body)))

	resp := w.Result()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}
	if body := decodeErrorBody(t, resp); body.Code != model.ErrCodeUserAlreadyExists {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUserAlreadyExists)
	}
}

func TestUserHandler_CreateUser_InvalidJSON_Returns400(t *testing.T) {
	h := NewUserHandler(&mockUserService{}, nil)

	w := httptest.NewRecorder()
	h.CreateUser(w, httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(`{"fullName":`)))

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if body := decodeErrorBody(t, resp); body.Code != model.ErrCodeInvalidRequest {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidRequest)
	}
}

func TestUserHandler_CreateUser_ValidationErrors_Return400(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing fullName", `{}`},
		{"blank fullName", `{"fullName":"   "}`},
		{"too long fullName", `{"fullName":"` + strings.Repeat("a", 201) + `"}`},
		{"markup in fullName", `{"fullName":"<script>alert(1)</script>"}`},
		{"invalid id", `{"id":"123","fullName":"Nick Chapsas"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			svc := &mockUserService{
				createFn: func(ctx context.Context, u model.User) (bool, error) {
					called = true
					return true, nil
				},
			}
			h := NewUserHandler(svc, nil)

			w := httptest.NewRecorder()
			h.CreateUser(w, httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(tt.body)))

			resp := w.Result()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
			}
			if body := decodeErrorBody(t, resp); body.Code != model.ErrCodeInvalidRequest {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidRequest)
			}
			if called {
				t.Error("service should not be called for an invalid request")
			}
		})
	}
}

func TestUserHandler_CreateUser_GatewayError_Returns500(t *testing.T) {
	svc := &mockUserService{
		createFn: func(ctx context.Context, u model.User) (bool, error) {
			return false, errGateway
		},
	}
	collector := &fakeCollector{}
	h := NewUserHandler(svc, collector)

	w := httptest.NewRecorder()
	h.CreateUser(w, httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(`{"fullName":"Nick Chapsas"}`)))

	if w.Result().StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusInternalServerError)
	}
	if len(collector.failures) != 1 || collector.failures[0] != opCreate {
		t.Errorf("failures = %v, want [%s]", collector.failures, opCreate)
	}
}

// --- DELETE /api/users/{id} テスト ---

func TestUserHandler_DeleteUser_Success_Returns204(t *testing.T) {
	id := uuid.New()
	svc := &mockUserService{
		deleteByIDFn: func(ctx context.Context, got uuid.UUID) (bool, error) {
			if got != id {
				t.Errorf("id = %s, want %s", got, id)
			}
			return true, nil
		},
	}
	h := NewUserHandler(svc, nil)

	req := withURLParam(httptest.NewRequest(http.MethodDelete, "/api/users/"+id.String(), nil), "id", id.String())
	w := httptest.NewRecorder()
	h.DeleteUser(w, req)

	if w.Result().StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNoContent)
	}
}

func TestUserHandler_DeleteUser_Absent_Returns404(t *testing.T) {
	svc := &mockUserService{
		deleteByIDFn: func(ctx context.Context, id uuid.UUID) (bool, error) {
			return false, nil
		},
	}
	h := NewUserHandler(svc, nil)

	id := uuid.New().String()
	req := withURLParam(httptest.NewRequest(http.MethodDelete, "/api/users/"+id, nil), "id", id)
	w := httptest.NewRecorder()
	h.DeleteUser(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	if body := decodeErrorBody(t, resp); body.Code != model.ErrCodeUserNotFound {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUserNotFound)
	}
}

func TestUserHandler_DeleteUser_InvalidID_Returns400(t *testing.T) {
	h := NewUserHandler(&mockUserService{}, nil)

	req := withURLParam(httptest.NewRequest(http.MethodDelete, "/api/users/xyz", nil), "id", "xyz")
	w := httptest.NewRecorder()
	h.DeleteUser(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestUserHandler_DeleteUser_GatewayError_Returns500(t *testing.T) {
	svc := &mockUserService{
		deleteByIDFn: func(ctx context.Context, id uuid.UUID) (bool, error) {
			return false, errGateway
		},
	}
	collector := &fakeCollector{}
	h := NewUserHandler(svc, collector)

	id := uuid.New().String()
	req := withURLParam(httptest.NewRequest(http.MethodDelete, "/api/users/"+id, nil), "id", id)
	w := httptest.NewRecorder()
	h.DeleteUser(w, req)

	if w.Result().StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusInternalServerError)
	}
	if len(collector.failures) != 1 || collector.failures[0] != opDeleteByID {
		t.Errorf("failures = %v, want [%s]", collector.failures, opDeleteByID)
	}
}

// --- エラーマッピング ---

func TestMapAPIErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		err  *model.APIError
		want int
	}{
		{model.NewInvalidUserIDError("x"), http.StatusBadRequest},
		{model.NewInvalidRequestError("x"), http.StatusBadRequest},
		{model.NewUserNotFoundError("x"), http.StatusNotFound},
		{model.NewUserAlreadyExistsError("x"), http.StatusConflict},
		{model.NewInternalError(), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := mapAPIErrorToHTTPStatus(tt.err); got != tt.want {
			t.Errorf("mapAPIErrorToHTTPStatus(%s) = %d, want %d", tt.err.Code, got, tt.want)
		}
	}
}

func TestUserHandler_ServiceAPIError_IsNotCountedAsGatewayFailure(t *testing.T) {
	svc := &mockUserService{
		getAllFn: func(ctx context.Context) ([]model.User, error) {
			return nil, model.NewUserNotFoundError("x")
		},
	}
	collector := &fakeCollector{}
	h := NewUserHandler(svc, collector)

	w := httptest.NewRecorder()
	h.ListUsers(w, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	if w.Result().StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNotFound)
	}
	if len(collector.failures) != 0 {
		t.Errorf("failures = %v, want none", collector.failures)
	}
}

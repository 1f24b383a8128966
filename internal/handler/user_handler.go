package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/userdir/internal/metrics"
	"github.com/hitoshi/userdir/internal/model"
)

// maxRequestBodyBytes はリクエストボディの上限サイズ。
const maxRequestBodyBytes = 1 << 20

// ゲートウェイ失敗メトリクスの操作名
const (
	opGetAll     = "get_all"
	opGetByID    = "get_by_id"
	opCreate     = "create"
	opDeleteByID = "delete_by_id"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
// *user.Service がそのまま満たす。
type UserServiceInterface interface {
	GetAll(ctx context.Context) ([]model.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	Create(ctx context.Context, u model.User) (bool, error)
	DeleteByID(ctx context.Context, id uuid.UUID) (bool, error)
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service   UserServiceInterface
	metrics   metrics.MetricsCollector
	validator *requestValidator
}

// NewUserHandler はUserHandlerを生成する。
// collectorがnilの場合はメトリクスを記録しない。
func NewUserHandler(service UserServiceInterface, collector metrics.MetricsCollector) *UserHandler {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &UserHandler{
		service:   service,
		metrics:   collector,
		validator: newRequestValidator(),
	}
}

// ListUsers は全ユーザーを返す。
// GET /api/users
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.GetAll(r.Context())
	if err != nil {
		h.handleServiceError(w, r, opGetAll, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}

	writeJSON(w, http.StatusOK, users)
}

// GetUser は指定IDのユーザーを返す。
// GET /api/users/{id}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUserID(w, r)
	if !ok {
		return
	}

	u, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, opGetByID, err)
		return
	}
	if u == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError(id.String()))
		return
	}

	writeJSON(w, http.StatusOK, u)
}

// CreateUser はユーザーを作成する。
// POST /api/users
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	if err := h.validator.validateCreate(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(err.Error()))
		return
	}

	id := uuid.New()
	if req.ID != "" {
		// validateCreateでUUID形式であることを確認済み
		id = uuid.MustParse(req.ID)
	}
	u := model.User{ID: id, FullName: req.FullName}

	created, err := h.service.Create(r.Context(), u)
	if err != nil {
		h.handleServiceError(w, r, opCreate, err)
		return
	}
	if !created {
		writeAPIErrorResponse(w, http.StatusConflict, model.NewUserAlreadyExistsError(id.String()))
		return
	}

	w.Header().Set("Location", "/api/users/"+id.String())
	writeJSON(w, http.StatusCreated, u)
}

// DeleteUser は指定IDのユーザーを削除する。
// DELETE /api/users/{id}
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUserID(w, r)
	if !ok {
		return
	}

	deleted, err := h.service.DeleteByID(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, opDeleteByID, err)
		return
	}
	if !deleted {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError(id.String()))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SetupUserRoutes はユーザー管理関連のルーティングを設定したchi.Routerを返す。
// createMiddleware が nil でない場合、POST /api/users に作成専用レート制限を適用する。
func SetupUserRoutes(service UserServiceInterface, collector metrics.MetricsCollector, createMiddleware func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	mountUserRoutes(r, NewUserHandler(service, collector), createMiddleware)
	return r
}

// mountUserRoutes は/api/users以下のルートを登録する。
func mountUserRoutes(r chi.Router, h *UserHandler, createMiddleware func(http.Handler) http.Handler) {
	r.Route("/api/users", func(r chi.Router) {
		r.Get("/", h.ListUsers)
		if createMiddleware != nil {
			r.With(createMiddleware).Post("/", h.CreateUser)
		} else {
			r.Post("/", h.CreateUser)
		}

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetUser)
			r.Delete("/", h.DeleteUser)
		})
	})
}

// --- ヘルパー関数 ---

// parseUserID はURLパラメータのidをUUIDとして解釈する。
// 解釈できない場合は400レスポンスを書き込みfalseを返す。
func parseUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidUserIDError(raw))
		return uuid.Nil, false
	}
	return id, true
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

package webapp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/velicb/supplydesk/internal/auditlog"
	"github.com/velicb/supplydesk/internal/guard"
	"github.com/velicb/supplydesk/internal/middleware"
	"github.com/velicb/supplydesk/internal/session"
	"github.com/velicb/supplydesk/internal/telemetry/metrics"
	"github.com/velicb/supplydesk/internal/upstream"
	"github.com/velicb/supplydesk/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

type Handler struct {
	client     *upstream.Client
	controller *session.Controller
	audit      auditlog.Api
	metrics    *metrics.Manager
}

type NewHandlerParams struct {
	Client     *upstream.Client
	Controller *session.Controller
	Audit      auditlog.Api
	Metrics    *metrics.Manager
}

func NewHandler(params NewHandlerParams) *Handler {
	return &Handler{
		client:     params.Client,
		controller: params.Controller,
		audit:      params.Audit,
		metrics:    params.Metrics,
	}
}

type SetupRoutesParams struct {
	Router        *mux.Router
	Guard         *guard.Guard
	AuditHandler  *auditlog.Handler
	RateLimiter   middleware.RequestRateLimiter
	LoginsPerMin  int
}

// SetupRoutes registers all local routes: the public auth endpoints, the
// faculty API and the admin-only API, the last two gated by the route
// guard per request.
func (handler *Handler) SetupRoutes(params SetupRoutesParams) {
	router := params.Router

	router.HandleFunc("/session", handler.handleSessionStatus).Methods("GET")

	authRouter := router.PathPrefix("/a").Subrouter()
	authRouter.HandleFunc("/login", handler.handleLogin).Methods("POST", "OPTIONS")
	authRouter.HandleFunc("/logout", handler.handleLogout).Methods("GET", "OPTIONS")
	if params.RateLimiter != nil {
		authRouter.Use(middleware.RateLimit(
			params.RateLimiter, "auth", params.LoginsPerMin, handler.metrics,
		))
	}

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(params.Guard.Protect(false))
	apiRouter.HandleFunc("/items", handler.handleItemsList).Methods("GET")
	apiRouter.HandleFunc("/items/search", handler.handleItemsSearch).Methods("GET")
	apiRouter.HandleFunc("/items/low-stock", handler.handleItemsLowStock).Methods("GET")
	apiRouter.HandleFunc("/items/expiring-soon", handler.handleItemsExpiringSoon).Methods("GET")
	apiRouter.HandleFunc("/items/category/{categoryId}", handler.handleItemsByCategory).Methods("GET")
	apiRouter.HandleFunc("/items/{id}", handler.handleItemGet).Methods("GET")
	apiRouter.HandleFunc("/categories", handler.handleCategoriesList).Methods("GET")
	apiRouter.HandleFunc("/my-requests", handler.handleMyRequests).Methods("GET")
	apiRouter.HandleFunc("/requests", handler.handleRequestCreate).Methods("POST")

	adminRouter := router.PathPrefix("/api/admin").Subrouter()
	adminRouter.Use(params.Guard.Protect(true))
	adminRouter.HandleFunc("/items", handler.handleItemCreate).Methods("POST")
	adminRouter.HandleFunc("/items/trashed", handler.handleItemsTrashed).Methods("GET")
	adminRouter.HandleFunc("/items/{id}", handler.handleItemUpdate).Methods("PUT")
	adminRouter.HandleFunc("/items/{id}", handler.handleItemDelete).Methods("DELETE")
	adminRouter.HandleFunc("/items/{id}/restore", handler.handleItemRestore).Methods("POST")
	adminRouter.HandleFunc("/categories", handler.handleCategoryCreate).Methods("POST")
	adminRouter.HandleFunc("/categories/{id}", handler.handleCategoryUpdate).Methods("PUT")
	adminRouter.HandleFunc("/categories/{id}", handler.handleCategoryDelete).Methods("DELETE")
	adminRouter.HandleFunc("/users", handler.handleUsersList).Methods("GET")
	adminRouter.HandleFunc("/users", handler.handleUserCreate).Methods("POST")
	adminRouter.HandleFunc("/users/{id}", handler.handleUserGet).Methods("GET")
	adminRouter.HandleFunc("/users/{id}", handler.handleUserUpdate).Methods("PUT")
	adminRouter.HandleFunc("/users/{id}", handler.handleUserDelete).Methods("DELETE")
	adminRouter.HandleFunc("/requests", handler.handleRequestsList).Methods("GET")
	adminRouter.HandleFunc("/requests/{id}/status", handler.handleRequestStatusUpdate).Methods("PUT")
	adminRouter.HandleFunc("/logs", handler.handleLogsList).Methods("GET")
	adminRouter.HandleFunc("/logs", handler.handleLogCreate).Methods("POST")
	adminRouter.HandleFunc("/audit", params.AuditHandler.HandleList).Methods("GET")
	adminRouter.HandleFunc("/audit/stats", params.AuditHandler.HandleStats).Methods("GET")
}

func (handler *Handler) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	state := handler.controller.Snapshot()
	stateJson, err := json.Marshal(struct {
		Loading       bool          `json:"loading"`
		Authenticated bool          `json:"authenticated"`
		Admin         bool          `json:"admin"`
		Expired       bool          `json:"expired"`
		User          *session.User `json:"user,omitempty"`
	}{
		Loading:       state.Loading,
		Authenticated: state.Authenticated,
		Admin:         state.Admin,
		Expired:       state.Expired,
		User:          state.User,
	})
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, stateJson)
}

func (handler *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := r.ParseForm(); err != nil {
		log.Errorf("login failed, parse form error: %s", err)
		http.Error(w, "parse form error", http.StatusInternalServerError)
		return
	}

	username := r.Form.Get("username")
	password := r.Form.Get("password")
	rememberMe := r.Form.Get("rememberMe") == "true"
	if username == "" || password == "" {
		http.Error(w, "error, username or password empty", http.StatusBadRequest)
		return
	}

	res := handler.controller.Login(r.Context(), username, password, rememberMe)

	if res.Success {
		handler.metrics.CounterLogins.Inc()
		handler.addAuditEvent(r, auditlog.EventLoginSuccess, username, "")
	} else {
		handler.metrics.CounterFailedLogins.Inc()
		handler.addAuditEvent(r, auditlog.EventLoginFailed, username, res.Message)
	}

	resJson, err := json.Marshal(res)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	statusCode := http.StatusOK
	if !res.Success {
		statusCode = http.StatusUnauthorized
	}
	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, resJson, statusCode)
}

func (handler *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "GET, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	var username string
	if user := handler.controller.Snapshot().User; user != nil {
		username = user.Username
	}

	if err := handler.controller.Logout(r.Context()); err != nil {
		log.Warnf("logout: %s", err)
	}
	handler.addAuditEvent(r, auditlog.EventLogout, username, "")

	pkg.WriteTextResponseOK(w, "logged out")
}

func (handler *Handler) handleItemsList(w http.ResponseWriter, r *http.Request) {
	page, perPage := pageParams(r)
	items, err := handler.client.Items(r.Context(), page, perPage)
	if err != nil {
		handler.writeError(w, r, err)
		return
	}
	handler.writeJSON(w, items)
}

func (handler *Handler) handleItemGet(w http.ResponseWriter, r *http.Request) {
	id, err := intVar(r, "id")
	if err != nil {
		http.Error(w, "invalid item id", http.StatusBadRequest)
		return
	}
	item, err := handler.client.Item(r.Context(), id)
	if err != nil {
		handler.writeError(w, r, err)
		return
	}
	handler.writeJSON(w, item)
}

func (handler *Handler) handleItemsSearch(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("q")
	if term == "" {
		http.Error(w, "error, search term empty", http.StatusBadRequest)
		return
	}
	page, perPage := pageParams(r)
	items, err := handler.client.SearchItems(r.Context(), term, page, perPage)
	if err != nil {
		handler.writeError(w, r, err)
		return
	}
	handler.writeJSON(w, items)
}

func (handler *Handler) handleItemsLowStock(w http.ResponseWriter, r *http.Request) {
	page, perPage := pageParams(r)
	items, err := handler.client.LowStockItems(r.Context(), page, perPage)
	if err != nil {
		handler.writeError(w, r, err)
		return
	}
	handler.writeJSON(w, items)
}

func (handler *Handler) handleItemsExpiringSoon(w http.ResponseWriter, r *http.Request) {
	page, perPage := pageParams(r)
	items, err := handler.client.ExpiringSoonItems(r.Context(), page, perPage)
	if err != nil {
		handler.writeError(w, r, err)
		return
	}
	handler.writeJSON(w, items)
}

func (handler *Handler) handleItemsByCategory(w http.ResponseWriter, r *http.Request) {
	categoryID, err := intVar(r, "categoryId")
	if err != nil {
		http.Error(w, "invalid category id", http.StatusBadRequest)
		return
	}
	page, perPage := pageParams(r)
	items, err := handler.client.ItemsByCategory(r.Context(), categoryID, page, perPage)
	if err != nil {
		handler.writeError(w, r, err)
		return
	}
	handler.writeJSON(w, items)
}

func (handler *Handler) handleItemsTrashed(w http.ResponseWriter, r *http.Request) {
	page, perPage := pageParams(r)
	items, err := handler.client.TrashedItems(r.Context(), page, perPage)
	if err != nil {
		handler.writeError(w, r, err)
		return
	}
	handler.writeJSON(w, items)
}

func (handler *Handler) handleItemCreate(w http.ResponseWriter, r *http.Request) {
	var item upstream.Item
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		http.Error(w, "invalid item payload", http.StatusBadRequest)
		return
	}
	created, err := handler.client.CreateItem(r.Context(), &item)
	if err != nil {
		handler.writeError(w, r, err)
		return
	}
	handler.writeJSON(w, created)
}

func (handler *Handler) handleItemUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := intVar(r, "id")
	if err != nil {
		http.Error(w, "invalid item id", http.StatusBadRequest)
		return
	}
	var item upstream.Item
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		http.Error(w, "invalid item payload", http.StatusBadRequest)
		return
	}
	updated, err := handler.client.UpdateItem(r.Context(), id, &item)
	if err != nil {
		handler.writeError(w, r, err)
		return
	}
	handler.writeJSON(w, updated)
}

func (handler *Handler) handleItemDelete(w http.ResponseWriter, r *http.Request) {
	id, err := intVar(r, "id")
	if err != nil {
		http.Error(w, "invalid item id", http.StatusBadRequest)
		return
	}
	if err := handler.client.DeleteItem(r.Context(), id); err != nil {
		handler.writeError(w, r, err)
		return
	}
	pkg.WriteTextResponseOK(w, "deleted:"+strconv.Itoa(id))
}

func (handler *Handler) handleItemRestore(w http.ResponseWriter, r *http.Request) {
	id, err := intVar(r, "id")
	if err != nil {
		http.Error(w, "invalid item id", http.StatusBadRequest)
		return
	}
	restored, err := handler.client.RestoreItem(r.Context(), id)
	if err != nil {
		handler.writeError(w, r, err)
		return
	}
	handler.writeJSON(w, restored)
}

func (handler *Handler) handleCategoriesList(w http.ResponseWriter, r *http.Request) {
	categories, err := handler.client.Categories(r.Context())
	if err != nil {
		handler.writeError(w, r, err)
		return
	}
	handler.writeJSON(w, categories)
}

func (handler *Handler) handleCategoryCreate(w http.ResponseWriter, r *http.Request) {
	var category upstream.Category
	if err := json.NewDecoder(r.Body).Decode(&category); err != nil {
		http.Error(w, "invalid category payload", http.StatusBadRequest)
		return
	}
	created, err := handler.client.CreateCategory(r.Context(), &category)
	if err != nil {
		handler.writeError(w, r, err)
		return
	}
	handler.writeJSON(w, created)
}

func (handler *Handler) handleCategoryUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := intVar(r, "id")
	if err != nil {
		http.Error(w, "invalid category id", http.StatusBadRequest)
		return
	}
	var category upstream.Category
	if err := json.NewDecoder(r.Body).Decode(&category); err != nil {
		http.Error(w, "invalid category payload", http.StatusBadRequest)
		return
	}
	updated, err := handler.client.UpdateCategory(r.Context(), id, &category)
	if err != nil {
		handler.writeError(w, r, err)
		return
	}
	handler.writeJSON(w, updated)
}

func (handler *Handler) handleCategoryDelete(w http.ResponseWriter, r *http.Request) {
	id, err := intVar(r, "id")
	if err != nil {
		http.Error(w, "invalid category id", http.StatusBadRequest)
		return
	}
	if err := handler.client.DeleteCategory(r.Context(), id); err != nil {
		handler.writeError(w, r, err)
		return
	}
	pkg.WriteTextResponseOK(w, "deleted:"+strconv.Itoa(id))
}

func (handler *Handler) handleUsersList(w http.ResponseWriter, r *http.Request) {
	users, err := handler.client.Users(r.Context())
	if err != nil {
		handler.writeError(w, r, err)
		return
	}
	handler.writeJSON(w, users)
}

func (handler *Handler) handleUserGet(w http.ResponseWriter, r *http.Request) {
	id, err := intVar(r, "id")
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	user, err := handler.client.User(r.Context(), id)
	if err != nil {
		handler.writeError(w, r, err)
		return
	}
	handler.writeJSON(w, user)
}

func (handler *Handler) handleUserCreate(w http.ResponseWriter, r *http.Request) {
	var user session.User
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		http.Error(w, "invalid user payload", http.StatusBadRequest)
		return
	}
	created, err := handler.client.CreateUser(r.Context(), &user)
	if err != nil {
		handler.writeError(w, r, err)
		return
	}
	handler.writeJSON(w, created)
}

func (handler *Handler) handleUserUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := intVar(r, "id")
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	var user session.User
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		http.Error(w, "invalid user payload", http.StatusBadRequest)
		return
	}
	updated, err := handler.client.UpdateUser(r.Context(), id, &user)
	if err != nil {
		handler.writeError(w, r, err)
		return
	}
	handler.writeJSON(w, updated)
}

func (handler *Handler) handleUserDelete(w http.ResponseWriter, r *http.Request) {
	id, err := intVar(r, "id")
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	if err := handler.client.DeleteUser(r.Context(), id); err != nil {
		handler.writeError(w, r, err)
		return
	}
	pkg.WriteTextResponseOK(w, "deleted:"+strconv.Itoa(id))
}

func (handler *Handler) handleRequestsList(w http.ResponseWriter, r *http.Request) {
	requests, err := handler.client.Requests(r.Context())
	if err != nil {
		handler.writeError(w, r, err)
		return
	}
	handler.writeJSON(w, requests)
}

func (handler *Handler) handleMyRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := handler.client.MyRequests(r.Context())
	if err != nil {
		handler.writeError(w, r, err)
		return
	}
	handler.writeJSON(w, requests)
}

func (handler *Handler) handleRequestCreate(w http.ResponseWriter, r *http.Request) {
	var request upstream.BorrowRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	created, err := handler.client.CreateRequest(r.Context(), &request)
	if err != nil {
		handler.writeError(w, r, err)
		return
	}
	handler.writeJSON(w, created)
}

func (handler *Handler) handleRequestStatusUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := intVar(r, "id")
	if err != nil {
		http.Error(w, "invalid request id", http.StatusBadRequest)
		return
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Status == "" {
		http.Error(w, "invalid status payload", http.StatusBadRequest)
		return
	}
	updated, err := handler.client.UpdateRequestStatus(r.Context(), id, payload.Status)
	if err != nil {
		handler.writeError(w, r, err)
		return
	}
	handler.writeJSON(w, updated)
}

func (handler *Handler) handleLogsList(w http.ResponseWriter, r *http.Request) {
	logs, err := handler.client.Logs(r.Context())
	if err != nil {
		handler.writeError(w, r, err)
		return
	}
	handler.writeJSON(w, logs)
}

func (handler *Handler) handleLogCreate(w http.ResponseWriter, r *http.Request) {
	var entry upstream.LogEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		http.Error(w, "invalid log payload", http.StatusBadRequest)
		return
	}
	created, err := handler.client.CreateLog(r.Context(), &entry)
	if err != nil {
		handler.writeError(w, r, err)
		return
	}
	handler.writeJSON(w, created)
}

func (handler *Handler) writeJSON(w http.ResponseWriter, payload any) {
	payloadJson, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("marshal response payload: %s", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, payloadJson)
}

// writeError maps upstream failures to local responses. A rejected or
// expired token sends the caller back to the login page; other API
// errors pass through with their original status.
func (handler *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, upstream.ErrSessionExpired), errors.Is(err, upstream.ErrUnauthorized):
		log.Warnf("request [%s] aborted: %s", r.URL.Path, err)
		http.Redirect(w, r, guard.LoginPath+"?expired=true", http.StatusFound)
		return
	}

	var apiErr *upstream.APIError
	if errors.As(err, &apiErr) {
		errJson, _ := json.Marshal(struct {
			Message string `json:"message"`
		}{Message: apiErr.Message})
		pkg.WriteResponseBytes(w, pkg.ContentType.JSON, errJson, apiErr.StatusCode)
		return
	}

	log.Errorf("request [%s]: %s", r.URL.Path, err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func (handler *Handler) addAuditEvent(r *http.Request, eventType auditlog.EventType, username, details string) {
	if handler.audit == nil {
		return
	}
	if _, err := handler.audit.Add(r.Context(), auditlog.Event{
		Type:     eventType,
		Username: username,
		Details:  details,
	}); err != nil {
		log.Errorf("add audit event [%s]: %s", eventType, err)
	}
}

func pageParams(r *http.Request) (page, perPage int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))
	return page, perPage
}

func intVar(r *http.Request, name string) (int, error) {
	return strconv.Atoi(mux.Vars(r)[name])
}

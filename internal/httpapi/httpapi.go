// Package httpapi is the HTTP surface of goguard-server: login, refresh,
// logout, device management and role administration over a goGate.Engine.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/device"
	"github.com/MrEthical07/goGate/locale"
	"github.com/MrEthical07/goGate/middleware"
	"github.com/MrEthical07/goGate/permission"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 64 << 10

// Options wires optional pieces of the router.
type Options struct {
	Logger zerolog.Logger
	// Metrics is mounted on GET /metrics when set.
	Metrics http.Handler
	// Ready reports backend health for GET /readyz. Nil means always ready.
	Ready func(r *http.Request) error
}

type api struct {
	engine *goGate.Engine
	logger zerolog.Logger
	ready  func(r *http.Request) error
}

// NewRouter returns the full route table wrapped in client address
// resolution, access logging, locale negotiation and the request limiter, in
// that order.
func NewRouter(engine *goGate.Engine, opts Options) http.Handler {
	a := &api{engine: engine, logger: opts.Logger, ready: opts.Ready}
	guard := middleware.Guard(engine)
	can := func(section, action string) func(http.Handler) http.Handler {
		return middleware.Chain(guard, middleware.RequirePermission(engine, section, action))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /readyz", a.readyz)

	mux.HandleFunc("POST /auth/login", a.login)
	mux.HandleFunc("POST /auth/refresh", a.refresh)
	mux.Handle("POST /auth/logout", guard(http.HandlerFunc(a.logout)))
	mux.Handle("POST /auth/logout-all", guard(http.HandlerFunc(a.logoutAll)))
	mux.Handle("GET /auth/me", guard(http.HandlerFunc(a.me)))
	mux.Handle("GET /auth/devices", guard(http.HandlerFunc(a.listDevices)))
	mux.Handle("DELETE /auth/devices/{id}", guard(http.HandlerFunc(a.deleteDevice)))

	mux.Handle("GET /admin/roles", can("roles", "read")(http.HandlerFunc(a.listRoles)))
	mux.Handle("PUT /admin/roles/{id}/permissions", can("roles", "update")(http.HandlerFunc(a.putRolePermissions)))

	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	// Locale sits ahead of Guard so 401 bodies are localized too.
	return middleware.Chain(
		middleware.ClientAddress(engine),
		middleware.AccessLog(opts.Logger),
		middleware.Locale(),
		middleware.RateLimit(engine),
	)(mux)
}

func (a *api) readyz(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		if err := a.ready(r); err != nil {
			a.logger.Warn().Err(err).Msg("readiness check failed")
			middleware.WriteError(w, r, http.StatusServiceUnavailable, locale.KeyUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) login(w http.ResponseWriter, r *http.Request) {
	var req goGate.LoginRequest
	if !decode(w, r, &req) {
		return
	}
	pair, err := a.engine.Login(middleware.RequestContext(r), req)
	if err != nil {
		var rle *goGate.RateLimitError
		switch {
		case errors.As(err, &rle):
			middleware.WriteTooManyRequests(w, r, rle.Decision)
		case errors.Is(err, goGate.ErrStoreUnavailable):
			a.unavailable(w, r, err)
		default:
			middleware.WriteError(w, r, http.StatusUnauthorized, locale.KeyInvalidCredentials)
		}
		return
	}
	middleware.WriteJSON(w, http.StatusOK, pair)
}

func (a *api) refresh(w http.ResponseWriter, r *http.Request) {
	var req goGate.RefreshRequest
	if !decode(w, r, &req) {
		return
	}
	pair, err := a.engine.Refresh(middleware.RequestContext(r), req)
	if err != nil {
		if errors.Is(err, goGate.ErrStoreUnavailable) {
			a.unavailable(w, r, err)
			return
		}
		middleware.WriteError(w, r, http.StatusUnauthorized, locale.KeyUnauthorized)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, pair)
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type messageBody struct {
	Message string `json:"message"`
}

func (a *api) logout(w http.ResponseWriter, r *http.Request) {
	id, _ := goGate.IdentityFromContext(r.Context())
	var req logoutRequest
	// Without a body only the access token is revoked.
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteError(w, r, http.StatusBadRequest, locale.KeyInvalidRequest)
		return
	}
	if err := a.engine.Logout(r.Context(), id, req.RefreshToken); err != nil {
		a.unavailable(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, messageBody{Message: locale.Message(r.Context(), locale.KeyLoggedOut)})
}

func (a *api) logoutAll(w http.ResponseWriter, r *http.Request) {
	id, _ := goGate.IdentityFromContext(r.Context())
	if err := a.engine.LogoutAll(r.Context(), id.SubjectID); err != nil {
		a.unavailable(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, messageBody{Message: locale.Message(r.Context(), locale.KeyLoggedOut)})
}

type meResponse struct {
	SubjectID   string            `json:"subjectId"`
	Email       string            `json:"email"`
	Roles       []string          `json:"roles"`
	Permissions permission.Matrix `json:"permissions"`
	ExpiresAt   time.Time         `json:"expiresAt"`
}

func (a *api) me(w http.ResponseWriter, r *http.Request) {
	id, _ := goGate.IdentityFromContext(r.Context())
	roles := id.Roles
	if roles == nil {
		roles = []string{}
	}
	middleware.WriteJSON(w, http.StatusOK, meResponse{
		SubjectID:   id.SubjectID,
		Email:       id.Email,
		Roles:       roles,
		Permissions: a.engine.EffectivePermissions(id.Roles),
		ExpiresAt:   id.ExpiresAt.UTC(),
	})
}

type deviceView struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Class      string    `json:"class"`
	UserAgent  string    `json:"userAgent,omitempty"`
	IP         string    `json:"ip,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

func (a *api) listDevices(w http.ResponseWriter, r *http.Request) {
	id, _ := goGate.IdentityFromContext(r.Context())
	devices, err := a.engine.ListDevices(r.Context(), id.SubjectID)
	if err != nil {
		a.unavailable(w, r, err)
		return
	}
	out := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceView{
			ID:         d.ID,
			Type:       d.Type,
			Class:      string(d.Class),
			UserAgent:  d.UserAgent,
			IP:         d.IP,
			CreatedAt:  d.CreatedAt.UTC(),
			LastSeenAt: d.LastSeenAt.UTC(),
		})
	}
	middleware.WriteJSON(w, http.StatusOK, out)
}

func (a *api) deleteDevice(w http.ResponseWriter, r *http.Request) {
	id, _ := goGate.IdentityFromContext(r.Context())
	err := a.engine.DeactivateDevice(r.Context(), id.SubjectID, r.PathValue("id"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, device.ErrNotFound):
		middleware.WriteError(w, r, http.StatusNotFound, locale.KeyNotFound)
	default:
		a.unavailable(w, r, err)
	}
}

type roleView struct {
	permission.Role
	Permissions []permission.Permission `json:"permissions"`
}

func (a *api) listRoles(w http.ResponseWriter, r *http.Request) {
	id, _ := goGate.IdentityFromContext(r.Context())
	roles := a.engine.VisibleRoles(id.Roles)
	out := make([]roleView, 0, len(roles))
	for _, role := range roles {
		out = append(out, roleView{Role: role, Permissions: a.engine.RolePermissions(role.ID)})
	}
	middleware.WriteJSON(w, http.StatusOK, out)
}

func (a *api) putRolePermissions(w http.ResponseWriter, r *http.Request) {
	var updates []permission.Update
	if !decode(w, r, &updates) {
		return
	}
	err := a.engine.UpdateRolePermissions(middleware.RequestContext(r), r.PathValue("id"), updates)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, permission.ErrRoleNotFound):
		middleware.WriteError(w, r, http.StatusNotFound, locale.KeyNotFound)
	case errors.Is(err, permission.ErrInvalidUpdate):
		middleware.WriteError(w, r, http.StatusBadRequest, locale.KeyInvalidRequest)
	default:
		a.unavailable(w, r, err)
	}
}

func (a *api) unavailable(w http.ResponseWriter, r *http.Request, err error) {
	a.logger.Error().Err(err).Str("route", r.Method+" "+r.URL.Path).Msg("request failed")
	middleware.WriteError(w, r, http.StatusServiceUnavailable, locale.KeyUnavailable)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		middleware.WriteError(w, r, http.StatusBadRequest, locale.KeyInvalidRequest)
		return false
	}
	return true
}

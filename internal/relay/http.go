package relay

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hamzalamin/qatrat-chat-core/internal/logx"
)

// RESTHandler serves the history and directory endpoints consumed by
// the client core.
type RESTHandler struct {
	store    Store
	verifier *TokenVerifier
	limit    int
}

func NewRESTHandler(store Store, verifier *TokenVerifier, historyLimit int) *RESTHandler {
	if historyLimit <= 0 {
		historyLimit = 200
	}
	return &RESTHandler{store: store, verifier: verifier, limit: historyLimit}
}

func (h *RESTHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/users", h.withAuth(h.handleListUsers))
	mux.HandleFunc("GET /api/messages/{counterpartId}", h.withAuth(h.handleHistory))
}

type authedHandler func(w http.ResponseWriter, r *http.Request, claims *Claims)

// withAuth verifies the bearer credential and installs a
// request-scoped logger before dispatching. Every response is logged
// with its final status.
func (h *RESTHandler) withAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		base := logx.L()
		reqLog := base.With().
			Str(logx.FieldMethod, r.Method).
			Str(logx.FieldPath, r.URL.Path).
			Logger()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		token := bearerToken(r)
		if token == "" {
			writeError(rec, http.StatusUnauthorized, "missing bearer token")
			reqLog.Info().Int(logx.FieldStatus, rec.status).Msg("request completed")
			return
		}
		claims, err := h.verifier.Verify(token)
		if err != nil {
			writeError(rec, http.StatusUnauthorized, "invalid token")
			reqLog.Info().Int(logx.FieldStatus, rec.status).Msg("request completed")
			return
		}

		reqLog = reqLog.With().Str(logx.FieldUserID, claims.UserID).Logger()
		r = r.WithContext(logx.WithLogger(r.Context(), reqLog))

		next(rec, r, claims)
		reqLog.Info().Int(logx.FieldStatus, rec.status).Msg("request completed")
	}
}

// statusRecorder captures the response status for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (h *RESTHandler) handleListUsers(w http.ResponseWriter, r *http.Request, _ *Claims) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		l := logx.Ctx(r.Context())
		l.Error().Err(err).Msg("directory listing failed")
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *RESTHandler) handleHistory(w http.ResponseWriter, r *http.Request, claims *Claims) {
	counterpartID := strings.TrimSpace(r.PathValue("counterpartId"))
	if counterpartID == "" {
		writeError(w, http.StatusBadRequest, "counterpart id is required")
		return
	}

	messages, err := h.store.GetConversation(r.Context(), claims.UserID, counterpartID, h.limit)
	if err != nil {
		l := logx.Ctx(r.Context())
		l.Error().Err(err).Str(logx.FieldCounterpart, counterpartID).Msg("history read failed")
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	app "github.com/R3E-Network/rewards_layer/internal/app"
	domain "github.com/R3E-Network/rewards_layer/internal/app/domain/evolution"
	"github.com/R3E-Network/rewards_layer/internal/app/metrics"
	"github.com/R3E-Network/rewards_layer/internal/app/services/evolution"
	"github.com/R3E-Network/rewards_layer/internal/middleware"
	"github.com/R3E-Network/rewards_layer/pkg/logger"
)

// Options carries the middleware chain. Nil members are skipped; without
// Auth every /v1 request is rejected because no user id is known.
type Options struct {
	Auth        *middleware.AuthMiddleware
	RateLimiter *middleware.RateLimiter
	CORS        *middleware.CORSMiddleware
	Log         *logger.Logger
}

// handler bundles HTTP endpoints for the evolution engine.
type handler struct {
	app *app.Application
	log *logger.Logger
}

// NewHandler returns a router exposing the rewards REST API.
func NewHandler(application *app.Application, opts Options) http.Handler {
	log := opts.Log
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application, log: log}

	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware(log), middleware.MetricsMiddleware())
	router.HandleFunc("/health", h.health).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/v1").Subrouter()
	if opts.Auth != nil {
		api.Use(opts.Auth.Handler)
	}
	if opts.RateLimiter != nil {
		api.Use(opts.RateLimiter.Handler)
	}
	api.HandleFunc("/evolutions", h.listEvolutions).Methods(http.MethodGet)
	api.HandleFunc("/positions/{positionID}/eligibility", h.eligibility).Methods(http.MethodGet)
	api.HandleFunc("/positions/{positionID}/evolve", h.evolve).Methods(http.MethodPost)
	api.HandleFunc("/positions/{positionID}/claim", h.claim).Methods(http.MethodPost)
	api.HandleFunc("/positions/{positionID}/evolution", h.evolution).Methods(http.MethodGet)
	api.HandleFunc("/positions/{positionID}/claims", h.claims).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})

	if opts.CORS != nil {
		return opts.CORS.Handler(router)
	}
	return router
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) eligibility(w http.ResponseWriter, r *http.Request) {
	userID, positionID, ok := h.identify(w, r)
	if !ok {
		return
	}
	result, err := h.app.Evolution.CheckEligibility(r.Context(), userID, positionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type evolveResponse struct {
	Record  domain.Record   `json:"record"`
	Variant *domain.Variant `json:"variant,omitempty"`
}

func (h *handler) evolve(w http.ResponseWriter, r *http.Request) {
	userID, positionID, ok := h.identify(w, r)
	if !ok {
		return
	}
	if err := drainEmptyBody(r.Body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}
	rec, err := h.app.Evolution.AttemptEvolution(r.Context(), userID, positionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := evolveResponse{Record: rec}
	if v, ok := h.app.Evolution.Registry().Snapshot().Variant(rec.VariantID); ok {
		resp.Variant = &v
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *handler) claim(w http.ResponseWriter, r *http.Request) {
	userID, positionID, ok := h.identify(w, r)
	if !ok {
		return
	}
	if err := drainEmptyBody(r.Body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}
	event, err := h.app.Evolution.ClaimEarnings(r.Context(), userID, positionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (h *handler) evolution(w http.ResponseWriter, r *http.Request) {
	userID, positionID, ok := h.identify(w, r)
	if !ok {
		return
	}
	view, err := h.app.Evolution.GetEvolution(r.Context(), userID, positionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handler) claims(w http.ResponseWriter, r *http.Request) {
	userID, positionID, ok := h.identify(w, r)
	if !ok {
		return
	}
	events, err := h.app.Evolution.ListClaims(r.Context(), userID, positionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if events == nil {
		events = []domain.ClaimEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"claims": events})
}

func (h *handler) listEvolutions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		return
	}
	records, err := h.app.Evolution.ListEvolutions(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if records == nil {
		records = []domain.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"evolutions": records})
}

func (h *handler) identify(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		return "", "", false
	}
	positionID := strings.TrimSpace(mux.Vars(r)["positionID"])
	if positionID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "position id is required", nil)
		return "", "", false
	}
	return userID, positionID, true
}

// fail maps engine errors onto HTTP statuses. Unexpected errors are logged
// and reported without internals.
func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var notEligible *evolution.NotEligibleError
	switch {
	case errors.As(err, &notEligible):
		writeError(w, http.StatusUnprocessableEntity, "not_eligible", err.Error(), notEligible.Result)
	case errors.Is(err, evolution.ErrNothingToClaim):
		writeError(w, http.StatusUnprocessableEntity, "nothing_to_claim", err.Error(), nil)
	case errors.Is(err, evolution.ErrAlreadyEvolved):
		writeError(w, http.StatusConflict, "already_evolved", err.Error(), nil)
	case errors.Is(err, evolution.ErrClaimConflict):
		writeError(w, http.StatusConflict, "claim_conflict", err.Error(), nil)
	case errors.Is(err, evolution.ErrNoEvolutionRecord):
		writeError(w, http.StatusNotFound, "no_evolution_record", err.Error(), nil)
	case errors.Is(err, evolution.ErrNoVariantsConfigured):
		writeError(w, http.StatusServiceUnavailable, "no_variants_configured", err.Error(), nil)
	case errors.Is(err, evolution.ErrVariantNotFound):
		writeError(w, http.StatusServiceUnavailable, "variant_not_found", err.Error(), nil)
	case errors.Is(err, evolution.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
	default:
		h.log.WithError(err).
			WithField("path", r.URL.Path).
			WithField("user_id", middleware.UserIDFromContext(r.Context())).
			Error("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}

// drainEmptyBody accepts an absent body or an empty JSON object; the POST
// operations take no parameters.
func drainEmptyBody(body io.ReadCloser) error {
	if body == nil {
		return nil
	}
	var payload struct{}
	if err := decodeJSON(body, &payload); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorBody{Error: code, Message: message, Details: details})
}

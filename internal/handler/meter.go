package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/aquaminds/meter-relay-go/internal/audit"
	apperrors "github.com/aquaminds/meter-relay-go/internal/errors"
	"github.com/aquaminds/meter-relay-go/internal/httputil"
	"github.com/aquaminds/meter-relay-go/internal/middleware"
	"github.com/aquaminds/meter-relay-go/internal/model"
	"github.com/aquaminds/meter-relay-go/internal/service"
)

type MeterHandler struct {
	meterService   *service.MeterService
	pairingService *service.PairingService
	authHandler    func(http.Handler) http.Handler
	redeemLimiter  func(http.Handler) http.Handler
}

func NewMeterHandler(
	meterService *service.MeterService,
	pairingService *service.PairingService,
	authHandler func(http.Handler) http.Handler,
	redeemLimiter func(http.Handler) http.Handler,
) *MeterHandler {
	return &MeterHandler{
		meterService:   meterService,
		pairingService: pairingService,
		authHandler:    authHandler,
		redeemLimiter:  redeemLimiter,
	}
}

func (h *MeterHandler) Routes() chi.Router {
	r := chi.NewRouter()

	// Redemption is the one anonymous route: the meter has no
	// credential yet, only the password the owner typed into it.
	r.Group(func(r chi.Router) {
		r.Use(h.redeemLimiter)
		r.Get("/receive/{password}", h.Redeem)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.authHandler)
		r.Get("/{workspaceID}", h.List)
		r.Post("/{workspaceID}", h.Create)
		r.Get("/{workspaceID}/{meterID}", h.Get)
		r.Put("/{workspaceID}/{meterID}", h.Update)
		r.Delete("/{workspaceID}/{meterID}", h.Delete)
		r.Post("/{workspaceID}/connect/{meterID}", h.Connect)
		r.Get("/records/{workspaceID}/{meterID}", h.LatestRecords)
		r.Get("/records/{workspaceID}/{meterID}/{sensor}", h.SensorHistory)
	})

	return r
}

// GET /v1/meters/{workspaceID}
func (h *MeterHandler) List(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	meters, err := h.meterService.List(r.Context(), chi.URLParam(r, "workspaceID"), user.OwnerID)
	if err != nil {
		log.Error().Err(err).Msg("failed to list meters")
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Meters retrieved successfully",
		"meters":  meters,
	})
}

// POST /v1/meters/{workspaceID}
func (h *MeterHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	var req struct {
		Name        string   `json:"name"`
		Description *string  `json:"description"`
		Lat         *float64 `json:"lat"`
		Lon         *float64 `json:"lon"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	meter, err := h.meterService.Create(r.Context(), model.CreateMeterParams{
		WorkspaceID: chi.URLParam(r, "workspaceID"),
		OwnerID:     user.OwnerID,
		Name:        req.Name,
		Description: req.Description,
		Lat:         req.Lat,
		Lon:         req.Lon,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to create meter")
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Meter created successfully",
		"meter":   meter,
	})
}

// GET /v1/meters/{workspaceID}/{meterID}
func (h *MeterHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	meter, err := h.meterService.Get(r.Context(), chi.URLParam(r, "workspaceID"), user.OwnerID, chi.URLParam(r, "meterID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Meter retrieved successfully",
		"meter":   meter,
	})
}

// PUT /v1/meters/{workspaceID}/{meterID}
func (h *MeterHandler) Update(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	var req model.UpdateMeterParams
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	meter, err := h.meterService.Update(r.Context(), chi.URLParam(r, "workspaceID"), user.OwnerID, chi.URLParam(r, "meterID"), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Meter updated successfully",
		"meter":   meter,
	})
}

// DELETE /v1/meters/{workspaceID}/{meterID}
func (h *MeterHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	meter, err := h.meterService.Delete(r.Context(), chi.URLParam(r, "workspaceID"), user.OwnerID, chi.URLParam(r, "meterID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Meter deleted successfully",
		"meter":   meter,
	})
}

// POST /v1/meters/{workspaceID}/connect/{meterID}
// Initiates pairing: returns the one-time password the owner types
// into the physical meter.
func (h *MeterHandler) Connect(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	password, err := h.pairingService.CreatePassword(r.Context(), chi.URLParam(r, "workspaceID"), user.OwnerID, chi.URLParam(r, "meterID"))
	if err != nil {
		log.Error().Err(err).Msg("failed to create pairing password")
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:        audit.EventPairingInitiate,
		OwnerID:     user.OwnerID,
		WorkspaceID: chi.URLParam(r, "workspaceID"),
		MeterID:     chi.URLParam(r, "meterID"),
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "Password created successfully",
		"password": password,
	})
}

// GET /v1/meters/receive/{password}
// Anonymous redemption: the meter trades its password for a
// credential. The negative response is uniform regardless of why the
// password is unknown.
func (h *MeterHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	password, err := strconv.Atoi(chi.URLParam(r, "password"))
	if err != nil {
		httputil.WriteError(w, apperrors.PairingNotFound())
		return
	}

	token, err := h.pairingService.Redeem(r.Context(), password)
	if err != nil {
		if code := apperrors.GetCode(err); code != apperrors.ErrCodePairingNotFound {
			log.Error().Err(err).Msg("failed to redeem pairing password")
		}
		audit.LogFromRequest(r, audit.Event{Type: audit.EventPairingRedeemFailed})
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventPairingRedeem})

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Connection received",
		"token":   token,
	})
}

// GET /v1/meters/records/{workspaceID}/{meterID}
func (h *MeterHandler) LatestRecords(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	records, err := h.meterService.LatestRecords(r.Context(), chi.URLParam(r, "workspaceID"), user.OwnerID, chi.URLParam(r, "meterID"), limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Records retrieved successfully",
		"records": records,
	})
}

// GET /v1/meters/records/{workspaceID}/{meterID}/{sensor}
func (h *MeterHandler) SensorHistory(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	sensor := chi.URLParam(r, "sensor")

	records, err := h.meterService.SensorHistory(r.Context(), chi.URLParam(r, "workspaceID"), user.OwnerID, chi.URLParam(r, "meterID"), sensor, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Records retrieved successfully",
		"sensor":  sensor,
		"records": records,
	})
}

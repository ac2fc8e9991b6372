package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/klubbkiosk/kiosk-backend/v1/models"
	"github.com/klubbkiosk/kiosk-backend/v1/services"
	"github.com/klubbkiosk/kiosk-backend/v1/utils"
	"gorm.io/gorm"
)

// KioskHandler serves the kiosk terminal API: the member list for the
// check-in page, the two check-in actions, and a read-only inspection
// view of the local check-in log.
type KioskHandler struct {
	checkins *services.CheckinService
	members  *services.MemberService
}

// NewKioskHandler creates a new kiosk handler
func NewKioskHandler(db *gorm.DB, sheets services.SheetClient) *KioskHandler {
	return &KioskHandler{
		checkins: services.NewCheckinService(db),
		members:  services.NewMemberService(db, sheets),
	}
}

// SetupRoutes registers the kiosk API routes.
func (h *KioskHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/members", h.ListMembers)
	mux.HandleFunc("GET /api/v1/checkins", h.ListCheckins)
	mux.HandleFunc("POST /api/v1/checkins", h.Checkin)
	mux.HandleFunc("POST /api/v1/checkins/guest", h.CheckinGuest)
}

type checkinRequest struct {
	Name string `json:"name"`
}

type guestCheckinRequest struct {
	Name     string `json:"name"`
	PersonID string `json:"personId"`
}

// ListMembers returns the mirrored member list for the kiosk page.
func (h *KioskHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.members.ListMembers()
	if err != nil {
		slog.Error("Failed to list members", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to list members")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{"members": members})
}

// Checkin records a member check-in. The name must match the member
// mirror case- and trim-insensitively; that validation belongs here at
// the edge, not in the export core.
func (h *KioskHandler) Checkin(w http.ResponseWriter, r *http.Request) {
	var req checkinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "name is required")
		return
	}

	known, err := h.members.IsKnownMember(name)
	if err != nil {
		slog.Error("Member lookup failed", "name", name, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "member lookup failed")
		return
	}
	if !known {
		utils.RespondWithError(w, http.StatusBadRequest, "name not in member list")
		return
	}

	record, err := h.checkins.RecordCheckin(name, services.NowTimestamp(), nil, "")
	if err != nil {
		h.respondCheckinError(w, name, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, record)
}

// CheckinGuest records a one-off guest check-in tagged with the
// one-time-fee type and the guest's person id.
func (h *KioskHandler) CheckinGuest(w http.ResponseWriter, r *http.Request) {
	var req guestCheckinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	name := strings.TrimSpace(req.Name)
	personID := strings.TrimSpace(req.PersonID)
	if name == "" || personID == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "name and personId are required")
		return
	}

	record, err := h.checkins.RecordCheckin(name, services.NowTimestamp(), &personID, models.CheckinTypeOneTimeFee)
	if err != nil {
		h.respondCheckinError(w, name, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, record)
}

// ListCheckins returns the most recent check-in rows plus a per-status
// summary, for operators inspecting the local log.
func (h *KioskHandler) ListCheckins(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			utils.RespondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	records, err := h.checkins.ListCheckins(limit)
	if err != nil {
		slog.Error("Failed to list check-ins", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to list check-ins")
		return
	}
	summary, err := h.checkins.StatusSummary()
	if err != nil {
		slog.Error("Failed to summarize check-ins", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to summarize check-ins")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"checkins": records,
		"summary":  summary,
	})
}

func (h *KioskHandler) respondCheckinError(w http.ResponseWriter, name string, err error) {
	if errors.Is(err, services.ErrStorageBusy) {
		slog.Error("Check-in dropped, local store busy", "name", name, "error", err)
		utils.RespondWithError(w, http.StatusServiceUnavailable, "local store busy, try again")
		return
	}
	slog.Error("Failed to record check-in", "name", name, "error", err)
	utils.RespondWithError(w, http.StatusInternalServerError, "failed to record check-in")
}

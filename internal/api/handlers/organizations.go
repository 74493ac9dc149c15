package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/hugh/parishdesk/internal/api/dto"
	"github.com/hugh/parishdesk/internal/api/middleware"
	"github.com/hugh/parishdesk/internal/database/models"
	"github.com/hugh/parishdesk/internal/membership"
	"github.com/hugh/parishdesk/internal/tasks"
	"github.com/hugh/parishdesk/internal/tenancy"
	"github.com/hugh/parishdesk/pkg/util"
	"gorm.io/gorm"
)

// TaskEnqueuer is the part of asynq.Client the handlers use.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type OrganizationHandler struct {
	db          *gorm.DB
	memberships *membership.Store
	switcher    *tenancy.Switcher
	queue       TaskEnqueuer
}

// NewOrganizationHandler builds the handler. queue may be nil, in which case
// revocations rely on lazy clearing alone.
func NewOrganizationHandler(db *gorm.DB, memberships *membership.Store, switcher *tenancy.Switcher, queue TaskEnqueuer) *OrganizationHandler {
	return &OrganizationHandler{db: db, memberships: memberships, switcher: switcher, queue: queue}
}

func orgToDTO(org *models.Organization, roles []string) dto.OrganizationDTO {
	if roles == nil {
		roles = []string{}
	}
	return dto.OrganizationDTO{
		ID:           org.ID.String(),
		Name:         org.Name,
		AddressLine1: org.AddressLine1,
		AddressLine2: org.AddressLine2,
		City:         org.City,
		State:        org.State,
		PostalCode:   org.PostalCode,
		Country:      org.Country,
		Roles:        roles,
	}
}

// List handles GET /api/v1/organizations: every parish the caller belongs
// to, marking the selected one. It needs no selection.
func (h *OrganizationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	orgs, err := h.memberships.ListOrganizations(r.Context(), userID)
	if err != nil {
		util.LoggerFrom(r.Context()).Error("failed to list organizations", "error", err)
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to list organizations"})
		return
	}

	// The picker only marks the current choice; no tenant data is read.
	selected, hasSelection, err := h.memberships.GetSelection(r.Context(), userID)
	if err != nil {
		util.LoggerFrom(r.Context()).Error("failed to read selection", "error", err)
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to list organizations"})
		return
	}

	response := make([]dto.OrganizationDTO, len(orgs))
	for i := range orgs {
		response[i] = orgToDTO(&orgs[i].Organization, orgs[i].Roles)
		response[i].Selected = hasSelection && orgs[i].Organization.ID == selected
	}

	writeJSON(w, http.StatusOK, response)
}

// Select handles POST /api/v1/organizations/{id}/select
func (h *OrganizationHandler) Select(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid organization ID"})
		return
	}

	if err := h.switcher.Switch(r.Context(), middleware.GetIdentity(r.Context()), orgID); err != nil {
		middleware.WriteTenancyError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"organization_id": orgID.String()})
}

// Current handles GET /api/v1/organization: the selected parish.
func (h *OrganizationHandler) Current(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetOrganizationID(r.Context())

	var org models.Organization
	if err := h.db.WithContext(r.Context()).First(&org, "id = ?", orgID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, dto.ErrorResponse{Error: "Organization not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to load organization"})
		return
	}

	resp := orgToDTO(&org, middleware.GetRoles(r.Context()))
	resp.Selected = true
	writeJSON(w, http.StatusOK, resp)
}

// Update handles PUT /api/v1/organization (admin only)
func (h *OrganizationHandler) Update(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetOrganizationID(r.Context())

	var req dto.UpdateOrganizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Validation failed", Details: errs})
		return
	}

	var org models.Organization
	err := h.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&org, "id = ?", orgID).Error; err != nil {
			return err
		}
		org.Name = req.Name
		org.AddressLine1 = req.AddressLine1
		org.AddressLine2 = req.AddressLine2
		org.City = req.City
		org.State = req.State
		org.PostalCode = req.PostalCode
		org.Country = req.Country
		return tx.Save(&org).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, dto.ErrorResponse{Error: "Organization not found"})
			return
		}
		util.LoggerFrom(r.Context()).Error("failed to update organization", "error", err, "org_id", orgID)
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to update organization"})
		return
	}

	writeJSON(w, http.StatusOK, orgToDTO(&org, middleware.GetRoles(r.Context())))
}

// GrantMember handles POST /api/v1/organization/members (admin only)
func (h *OrganizationHandler) GrantMember(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetOrganizationID(r.Context())

	var req dto.GrantMembershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Validation failed", Details: errs})
		return
	}
	userID := uuid.MustParse(req.UserID)

	var count int64
	if err := h.db.WithContext(r.Context()).Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to grant membership"})
		return
	}
	if count == 0 {
		writeJSON(w, http.StatusNotFound, dto.ErrorResponse{Error: "User not found"})
		return
	}

	if err := h.memberships.Grant(r.Context(), userID, orgID, req.Roles); err != nil {
		util.LoggerFrom(r.Context()).Error("failed to grant membership", "error", err, "org_id", orgID, "user_id", userID)
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to grant membership"})
		return
	}

	util.LoggerFrom(r.Context()).Info("membership granted", "org_id", orgID, "user_id", userID, "roles", req.Roles)
	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "Membership granted"})
}

// RevokeMember handles DELETE /api/v1/organization/members/{userID} (admin only).
// A revoked user's selection is left in place and cleared on their next
// guarded request.
func (h *OrganizationHandler) RevokeMember(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetOrganizationID(r.Context())

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid user ID"})
		return
	}

	if err := h.memberships.Revoke(r.Context(), userID, orgID); err != nil {
		if errors.Is(err, membership.ErrMembershipNotFound) {
			writeJSON(w, http.StatusNotFound, dto.ErrorResponse{Error: "Membership not found"})
			return
		}
		util.LoggerFrom(r.Context()).Error("failed to revoke membership", "error", err, "org_id", orgID, "user_id", userID)
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to revoke membership"})
		return
	}

	logger := util.LoggerFrom(r.Context())
	logger.Info("membership revoked", "org_id", orgID, "user_id", userID)

	if h.queue != nil {
		if _, err := h.queue.EnqueueContext(r.Context(), tasks.NewClearDanglingSelectionsTask()); err != nil && !errors.Is(err, asynq.ErrDuplicateTask) {
			logger.Warn("failed to enqueue selection sweep", "error", err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hugh/parishdesk/internal/api/dto"
	"github.com/hugh/parishdesk/internal/api/middleware"
	"github.com/hugh/parishdesk/internal/api/validation"
	"github.com/hugh/parishdesk/internal/database"
	"github.com/hugh/parishdesk/internal/database/models"
	"github.com/hugh/parishdesk/pkg/util"
	"gorm.io/gorm"
)

// PetitionHandler serves the petitions of the caller's selected parish. Every
// query runs through database.WithTenant.
type PetitionHandler struct {
	db *gorm.DB
}

func NewPetitionHandler(db *gorm.DB) *PetitionHandler {
	return &PetitionHandler{db: db}
}

func petitionToDTO(p *models.Petition) dto.PetitionDTO {
	return dto.PetitionDTO{
		ID:             p.ID.String(),
		OrganizationID: p.OrganizationID.String(),
		Title:          p.Title,
		Body:           p.Body,
		CreatedBy:      p.CreatedBy.String(),
		CreatedAt:      p.CreatedAt.Format(time.RFC3339),
	}
}

// List handles GET /api/v1/petitions
func (h *PetitionHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetOrganizationID(r.Context())

	pagination := dto.ParsePagination(r.URL.Query())

	var (
		total     int64
		petitions []models.Petition
	)
	err := database.WithTenant(r.Context(), h.db, orgID, func(tx *gorm.DB) error {
		if err := tx.Model(&models.Petition{}).Count(&total).Error; err != nil {
			return err
		}
		return tx.Order("created_at DESC").
			Offset(pagination.Offset()).
			Limit(pagination.PerPage).
			Find(&petitions).Error
	})
	if err != nil {
		util.LoggerFrom(r.Context()).Error("failed to list petitions", "error", err, "org_id", orgID)
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to list petitions"})
		return
	}

	response := make([]dto.PetitionDTO, len(petitions))
	for i := range petitions {
		response[i] = petitionToDTO(&petitions[i])
	}

	writeJSON(w, http.StatusOK, pagination.Response(response, total))
}

// Create handles POST /api/v1/petitions
func (h *PetitionHandler) Create(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetOrganizationID(r.Context())

	var req dto.CreatePetitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Validation failed", Details: errs})
		return
	}

	petition := models.Petition{
		OrganizationID: orgID,
		Title:          validation.SanitizeString(req.Title),
		Body:           validation.SanitizeString(req.Body),
		CreatedBy:      middleware.GetUserID(r.Context()),
	}
	err := database.WithTenant(r.Context(), h.db, orgID, func(tx *gorm.DB) error {
		return tx.Create(&petition).Error
	})
	if err != nil {
		util.LoggerFrom(r.Context()).Error("failed to create petition", "error", err, "org_id", orgID)
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to create petition"})
		return
	}

	writeJSON(w, http.StatusCreated, petitionToDTO(&petition))
}

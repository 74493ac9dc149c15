package dto

import (
	"strings"

	"github.com/hugh/parishdesk/internal/api/validation"
)

type CreatePetitionRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (r CreatePetitionRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if strings.TrimSpace(r.Title) == "" {
		errors["title"] = "Title is required"
	} else if len([]rune(r.Title)) > validation.MaxPetitionTitleLength {
		errors["title"] = "Title is too long"
	}
	if len([]rune(r.Body)) > validation.MaxPetitionBodyLength {
		errors["body"] = "Body is too long"
	}

	return errors
}

type PetitionDTO struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Title          string `json:"title"`
	Body           string `json:"body,omitempty"`
	CreatedBy      string `json:"created_by"`
	CreatedAt      string `json:"created_at"`
}

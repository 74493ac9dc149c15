package dto

import (
	"github.com/hugh/parishdesk/internal/api/validation"
)

type OrganizationDTO struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	AddressLine1 string   `json:"address_line1,omitempty"`
	AddressLine2 string   `json:"address_line2,omitempty"`
	City         string   `json:"city,omitempty"`
	State        string   `json:"state,omitempty"`
	PostalCode   string   `json:"postal_code,omitempty"`
	Country      string   `json:"country,omitempty"`
	Roles        []string `json:"roles"`
	Selected     bool     `json:"selected,omitempty"`
}

// UpdateOrganizationRequest replaces the parish's name and address.
type UpdateOrganizationRequest struct {
	Name         string `json:"name"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2"`
	City         string `json:"city"`
	State        string `json:"state"`
	PostalCode   string `json:"postal_code"`
	Country      string `json:"country"`
}

func (r UpdateOrganizationRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.Name == "" {
		errors["name"] = "Name is required"
	} else if len(r.Name) > validation.MaxNameLength {
		errors["name"] = "Name is too long"
	}
	if !validation.IsValidCountry(r.Country) {
		errors["country"] = "Country must be a two-letter code"
	}

	return errors
}

// GrantMembershipRequest adds a user to the current organization or changes
// their roles there.
type GrantMembershipRequest struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
}

func (r GrantMembershipRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if !validation.IsValidUUID(r.UserID) {
		errors["user_id"] = "A valid user id is required"
	}
	if bad := validation.ValidateRoles(r.Roles); bad != "" {
		errors["roles"] = "Unknown role: " + bad
	}

	return errors
}

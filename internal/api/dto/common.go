package dto

import (
	"net/url"
	"strconv"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

type ErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

type SuccessResponse struct {
	Message string `json:"message"`
}

// PaginatedResponse wraps one page of a tenant-scoped listing.
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	PerPage    int         `json:"per_page"`
	TotalPages int         `json:"total_pages"`
}

type PaginationParams struct {
	Page    int
	PerPage int
}

// ParsePagination reads page and per_page from a query string. Missing or
// malformed values fall back to the first page of defaultPerPage rows.
func ParsePagination(q url.Values) PaginationParams {
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	p := PaginationParams{Page: page, PerPage: perPage}
	p.Normalize()
	return p
}

func (p *PaginationParams) Normalize() {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = defaultPerPage
	}
	if p.PerPage > maxPerPage {
		p.PerPage = maxPerPage
	}
}

func (p PaginationParams) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Response builds the page of data out of total rows.
func (p PaginationParams) Response(data interface{}, total int64) PaginatedResponse {
	pages := int(total / int64(p.PerPage))
	if total%int64(p.PerPage) > 0 {
		pages++
	}
	return PaginatedResponse{
		Data:       data,
		Total:      total,
		Page:       p.Page,
		PerPage:    p.PerPage,
		TotalPages: pages,
	}
}

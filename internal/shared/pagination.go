package shared

import (
	"net/url"
	"strconv"
)

// Pagination describes a requested page of a listing.
type Pagination struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

const (
	defaultPerPage = 50
	maxPerPage     = 200
)

// NewPagination normalises page parameters.
func NewPagination(page, perPage int) Pagination {
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	if page <= 0 {
		page = 1
	}
	return Pagination{Page: page, PerPage: perPage}
}

// PaginationFromQuery reads page and per_page query parameters.
func PaginationFromQuery(q url.Values) Pagination {
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	return NewPagination(page, perPage)
}

// Offset returns the number of rows to skip.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PerPage
}

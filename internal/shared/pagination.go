package shared

import (
	"math"
	"net/url"
	"strconv"
)

// MaxPerPage caps the page size a client may request.
const MaxPerPage = 100

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination computes pagination metadata.
func NewPagination(page, perPage, total int) Pagination {
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	if page <= 0 {
		page = 1
	}
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// PaginationFromQuery reads page and per_page from q. Malformed values
// fall back to the defaults.
func PaginationFromQuery(q url.Values, total int) Pagination {
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	return NewPagination(page, perPage, total)
}

// Bounds returns the half-open index range of the current page within a
// slice of Total items.
// Pages past the last one are empty.
func (p Pagination) Bounds() (start, end int) {
	if p.PerPage <= 0 || p.Page <= 0 {
		return 0, 0
	}
	// Compare page numbers before multiplying so huge pages cannot overflow.
	if p.Page > p.TotalPages {
		return p.Total, p.Total
	}
	start = (p.Page - 1) * p.PerPage
	end = start + p.PerPage
	if end > p.Total {
		end = p.Total
	}
	return start, end
}

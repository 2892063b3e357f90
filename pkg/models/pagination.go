package models

// Listing bounds shared by paginated endpoints.
const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// Pagination describes one page of a skip/limit listing.
type Pagination struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"totalPages"`
}

// NewPagination computes page = floor(skip/limit)+1 and
// totalPages = ceil(total/limit). limit must already be clamped.
func NewPagination(total int64, limit, skip int) Pagination {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if skip < 0 {
		skip = 0
	}
	return Pagination{
		Total:      total,
		Page:       skip/limit + 1,
		Limit:      limit,
		TotalPages: int((total + int64(limit) - 1) / int64(limit)),
	}
}

// ClampLimit applies the default and the maximum to a requested page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageLimit
	}
	if limit > MaxPageLimit {
		return MaxPageLimit
	}
	return limit
}

// Page is a generic page of results.
type Page[T any] struct {
	Records    []T        `json:"records"`
	Pagination Pagination `json:"pagination"`
}

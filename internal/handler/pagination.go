package handler

import (
	"net/http"
	"strconv"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

type PaginationParams struct {
	Limit  int
	Offset int
}

// ParsePagination reads ?limit and ?offset. Out-of-range or malformed values
// fall back to the defaults rather than failing the request.
func ParsePagination(r *http.Request) PaginationParams {
	q := r.URL.Query()
	page := PaginationParams{
		Limit:  queryInt(q.Get("limit"), DefaultLimit),
		Offset: queryInt(q.Get("offset"), 0),
	}
	if page.Limit <= 0 || page.Limit > MaxLimit {
		page.Limit = DefaultLimit
	}
	if page.Offset < 0 {
		page.Offset = 0
	}
	return page
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

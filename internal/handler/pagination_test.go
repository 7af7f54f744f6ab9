package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePagination(t *testing.T) {
	tests := []struct {
		query string
		want  PaginationParams
	}{
		{"", PaginationParams{Limit: DefaultLimit, Offset: 0}},
		{"?limit=10&offset=30", PaginationParams{Limit: 10, Offset: 30}},
		{"?limit=0", PaginationParams{Limit: DefaultLimit}},
		{"?limit=101", PaginationParams{Limit: DefaultLimit}},
		{"?limit=abc&offset=xyz", PaginationParams{Limit: DefaultLimit}},
		{"?offset=-5", PaginationParams{Limit: DefaultLimit}},
	}

	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/messages"+tc.query, nil)
			assert.Equal(t, tc.want, ParsePagination(req))
		})
	}
}

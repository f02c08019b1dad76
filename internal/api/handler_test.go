package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
		wantErr    bool
	}{
		{name: "defaults", query: "", wantLimit: DefaultLimit, wantOffset: 0},
		{name: "custom values", query: "?limit=50&offset=100", wantLimit: 50, wantOffset: 100},
		{name: "zero limit uses default", query: "?limit=0", wantLimit: DefaultLimit},
		{name: "limit at max", query: "?limit=1000", wantLimit: MaxLimit},
		{name: "limit exceeds max", query: "?limit=2000", wantErr: true},
		{name: "negative limit", query: "?limit=-1", wantErr: true},
		{name: "negative offset", query: "?offset=-1", wantErr: true},
		{name: "non-numeric limit", query: "?limit=abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/jobs"+tt.query, nil)

			limit, offset, err := parsePagination(req)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if limit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", limit, tt.wantLimit)
			}
			if offset != tt.wantOffset {
				t.Errorf("offset = %d, want %d", offset, tt.wantOffset)
			}
		})
	}
}

func TestLimitExceededErrorMessage(t *testing.T) {
	err := &limitExceededError{max: MaxLimit}
	want := "limit exceeds maximum of 1000"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

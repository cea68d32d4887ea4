package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid", Invalid("bad duration"), http.StatusBadRequest},
		{"conflict", Conflict("already marked"), http.StatusBadRequest},
		{"unauthorized", Unauthorized("bad credentials"), http.StatusUnauthorized},
		{"forbidden", Forbidden("out of scope"), http.StatusForbidden},
		{"not found", NotFound("no session"), http.StatusNotFound},
		{"rate limited", RateLimited("slow down"), http.StatusTooManyRequests},
		{"internal", Internal("boom"), http.StatusInternalServerError},
		{"foreign", errors.New("driver exploded"), http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("mark: %w", NotFound("no roster entry")), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("wrap: %w", Conflict("dup"))
	assert.True(t, Is(err, CodeConflict))
	assert.False(t, Is(err, CodeNotFound))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("x")))
	assert.Equal(t, "CONFLICT: dup", Conflict("dup").Error())
}

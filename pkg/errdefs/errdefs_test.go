package errdefs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrappedClassification(t *testing.T) {
	err := fmt.Errorf("outer: %w", NotFoundf("project %s", "abc123def456"))
	assert.True(t, IsNotFound(err))
	assert.False(t, IsConflict(err))
	assert.Contains(t, err.Error(), "abc123def456")
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"nil", nil, http.StatusOK, "internal"},
		{"invalid argument", ErrInvalidArgument, http.StatusBadRequest, "invalid_argument"},
		{"not found", ErrNotFound, http.StatusNotFound, "not_found"},
		{"conflict", ErrConflict, http.StatusBadRequest, "conflict"},
		{"busy", ErrBusy, http.StatusServiceUnavailable, "busy"},
		{"bridge unavailable", ErrBridgeUnavailable, http.StatusServiceUnavailable, "bridge_unavailable"},
		{"payload too large", ErrPayloadTooLarge, http.StatusRequestEntityTooLarge, "payload_too_large"},
		{"timeout", ErrTimeout, http.StatusGatewayTimeout, "timeout"},
		{"path violation", ErrPathViolation, http.StatusInternalServerError, "path_violation"},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
			if tt.err != nil {
				assert.Equal(t, tt.code, Code(tt.err))
			}
		})
	}
}

func TestWrapHelpers(t *testing.T) {
	err := InvalidArgumentf("name must be non-empty")
	assert.True(t, IsInvalidArgument(err))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))

	err = Conflictf("job %s is %s", "a1b2c3d4e5f6", "processing")
	assert.True(t, IsConflict(err))
	assert.Contains(t, err.Error(), "a1b2c3d4e5f6 is processing")
}

package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConflictCarriesCurrentVersion(t *testing.T) {
	err := Conflict(7)
	assert.Equal(t, http.StatusConflict, err.Status)
	assert.Equal(t, "conflict", err.Code)
	assert.Equal(t, int64(7), err.CurrentVersion)
	assert.Contains(t, err.Error(), "7")
}

func TestFromPassesThroughAPIErrors(t *testing.T) {
	orig := NotFound(errors.New("node gone"))
	wrapped := fmt.Errorf("fetching: %w", orig)

	got := From(wrapped)
	assert.Equal(t, http.StatusNotFound, got.Status)
	assert.Equal(t, "not_found", got.Code)
}

func TestFromDefaultsToInternal(t *testing.T) {
	got := From(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, got.Status)
	assert.Equal(t, "internal", got.Code)
	assert.Equal(t, "boom", got.Error())
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Forbidden(cause)
	assert.True(t, errors.Is(err, cause))
}

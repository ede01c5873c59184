package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New(ErrorMalformedEvent, "item %d has no metadata.name", 3)
	assert.Equal(t, ErrorMalformedEvent, err.Code)
	assert.Equal(t, "item 3 has no metadata.name", err.Reason)
	assert.Equal(t, "greenhouse-mirror-8: item 3 has no metadata.name", err.Error())
}

func TestNewKeepsDefaultReason(t *testing.T) {
	err := TransportError("")
	assert.Equal(t, "Watch transport failure", err.Reason)
	assert.Equal(t, http.StatusBadGateway, err.HttpCode)

	assert.Equal(t, http.StatusRequestEntityTooLarge, BodyTooLarge("").HttpCode)
}

func TestNewUnknownCodeFallsBackToGeneral(t *testing.T) {
	err := New(ServiceErrorCode(999), "weird")
	assert.Equal(t, ErrorGeneral, err.Code)
	assert.Equal(t, "weird", err.Reason)
}

func TestNewDoesNotShareRegistry(t *testing.T) {
	first := WriteRejected("first")
	second := WriteRejected("second")
	assert.Equal(t, "first", first.Reason)
	assert.Equal(t, "second", second.Reason)

	_, registered := Find(ErrorWriteRejected)
	require.NotNil(t, registered)
	assert.Equal(t, "Write rejected", registered.Reason)
}

func TestHasCode(t *testing.T) {
	wrapped := fmt.Errorf("apply batch: %w", MalformedEvent("missing name"))
	assert.True(t, HasCode(wrapped, ErrorMalformedEvent))
	assert.False(t, HasCode(wrapped, ErrorTransportError))
	assert.False(t, HasCode(fmt.Errorf("plain"), ErrorMalformedEvent))

	svcErr, ok := AsServiceError(wrapped)
	require.True(t, ok)
	assert.Equal(t, "missing name", svcErr.Reason)
}

func TestIs404(t *testing.T) {
	assert.True(t, NotFound("x").Is404())
	assert.True(t, UnknownKind("x").Is404())
	assert.False(t, Conflict("x").Is404())
	assert.True(t, Conflict("x").IsConflict())
}

func TestHref(t *testing.T) {
	assert.Equal(t, "/api/greenhouse-mirror/v1/errors/10", *Href(ErrorWriteRejected))
}

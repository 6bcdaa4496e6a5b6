package errors_test

import (
	stderrors "errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tap-outbrain/pkg/errors"
)

func TestWrapPreservesCause(t *testing.T) {
	err := errors.Wrap(io.EOF, errors.ErrorTypeData, "failed to decode response").
		WithDetail("endpoint", "/login")

	assert.True(t, stderrors.Is(err, io.EOF))
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
	assert.Equal(t, "data: failed to decode response: EOF", err.Error())
	assert.Equal(t, "/login", err.Details["endpoint"])
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, errors.Wrap(nil, errors.ErrorTypeData, "nothing"))
}

func TestIsTypeWalksChain(t *testing.T) {
	inner := errors.New(errors.ErrorTypeServer, "503 from API")
	outer := errors.Wrap(inner, errors.ErrorTypeRetryExhausted, "giving up")
	wrapped := fmt.Errorf("sync campaign c1: %w", outer)

	assert.True(t, errors.IsType(wrapped, errors.ErrorTypeRetryExhausted))
	assert.True(t, errors.IsType(wrapped, errors.ErrorTypeServer))
	assert.False(t, errors.IsType(wrapped, errors.ErrorTypeClient))
	assert.Equal(t, errors.ErrorTypeRetryExhausted, errors.TypeOf(wrapped))
}

func TestTypeOfPlainError(t *testing.T) {
	assert.Equal(t, errors.ErrorTypeInternal, errors.TypeOf(io.ErrUnexpectedEOF))
}

func TestIsRetryable(t *testing.T) {
	cases := map[errors.ErrorType]bool{
		errors.ErrorTypeRateLimit:      true,
		errors.ErrorTypeServer:         true,
		errors.ErrorTypeConnection:     true,
		errors.ErrorTypeTimeout:        true,
		errors.ErrorTypeClient:         false,
		errors.ErrorTypeAuthentication: false,
		errors.ErrorTypeData:           false,
		errors.ErrorTypeRetryExhausted: false,
	}
	for typ, want := range cases {
		t.Run(string(typ), func(t *testing.T) {
			assert.Equal(t, want, errors.IsRetryable(errors.New(typ, "x")))
		})
	}
	assert.False(t, errors.IsRetryable(io.EOF))
}

func TestDetailsOfMergesOuterFirst(t *testing.T) {
	inner := errors.New(errors.ErrorTypeClient, "bad request").
		WithDetail("status", 400).
		WithDetail("endpoint", "/inner")
	outer := errors.Newf(errors.ErrorTypeClient, "stream %s failed", "campaigns")
	outer.Cause = inner
	outer.WithDetail("endpoint", "/outer")

	details := errors.DetailsOf(outer)
	require.Len(t, details, 2)
	assert.Equal(t, 400, details["status"])
	assert.Equal(t, "/outer", details["endpoint"])
}

func TestStackCaptured(t *testing.T) {
	err := errors.New(errors.ErrorTypeConfig, "missing account_id")
	require.NotEmpty(t, err.Stack)
	assert.Contains(t, err.Stack[0].Function, "TestStackCaptured")
}

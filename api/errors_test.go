package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Is(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		matches []error
		misses  []error
	}{
		{name: "unauthorized", kind: KindUnauthorized, matches: []error{ErrUnauthorized}, misses: []error{ErrBadRequest, ErrTransport, ErrIO}},
		{name: "bad request", kind: KindBadRequest, matches: []error{ErrBadRequest}, misses: []error{ErrUnauthorized, ErrTransport}},
		{name: "io", kind: KindIO, matches: []error{ErrIO}, misses: []error{ErrTransport}},
		{name: "transport", kind: KindTransport, matches: []error{ErrTransport}, misses: []error{ErrIO}},
		{name: "store inconsistency", kind: KindStoreInconsistency, matches: []error{ErrTransport}, misses: []error{ErrBadRequest}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", NewError("op", tt.kind, errors.New("cause")))

			for _, target := range tt.matches {
				assert.True(t, errors.Is(err, target), target.Error())
			}
			for _, target := range tt.misses {
				assert.False(t, errors.Is(err, target), target.Error())
			}
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}
}

func TestError_Error(t *testing.T) {
	err := &Error{Op: "presign part", Kind: KindBadRequest, StatusCode: http.StatusBadRequest, Err: errors.New("partNumber is required")}

	assert.Equal(t, "presign part: bad request (HTTP 400): partNumber is required", err.Error())
	assert.Equal(t, "put: transport", NewError("put", KindTransport, nil).Error())
}

func TestKindOf_ForeignError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	assert.Equal(t, KindUnknown, KindOf(nil))
	assert.True(t, Retryable(errors.New("boom")))
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(NewError("op", KindUnauthorized, nil)))
	assert.False(t, Retryable(NewError("op", KindBadRequest, nil)))
	assert.False(t, Retryable(NewError("op", KindIO, nil)))
	assert.True(t, Retryable(NewError("op", KindTransport, nil)))
	assert.True(t, Retryable(NewError("op", KindStoreInconsistency, nil)))
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		kind   Kind
	}{
		{status: http.StatusUnauthorized, kind: KindUnauthorized},
		{status: http.StatusForbidden, kind: KindUnauthorized},
		{status: http.StatusBadRequest, kind: KindBadRequest},
		{status: http.StatusInternalServerError, kind: KindTransport},
		{status: http.StatusServiceUnavailable, kind: KindTransport},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.kind, KindForStatus(tt.status), tt.status)
	}

	assert.Equal(t, http.StatusUnauthorized, StatusForKind(KindUnauthorized))
	assert.Equal(t, http.StatusBadRequest, StatusForKind(KindBadRequest))
	assert.Equal(t, http.StatusBadGateway, StatusForKind(KindTransport))
	assert.Equal(t, http.StatusBadGateway, StatusForKind(KindStoreInconsistency))
	assert.Equal(t, http.StatusInternalServerError, StatusForKind(KindUnknown))
}

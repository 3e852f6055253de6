package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeToHTTPStatus(t *testing.T) {
	cases := map[ErrorCode]int{
		ErrCodeNotFound:                     http.StatusNotFound,
		ErrCodeForbidden:                    http.StatusForbidden,
		ErrCodeValidation:                   http.StatusBadRequest,
		ErrCodeDuplicateReference:           http.StatusConflict,
		ErrCodeInsufficientFunds:            http.StatusUnprocessableEntity,
		ErrCodeInsufficientRefundableAmount: http.StatusUnprocessableEntity,
		ErrCodeGatewayUnavailable:           http.StatusServiceUnavailable,
		ErrCodeGatewayRejected:              http.StatusBadGateway,
		ErrCodeInvariantViolation:           http.StatusInternalServerError,
	}
	for code, status := range cases {
		assert.Equal(t, status, New(code, "x").HTTPStatus, code)
	}
}

func TestSentinelMatchesThroughWrapping(t *testing.T) {
	cause := errors.New("pq: duplicate key")
	err := fmt.Errorf("recorder: %w", ErrDuplicateReference.WithCause(cause))

	assert.True(t, errors.Is(err, ErrDuplicateReference))
	assert.False(t, errors.Is(err, ErrInsufficientFunds))
	assert.True(t, errors.Is(err, cause))
	assert.True(t, HasCode(err, ErrCodeDuplicateReference))
}

func TestHelpers(t *testing.T) {
	assert.True(t, IsNotFound(ErrRefundNotFound))
	assert.True(t, IsForbidden(ErrNotPayer))
	assert.True(t, IsValidation(ErrInvalidAmount))
	assert.True(t, IsInvariantViolation(Wrap(errors.New("x"), ErrCodeInvariantViolation, "mismatch")))
	assert.False(t, IsNotFound(errors.New("plain")))
}

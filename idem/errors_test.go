package idem

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"

	"github.com/ceyewan/idemguard/xerrors"
)

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		code      codes.Code
		guardErr  bool
		errorCode string
	}{
		{"nil", nil, http.StatusOK, codes.OK, false, ""},
		{"invalid key", ErrInvalidKey, http.StatusBadRequest, codes.InvalidArgument, true, "INVALID_KEY"},
		{"invalid params", xerrors.Wrap(ErrInvalidParams, "bad body"), http.StatusBadRequest, codes.InvalidArgument, true, "INVALID_PARAMS"},
		{"stale", ErrKeyIsStale, http.StatusBadRequest, codes.InvalidArgument, true, "KEY_IS_STALE"},
		{"mismatch", ErrRequestMismatch, http.StatusUnprocessableEntity, codes.FailedPrecondition, true, "REQUEST_MISMATCH"},
		{"locked", ErrKeyLocked, http.StatusConflict, codes.Aborted, true, "KEY_LOCKED"},
		{"race", ErrRaceConditionDetected, http.StatusConflict, codes.Aborted, true, "RACE_CONDITION_DETECTED"},
		{"response not set", ErrResponseNotSet, http.StatusInternalServerError, codes.Internal, true, "RESPONSE_NOT_SET"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, codes.Internal, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
			assert.Equal(t, tt.code, GRPCCode(tt.err))
			assert.Equal(t, tt.guardErr, IsGuardError(tt.err))
			assert.Equal(t, tt.errorCode, xerrors.GetCode(tt.err))
		})
	}
}

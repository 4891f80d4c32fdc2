package errkind

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	e := New(Parse, "unexpected directive", nil).WithLocation("workflow.sdq", 12, 3)
	assert.Contains(t, e.Error(), "workflow.sdq:12:3")
	assert.Contains(t, e.Error(), "unexpected directive")
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	e := New(RunError, "command failed", cause)
	assert.ErrorIs(t, e, cause)
}

func TestAsAndOfKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", New(VerifyFailure, "refs missing", nil))

	e, ok := As(err)
	assert.True(t, ok)
	assert.Equal(t, VerifyFailure, e.Kind)
	assert.True(t, OfKind(err, VerifyFailure))
	assert.False(t, OfKind(err, Parse))
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		kind Kind
		code int
	}{
		{Parse, 1},
		{Validation, 2},
		{RateLimited, 3},
		{ConsultExpired, 3},
		{Cancelled, 4},
		{Paused, 5},
		{Internal, 1},
	}
	for _, tc := range cases {
		err := New(tc.kind, "x", nil)
		assert.Equal(t, tc.code, ExitCode(err), "kind=%s", tc.kind)
	}
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("plain")))
}

func TestKindFatal(t *testing.T) {
	assert.False(t, RunError.Fatal())
	assert.False(t, VerifyFailure.Fatal())
	assert.False(t, CompactionIneffective.Fatal())
	assert.True(t, Internal.Fatal())
	assert.True(t, RateLimited.Fatal())
}

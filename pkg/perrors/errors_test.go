package perrors_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/signal-pipeline/pkg/perrors"
)

func TestClassifiedWrapsCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := perrors.NewTransient("exchange_disconnect", cause)

	require.True(t, perrors.Is(err, perrors.Transient))
	require.False(t, perrors.Is(err, perrors.Fatal))
	require.Equal(t, perrors.Transient, perrors.ClassOf(err))
	require.Equal(t, perrors.Class("exchange_disconnect"), perrors.ReasonOf(err))
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "transient(exchange_disconnect)")
}

func TestClassifiedWithoutCause(t *testing.T) {
	err := perrors.NewValidation("nan_strength", nil)
	require.Equal(t, "validation(nan_strength)", err.Error())
	require.Nil(t, err.Unwrap())
}

func TestClassOfAndReasonOfOnPlainError(t *testing.T) {
	plain := fmt.Errorf("boom")
	require.Equal(t, perrors.Class(""), perrors.ClassOf(plain))
	require.Equal(t, perrors.Class(""), perrors.ReasonOf(plain))
	require.False(t, perrors.Is(plain, perrors.Transient))
}

func TestRemainingConstructors(t *testing.T) {
	require.Equal(t, perrors.Contention, perrors.ClassOf(perrors.NewContention("lock_timeout", nil)))
	require.Equal(t, perrors.Deadline, perrors.ClassOf(perrors.NewDeadline("phase_budget", nil)))
	require.Equal(t, perrors.Fatal, perrors.ClassOf(perrors.NewFatal("paramstore_unreachable", nil)))
}

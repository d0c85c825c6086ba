package errorutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

func TestInvalidTransitionCarriesCurrentStatus(t *testing.T) {
	err := NewInvalidTransition("closed", "claimed", nil)

	de := ToDomainError(err)
	require.Equal(t, CodeInvalidTransition, de.Code)
	require.Equal(t, http.StatusConflict, de.HTTPStatus)
	require.Equal(t, "closed", de.Details["current_status"])
}

func TestClassificationHelpersSeeThroughWrapping(t *testing.T) {
	transient := fmt.Errorf("send: %w", NewTransientPlatformError("discord", errors.New("timeout")))
	fatal := fmt.Errorf("connect: %w", NewFatalPlatformError("telegram", errors.New("401")))

	require.True(t, IsTransient(transient))
	require.False(t, IsFatal(transient))
	require.True(t, IsFatal(fatal))
	require.True(t, IsNotFound(NewCategoryNotFound("billing")))
}

func TestToDomainErrorMapsNoRows(t *testing.T) {
	de := ToDomainError(fmt.Errorf("load: %w", pgx.ErrNoRows))
	require.Equal(t, CodeNotFound, de.Code)

	de = ToDomainError(errors.New("boom"))
	require.Equal(t, CodeInternal, de.Code)
}

func TestEscalatedErrorIsFatalWithoutBlamingCredentials(t *testing.T) {
	err := NewEscalatedPlatformError("discord", errors.New("6 failures within 1h0m0s"))

	require.True(t, IsFatal(err))
	require.NotContains(t, err.Error(), "credentials")
	require.Equal(t, true, ToDomainError(err).Details["escalated"])
}

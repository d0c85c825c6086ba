package platform

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/spec-kit/ticket-bridge/pkg/util/errorutil"
)

func TestParseCommand(t *testing.T) {
	cmd := ParseCommand("  /Close@support_bot now please ")
	require.NotNil(t, cmd)
	require.Equal(t, "close", cmd.Name)
	require.Equal(t, []string{"now", "please"}, cmd.Args)
	require.Equal(t, "now", cmd.Arg(0))
	require.Equal(t, "", cmd.Arg(5))

	require.Nil(t, ParseCommand("order status?"))
	require.Nil(t, ParseCommand("/"))
	require.Nil(t, ParseCommand("/ "))
}

func TestClassify(t *testing.T) {
	authFailure := errors.New("401 unauthorized")
	isAuth := func(err error) bool { return errors.Is(err, authFailure) }

	require.True(t, apperrors.IsFatal(Classify("discord", authFailure, isAuth)))
	require.True(t, apperrors.IsTransient(Classify("discord", context.DeadlineExceeded, isAuth)))
	require.True(t, apperrors.IsTransient(Classify("discord", errors.New("socket closed"), isAuth)))
	require.Nil(t, Classify("discord", nil, isAuth))

	fatal := apperrors.NewFatalPlatformError("telegram", authFailure)
	require.Same(t, fatal, Classify("discord", fatal, nil))
}

func TestRedeliverRetriesUntilAccepted(t *testing.T) {
	calls := 0
	handler := func(context.Context, InboundEvent) error {
		calls++
		if calls < 3 {
			return errors.New("datastore down")
		}
		return nil
	}

	err := Redeliver(context.Background(), handler, InboundEvent{Platform: "telegram"}, 3, time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRedeliverGivesUp(t *testing.T) {
	calls := 0
	handler := func(context.Context, InboundEvent) error {
		calls++
		return errors.New("datastore down")
	}

	err := Redeliver(context.Background(), handler, InboundEvent{Platform: "telegram"}, 2, time.Millisecond, zap.NewNop())
	require.Error(t, err)
	require.Equal(t, 2, calls)
}

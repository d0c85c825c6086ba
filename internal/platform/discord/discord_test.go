package discord

import (
	"errors"
	"net/http"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-bridge/internal/domain"
	"github.com/spec-kit/ticket-bridge/internal/platform"
	apperrors "github.com/spec-kit/ticket-bridge/pkg/util/errorutil"
)

func message(authorID, guildID, content string, bot bool) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		GuildID:   guildID,
		Content:   content,
		Author:    &discordgo.User{ID: authorID, Username: "staffer", Bot: bot},
	}}
}

func TestToEvent(t *testing.T) {
	ev, ok := toEvent(message("s1", "g1", "/claim", false), "g1", "bot")
	require.True(t, ok)
	require.Equal(t, "s1", ev.SourceUserID)
	require.Equal(t, "c1", ev.ChannelRef)
	require.Equal(t, "claim", ev.CommandHint.Name)

	withNick := message("s1", "g1", "hello", false)
	withNick.Member = &discordgo.Member{Nick: "Grace"}
	ev, ok = toEvent(withNick, "g1", "bot")
	require.True(t, ok)
	require.Equal(t, "Grace", ev.DisplayName)
	require.Nil(t, ev.CommandHint)

	_, ok = toEvent(message("bot", "g1", "echo", false), "g1", "bot")
	require.False(t, ok)
	_, ok = toEvent(message("x", "g1", "hi", true), "g1", "bot")
	require.False(t, ok)
	_, ok = toEvent(message("s1", "other", "hi", false), "g1", "bot")
	require.False(t, ok)
}

func TestChannelName(t *testing.T) {
	require.Equal(t, "ticket-ab12cd34", channelName(&domain.Ticket{ExternalKey: "TCK-AB12CD34"}))
}

func TestClassify(t *testing.T) {
	unauthorized := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusUnauthorized}}
	require.True(t, apperrors.IsFatal(classify(unauthorized)))

	unknownChannel := &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusNotFound},
		Message:  &discordgo.APIErrorMessage{Code: codeUnknownChannel, Message: "Unknown Channel"},
	}
	require.True(t, errors.Is(classify(unknownChannel), platform.ErrUndeliverable))

	serverError := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusBadGateway}}
	require.True(t, apperrors.IsTransient(classify(serverError)))
}

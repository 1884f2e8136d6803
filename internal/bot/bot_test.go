package bot

import (
	"errors"
	"testing"

	"github.com/matryer/is"

	"github.com/Volpestyle/clanker-conk-sub003/pkg/voice"
)

func TestRefusalMapping(t *testing.T) {
	is := is.New(t)

	cases := []struct {
		err    error
		reason string
	}{
		{voice.ErrDisabled, "feature_disabled"},
		{voice.ErrUserBlocked, "user_blocked"},
		{voice.ErrGuildBlocked, "guild_blocked"},
		{voice.ErrChannelBlocked, "channel_blocked"},
		{voice.ErrNotInVoice, "requester_not_in_voice"},
		{voice.ErrConcurrentLimit, "concurrent_limit"},
		{voice.ErrDailyLimit, "daily_limit"},
		{voice.ErrNoCredentials, "missing_credentials"},
		{voice.ErrNoPermission, "missing_permissions"},
		{errors.New("socket exploded"), "join_failed"},
	}
	for _, tc := range cases {
		reason, fallback := refusal(tc.err)
		is.Equal(reason, tc.reason)
		is.True(fallback != "")
	}
}

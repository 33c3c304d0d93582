package channels

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhufengning/qqclaw/pkg/bus"
	"github.com/zhufengning/qqclaw/pkg/config"
)

func TestManager_SkipsDisabledAccounts(t *testing.T) {
	mb := bus.NewMessageBus()
	t.Cleanup(mb.Close)

	m, err := NewManager(config.DefaultConfig(), mb, nil)
	require.NoError(t, err)
	assert.Empty(t, m.GetEnabledChannels())
	assert.Empty(t, m.OneBotChannels())
}

func TestManager_SendToChannel(t *testing.T) {
	mb := bus.NewMessageBus()
	t.Cleanup(mb.Close)
	m, err := NewManager(config.DefaultConfig(), mb, nil)
	require.NoError(t, err)

	c, gw, _ := newTestChannel(t, testOneBotConfig())
	m.RegisterChannel(c.Name(), c)

	got, ok := m.GetChannel("onebot")
	require.True(t, ok)
	assert.Same(t, c, got)
	assert.Equal(t, []string{"onebot"}, m.GetEnabledChannels())

	require.NoError(t, m.SendToChannel(context.Background(), "onebot", "private:42", "hello"))
	assert.Equal(t, []string{"hello"}, sentTexts(gw.callsFor("send_private_msg")))

	assert.Error(t, m.SendToChannel(context.Background(), "onebot:missing", "private:42", "hello"))

	status := m.GetStatus()["onebot"].(map[string]any)
	assert.Equal(t, config.DefaultAccountID, status["account_id"])
	assert.Equal(t, false, status["running"])
}

package commands

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhufengning/qqclaw/pkg/cache"
	"github.com/zhufengning/qqclaw/pkg/onebot"
)

type call struct {
	action string
	params map[string]any
}

type fakeGateway struct {
	calls    []call
	failures map[string]error
}

func (f *fakeGateway) SendRequest(_ context.Context, action string, params any) (json.RawMessage, error) {
	p, _ := params.(map[string]any)
	f.calls = append(f.calls, call{action: action, params: p})
	if err := f.failures[action]; err != nil {
		return nil, err
	}
	return json.RawMessage(`null`), nil
}

func (f *fakeGateway) SendFireAndForget(ctx context.Context, action string, params any) error {
	_, err := f.SendRequest(ctx, action, params)
	return err
}

func newTestRegistry(gw *fakeGateway) *Registry {
	return NewDefaultRegistry(&Deps{
		API:      onebot.NewAPI(gw),
		Members:  cache.NewMemberDirectory(0),
		Features: Features{EssenceMsg: true, GroupHonor: true, GroupSignIn: true},
	})
}

func adminRequest(text string) Request {
	return Request{Text: text, SenderID: 7, GroupID: 1001, IsAdmin: true}
}

func TestRegistry_MatchPrefersLongestAlias(t *testing.T) {
	r := newTestRegistry(&fakeGateway{})

	cmd, rest, ok := r.Match("踢出 123")
	require.True(t, ok)
	assert.Equal(t, "kick", cmd.Name)
	assert.Equal(t, "123", rest)

	cmd, rest, ok = r.Match("解除全员禁言")
	require.True(t, ok)
	assert.Equal(t, "unmuteall", cmd.Name)
	assert.Empty(t, rest)

	cmd, _, ok = r.Match("[CQ:at,qq=10000] 禁言 5")
	require.True(t, ok)
	assert.Equal(t, "mute", cmd.Name)
}

func TestRegistry_MatchSlashFallback(t *testing.T) {
	r := newTestRegistry(&fakeGateway{})

	cmd, rest, ok := r.Match("/MUTE 42 5")
	require.True(t, ok)
	assert.Equal(t, "mute", cmd.Name)
	assert.Equal(t, "42 5", rest)

	_, _, ok = r.Match("/muted")
	assert.False(t, ok)
	_, _, ok = r.Match("mute 42")
	assert.False(t, ok)
	_, _, ok = r.Match("hello there")
	assert.False(t, ok)
}

func TestDispatch_MuteWithMention(t *testing.T) {
	gw := &fakeGateway{}
	r := newTestRegistry(gw)
	r.deps.Members.Set(1001, 42, "小明")

	req := adminRequest("禁言 5")
	req.Mentions = []int64{42}
	reply, handled := r.Dispatch(context.Background(), req)

	require.True(t, handled)
	assert.Equal(t, "已禁言 小明 5 分钟", reply)
	require.Len(t, gw.calls, 1)
	assert.Equal(t, "set_group_ban", gw.calls[0].action)
	assert.Equal(t, int64(42), gw.calls[0].params["user_id"])
	assert.Equal(t, int64(300), gw.calls[0].params["duration"])
}

func TestDispatch_MentionBeatsNumericArgument(t *testing.T) {
	gw := &fakeGateway{}
	r := newTestRegistry(gw)

	req := adminRequest("/like 99 3")
	req.Mentions = []int64{42}
	_, handled := r.Dispatch(context.Background(), req)

	require.True(t, handled)
	require.Len(t, gw.calls, 1)
	assert.Equal(t, int64(42), gw.calls[0].params["user_id"])
	assert.Equal(t, 10, gw.calls[0].params["times"])
}

func TestDispatch_NumericTargetAndClamp(t *testing.T) {
	gw := &fakeGateway{}
	r := newTestRegistry(gw)

	reply, handled := r.Dispatch(context.Background(), adminRequest("禁言 42 999999"))
	require.True(t, handled)
	assert.Equal(t, "已禁言 42 43200 分钟", reply)
	assert.Equal(t, int64(43200*60), gw.calls[0].params["duration"])
}

func TestDispatch_MissingTargetIsSilent(t *testing.T) {
	gw := &fakeGateway{}
	r := newTestRegistry(gw)

	for _, text := range []string{"禁言", "禁言 abc", "撤回", "改名片 42"} {
		reply, handled := r.Dispatch(context.Background(), adminRequest(text))
		assert.True(t, handled, text)
		assert.Empty(t, reply, text)
	}
	assert.Empty(t, gw.calls)
}

func TestDispatch_NotHandled(t *testing.T) {
	gw := &fakeGateway{}
	r := newTestRegistry(gw)

	req := adminRequest("禁言 42")
	req.IsAdmin = false
	_, handled := r.Dispatch(context.Background(), req)
	assert.False(t, handled)

	req = adminRequest("禁言 42")
	req.IsGuild = true
	_, handled = r.Dispatch(context.Background(), req)
	assert.False(t, handled)

	_, handled = r.Dispatch(context.Background(), adminRequest("今天天气怎么样"))
	assert.False(t, handled)
	assert.Empty(t, gw.calls)
}

func TestDispatch_GroupOnlyInPrivate(t *testing.T) {
	gw := &fakeGateway{}
	r := newTestRegistry(gw)

	req := adminRequest("全员禁言")
	req.GroupID = 0
	reply, handled := r.Dispatch(context.Background(), req)
	assert.True(t, handled)
	assert.Equal(t, "该命令只能在群聊中使用", reply)
	assert.Empty(t, gw.calls)
}

func TestDispatch_FailureText(t *testing.T) {
	gw := &fakeGateway{failures: map[string]error{
		"set_group_kick":      &onebot.ActionError{Action: "set_group_kick", Status: "failed", RetCode: 102, Message: "权限不足"},
		"set_group_whole_ban": &onebot.ActionError{Action: "set_group_whole_ban", Status: "failed", RetCode: 100},
		"clean_cache":         onebot.ErrNotConnected,
	}}
	r := newTestRegistry(gw)

	reply, _ := r.Dispatch(context.Background(), adminRequest("踢 42"))
	assert.Equal(t, "操作失败：权限不足", reply)

	reply, _ = r.Dispatch(context.Background(), adminRequest("全员禁言"))
	assert.Equal(t, "操作失败（错误码 100）", reply)

	reply, _ = r.Dispatch(context.Background(), adminRequest("清理缓存"))
	assert.Equal(t, "操作失败：未连接到网关", reply)
}

func TestDispatch_ReplyTargetedCommands(t *testing.T) {
	gw := &fakeGateway{}
	r := newTestRegistry(gw)

	req := adminRequest("设精华")
	req.ReplyTo = "555"
	reply, _ := r.Dispatch(context.Background(), req)
	assert.Equal(t, "已设为精华消息", reply)
	require.Len(t, gw.calls, 1)
	assert.Equal(t, "set_essence_msg", gw.calls[0].action)
	assert.Equal(t, int64(555), gw.calls[0].params["message_id"])
}

func TestDispatch_FeatureGate(t *testing.T) {
	gw := &fakeGateway{}
	r := NewDefaultRegistry(&Deps{API: onebot.NewAPI(gw)})

	reply, handled := r.Dispatch(context.Background(), adminRequest("打卡"))
	assert.True(t, handled)
	assert.Equal(t, "群打卡功能未启用", reply)
	assert.Empty(t, gw.calls)
}

func TestHelpListsCommands(t *testing.T) {
	r := newTestRegistry(&fakeGateway{})
	reply, handled := r.Dispatch(context.Background(), adminRequest("帮助"))
	require.True(t, handled)
	assert.Equal(t, 17, r.Count())
	assert.True(t, strings.HasPrefix(reply, "可用命令（17）："), reply)
	assert.Contains(t, reply, "/mute（禁言） @成员 [分钟]")
	assert.Contains(t, reply, "/kick（踢出、踢）")
	assert.NotContains(t, reply, "/status")
}

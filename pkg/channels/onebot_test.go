package channels

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhufengning/qqclaw/pkg/bus"
	"github.com/zhufengning/qqclaw/pkg/config"
	"github.com/zhufengning/qqclaw/pkg/onebot"
)

const (
	testSelfID  int64 = 10000
	testGroupID int64 = 1001
	testUserID  int64 = 42
)

type gatewayCall struct {
	action string
	params map[string]any
}

type fakeGateway struct {
	mu        sync.Mutex
	calls     []gatewayCall
	responses map[string]json.RawMessage
	failures  map[string]error
	selfID    int64
	connected bool
	onConnect func(ctx context.Context)
	events    chan onebot.Event
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		responses: make(map[string]json.RawMessage),
		failures:  make(map[string]error),
		selfID:    testSelfID,
		events:    make(chan onebot.Event, 8),
	}
}

func (f *fakeGateway) SendRequest(_ context.Context, action string, params any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, _ := params.(map[string]any)
	f.calls = append(f.calls, gatewayCall{action: action, params: p})
	if err := f.failures[action]; err != nil {
		return nil, err
	}
	if data, ok := f.responses[action]; ok {
		return data, nil
	}
	return json.RawMessage(`null`), nil
}

func (f *fakeGateway) SendFireAndForget(ctx context.Context, action string, params any) error {
	_, err := f.SendRequest(ctx, action, params)
	return err
}

func (f *fakeGateway) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connected = true
	fn := f.onConnect
	f.mu.Unlock()
	if fn != nil {
		fn(ctx)
	}
	return nil
}

func (f *fakeGateway) Disconnect() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

func (f *fakeGateway) NextEvent(ctx context.Context) (onebot.Event, error) {
	select {
	case ev := <-f.events:
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeGateway) OnConnect(fn func(ctx context.Context)) {
	f.mu.Lock()
	f.onConnect = fn
	f.mu.Unlock()
}

func (f *fakeGateway) SelfID() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selfID
}

func (f *fakeGateway) SetSelfID(id int64) {
	f.mu.Lock()
	f.selfID = id
	f.mu.Unlock()
}

func (f *fakeGateway) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeGateway) State() onebot.State {
	if f.IsConnected() {
		return onebot.StateOpen
	}
	return onebot.StateIdle
}

func (f *fakeGateway) callsFor(action string) []gatewayCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []gatewayCall
	for _, c := range f.calls {
		if c.action == action {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeGateway) reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

func testOneBotConfig() config.OneBotConfig {
	cfg := config.DefaultOneBotConfig()
	cfg.Enabled = true
	cfg.RequireMention = false
	cfg.ReactionEmoji = "off"
	cfg.RateLimitMs = 0
	return cfg
}

func newTestChannel(t *testing.T, cfg config.OneBotConfig) (*OneBotChannel, *fakeGateway, *bus.MessageBus) {
	t.Helper()
	gw := newFakeGateway()
	mb := bus.NewMessageBus()
	t.Cleanup(mb.Close)
	c := newOneBotChannel(config.AccountConfig{ID: config.DefaultAccountID, OneBot: cfg}, mb, gw, nil)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c, gw, mb
}

func groupMessage(id string, segments ...onebot.Segment) *onebot.MessageEvent {
	return &onebot.MessageEvent{
		Header:      onebot.Header{PostType: "message", SelfID: testSelfID},
		MessageType: "group",
		MessageID:   id,
		UserID:      testUserID,
		GroupID:     testGroupID,
		Segments:    segments,
		Sender:      onebot.Sender{UserID: testUserID, Nickname: "阿明"},
	}
}

func privateMessage(id, text string) *onebot.MessageEvent {
	return &onebot.MessageEvent{
		Header:      onebot.Header{PostType: "message", SelfID: testSelfID},
		MessageType: "private",
		MessageID:   id,
		UserID:      testUserID,
		Segments:    []onebot.Segment{onebot.TextSegment(text)},
		Sender:      onebot.Sender{UserID: testUserID, Nickname: "阿明"},
	}
}

func consumeInbound(t *testing.T, mb *bus.MessageBus) (bus.InboundMessage, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	return mb.ConsumeInbound(ctx)
}

func sentTexts(calls []gatewayCall) []string {
	var out []string
	for _, c := range calls {
		segs, _ := c.params["message"].([]onebot.Segment)
		var b strings.Builder
		for _, s := range segs {
			b.WriteString(s.Text())
		}
		out = append(out, b.String())
	}
	return out
}

func TestChannelName(t *testing.T) {
	assert.Equal(t, "onebot", ChannelName(config.DefaultAccountID))
	assert.Equal(t, "onebot", ChannelName(""))
	assert.Equal(t, "onebot:alt", ChannelName("alt"))
}

func TestAdmit_Filters(t *testing.T) {
	cfg := testOneBotConfig()
	cfg.BlockedUsers = config.FlexibleStringSlice{"13"}
	cfg.AllowGroups = config.FlexibleStringSlice{"1001"}
	cfg.EnableGuilds = false
	c, _, _ := newTestChannel(t, cfg)

	_, ok := c.admit(groupMessage("1", onebot.TextSegment("hi")))
	assert.True(t, ok)

	reason, ok := c.admit(groupMessage("1", onebot.TextSegment("hi")))
	assert.False(t, ok)
	assert.Equal(t, "duplicate", reason)

	self := groupMessage("2")
	self.UserID = testSelfID
	reason, _ = c.admit(self)
	assert.Equal(t, "self", reason)

	blocked := groupMessage("3")
	blocked.UserID = 13
	reason, _ = c.admit(blocked)
	assert.Equal(t, "blocked user", reason)

	other := groupMessage("4")
	other.GroupID = 2002
	reason, _ = c.admit(other)
	assert.Equal(t, "group not allowed", reason)

	guild := &onebot.MessageEvent{MessageType: "guild", MessageID: "5", UserID: 7}
	reason, _ = c.admit(guild)
	assert.Equal(t, "guilds disabled", reason)
}

func TestAdmit_GuildNeedsChannel(t *testing.T) {
	cfg := testOneBotConfig()
	cfg.EnableGuilds = true
	c, _, _ := newTestChannel(t, cfg)

	noChannel := &onebot.MessageEvent{MessageType: "guild", MessageID: "1", UserID: 7, GuildID: "123"}
	reason, ok := c.admit(noChannel)
	assert.False(t, ok)
	assert.Equal(t, "unaddressable guild channel", reason)

	full := &onebot.MessageEvent{MessageType: "guild", MessageID: "2", UserID: 7, GuildID: "123", ChannelID: "456"}
	_, ok = c.admit(full)
	assert.True(t, ok)

	in := c.normalize(context.Background(), full)
	_, err := onebot.ParseTarget(in.ChatID())
	assert.NoError(t, err)
}

func TestAdmit_DeduplicationDisabled(t *testing.T) {
	cfg := testOneBotConfig()
	cfg.EnableDeduplication = false
	c, _, _ := newTestChannel(t, cfg)

	_, ok := c.admit(privateMessage("9", "a"))
	assert.True(t, ok)
	_, ok = c.admit(privateMessage("9", "a"))
	assert.True(t, ok)
}

func TestHandleMessage_MentionGate(t *testing.T) {
	cfg := testOneBotConfig()
	cfg.RequireMention = true
	cfg.KeywordTriggers = []string{"Bot"}
	c, gw, mb := newTestChannel(t, cfg)
	ctx := context.Background()

	c.handleMessage(ctx, groupMessage("1", onebot.TextSegment("just chatting")))
	_, ok := consumeInbound(t, mb)
	assert.False(t, ok, "unmentioned group message must be dropped")

	c.handleMessage(ctx, groupMessage("2", onebot.AtSegment(testSelfID), onebot.TextSegment(" hello")))
	msg, ok := consumeInbound(t, mb)
	require.True(t, ok)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, "group:1001", msg.ChatID)
	assert.Equal(t, "onebot:group:1001", msg.SessionKey)

	c.handleMessage(ctx, groupMessage("3", onebot.TextSegment("hey bot, help")))
	_, ok = consumeInbound(t, mb)
	assert.True(t, ok, "keyword trigger passes the gate")

	gw.responses["get_msg"] = json.RawMessage(`{"message_id":7,"sender":{"user_id":10000}}`)
	c.handleMessage(ctx, groupMessage("4", onebot.ReplySegment("7"), onebot.TextSegment("and then?")))
	msg, ok = consumeInbound(t, mb)
	require.True(t, ok, "reply to the bot passes the gate")
	assert.Equal(t, "7", msg.Metadata["reply_to"])
}

func TestHandleMessage_MentionBeforeLoginInfo(t *testing.T) {
	cfg := testOneBotConfig()
	cfg.RequireMention = true
	c, gw, mb := newTestChannel(t, cfg)
	gw.SetSelfID(0)
	ctx := context.Background()

	c.handleMessage(ctx, groupMessage("1", onebot.AtSegment(testSelfID), onebot.TextSegment(" hello")))
	msg, ok := consumeInbound(t, mb)
	require.True(t, ok, "mention of the header self id passes the gate")
	assert.Equal(t, "hello", msg.Content)

	gw.responses["get_msg"] = json.RawMessage(`{"message_id":7,"sender":{"user_id":10000}}`)
	c.handleMessage(ctx, groupMessage("2", onebot.ReplySegment("7"), onebot.TextSegment("and then?")))
	_, ok = consumeInbound(t, mb)
	assert.True(t, ok, "reply to the bot passes the gate")
}

func TestHandleMessage_ResolvesMentionsAndPlaceholders(t *testing.T) {
	c, _, mb := newTestChannel(t, testOneBotConfig())
	c.members.Set(testGroupID, 77, "小红")

	c.handleMessage(context.Background(), groupMessage("1",
		onebot.TextSegment("look "),
		onebot.AtSegment(77),
		onebot.TextSegment(" "),
		onebot.Segment{Type: "image", Data: map[string]string{"url": "https://img/a.png"}},
		onebot.Segment{Type: "face", Data: map[string]string{"id": "1"}},
	))

	msg, ok := consumeInbound(t, mb)
	require.True(t, ok)
	assert.Equal(t, "look @小红 [image][emoji]", msg.Content)
	assert.Equal(t, []string{"https://img/a.png"}, msg.Media)
	assert.Equal(t, "group", msg.Peer.Kind)
	assert.Equal(t, "阿明", msg.SenderName)
}

func TestHandleMessage_ExpandsForward(t *testing.T) {
	c, gw, mb := newTestChannel(t, testOneBotConfig())
	gw.responses["get_forward_msg"] = json.RawMessage(`{"messages":[
		{"sender":{"user_id":1,"nickname":"甲"},"content":[{"type":"text","data":{"text":"first"}}]},
		{"sender":{"user_id":2,"nickname":"乙"},"content":"second [CQ:face,id=1]"}
	]}`)

	ev := privateMessage("2", "")
	ev.Segments = []onebot.Segment{{Type: "forward", Data: map[string]string{"id": "abc"}}}
	c.handleMessage(context.Background(), ev)

	msg, ok := consumeInbound(t, mb)
	require.True(t, ok)
	assert.Equal(t, "[forward]\n> 甲: first\n> 乙: second [emoji]", msg.Content)
}

func TestHandleMessage_StaticReactionOwnsAllReactions(t *testing.T) {
	cfg := testOneBotConfig()
	cfg.ReactionEmoji = "128077"
	c, gw, mb := newTestChannel(t, cfg)
	ctx := context.Background()

	c.handleMessage(ctx, privateMessage("555", "谢谢"))
	_, ok := consumeInbound(t, mb)
	require.True(t, ok)

	likes := gw.callsFor("set_msg_emoji_like")
	require.Len(t, likes, 1)
	assert.Equal(t, "128077", likes[0].params["emoji_id"])
	assert.Equal(t, int64(555), likes[0].params["message_id"])

	require.NoError(t, c.Send(ctx, bus.OutboundMessage{
		ChatID:   "private:42",
		Content:  "[reaction:128514] 不客气",
		ReplyTo:  "555",
		Reaction: "128147",
	}))
	assert.Len(t, gw.callsFor("set_msg_emoji_like"), 1)
	assert.Equal(t, []string{"[reaction:128514] 不客气"}, sentTexts(gw.callsFor("send_private_msg")))
}

func TestHandleMessage_AutoReactionHeuristic(t *testing.T) {
	cfg := testOneBotConfig()
	cfg.ReactionEmoji = "auto"
	c, gw, mb := newTestChannel(t, cfg)
	ctx := context.Background()

	c.handleMessage(ctx, privateMessage("1", "谢谢"))
	msg, ok := consumeInbound(t, mb)
	require.True(t, ok)
	assert.NotEmpty(t, msg.Metadata["reaction_instruction"])
	assert.Empty(t, gw.callsFor("set_msg_emoji_like"))

	c.handleMessage(ctx, privateMessage("2", "哈哈哈太好笑了"))
	_, _ = consumeInbound(t, mb)
	likes := gw.callsFor("set_msg_emoji_like")
	require.Len(t, likes, 1)
	assert.Equal(t, "128514", likes[0].params["emoji_id"])
}

func TestSend_MarkerAppliedOnce(t *testing.T) {
	cfg := testOneBotConfig()
	cfg.ReactionEmoji = "auto"
	c, gw, _ := newTestChannel(t, cfg)
	ctx := context.Background()

	out := bus.OutboundMessage{ChatID: "private:42", Content: "[task:ok] 完成", ReplyTo: "99"}
	require.NoError(t, c.Send(ctx, out))
	require.NoError(t, c.Send(ctx, out))

	likes := gw.callsFor("set_msg_emoji_like")
	require.Len(t, likes, 1)
	assert.Equal(t, "128076", likes[0].params["emoji_id"])
	assert.Equal(t, []string{"完成", "完成"}, sentTexts(gw.callsFor("send_private_msg")))
}

func TestSend_MarkerAppliedAfterFailedReceiptReaction(t *testing.T) {
	cfg := testOneBotConfig()
	cfg.ReactionEmoji = "auto"
	c, gw, mb := newTestChannel(t, cfg)
	ctx := context.Background()

	gw.mu.Lock()
	gw.failures["set_msg_emoji_like"] = errors.New("gateway busy")
	gw.mu.Unlock()

	c.handleMessage(ctx, privateMessage("7", "哈哈哈太好笑了"))
	_, _ = consumeInbound(t, mb)
	require.Len(t, gw.callsFor("set_msg_emoji_like"), 1)
	assert.False(t, c.reacted.Contains("7"))

	gw.mu.Lock()
	delete(gw.failures, "set_msg_emoji_like")
	gw.mu.Unlock()
	gw.reset()

	require.NoError(t, c.Send(ctx, bus.OutboundMessage{ChatID: "private:42", Content: "[reaction:128147] ok", ReplyTo: "7"}))

	likes := gw.callsFor("set_msg_emoji_like")
	require.Len(t, likes, 1)
	assert.Equal(t, "128147", likes[0].params["emoji_id"])
	assert.True(t, c.reacted.Contains("7"))
}

func TestSend_ExplicitReactionInOffMode(t *testing.T) {
	c, gw, _ := newTestChannel(t, testOneBotConfig())

	require.NoError(t, c.Send(context.Background(), bus.OutboundMessage{
		ChatID:   "group:1001",
		Content:  "[reaction:128514] kept",
		ReplyTo:  "12",
		Reaction: "128147",
	}))

	likes := gw.callsFor("set_msg_emoji_like")
	require.Len(t, likes, 1)
	assert.Equal(t, "128147", likes[0].params["emoji_id"])
	assert.Equal(t, []string{"[reaction:128514] kept"}, sentTexts(gw.callsFor("send_group_msg")))
}

func TestHandleMessage_AdminCommandShortCircuits(t *testing.T) {
	cfg := testOneBotConfig()
	cfg.Admins = config.FlexibleStringSlice{"42"}
	c, gw, mb := newTestChannel(t, cfg)
	c.members.Set(testGroupID, 77, "小红")

	c.handleMessage(context.Background(), groupMessage("1",
		onebot.TextSegment("禁言 "),
		onebot.AtSegment(77),
		onebot.TextSegment(" 5"),
	))

	_, ok := consumeInbound(t, mb)
	assert.False(t, ok, "commands never reach the reply pipeline")

	bans := gw.callsFor("set_group_ban")
	require.Len(t, bans, 1)
	assert.Equal(t, int64(77), bans[0].params["user_id"])
	assert.Equal(t, int64(300), bans[0].params["duration"])
	assert.Equal(t, []string{"已禁言 小红 5 分钟"}, sentTexts(gw.callsFor("send_group_msg")))
}

func TestHandleMessage_NonAdminCommandIsPlainText(t *testing.T) {
	c, gw, mb := newTestChannel(t, testOneBotConfig())

	c.handleMessage(context.Background(), groupMessage("1", onebot.TextSegment("禁言 77 5")))

	msg, ok := consumeInbound(t, mb)
	require.True(t, ok)
	assert.Equal(t, "禁言 77 5", msg.Content)
	assert.Empty(t, gw.callsFor("set_group_ban"))
}

func TestHandleMessage_EmptyIsDropped(t *testing.T) {
	c, _, mb := newTestChannel(t, testOneBotConfig())

	c.handleMessage(context.Background(), privateMessage("1", "   "))
	_, ok := consumeInbound(t, mb)
	assert.False(t, ok)
}

type recordedInbound struct {
	key, sender, content string
}

type fakeSessions struct {
	mu      sync.Mutex
	records []recordedInbound
}

func (f *fakeSessions) RecordInbound(key, senderID, _ string, content string) {
	f.mu.Lock()
	f.records = append(f.records, recordedInbound{key, senderID, content})
	f.mu.Unlock()
}

func TestHandleMessage_RecordsSessionAndMarksRead(t *testing.T) {
	cfg := testOneBotConfig()
	cfg.AutoMarkRead = true
	cfg.SystemPrompt = "be brief"
	c, gw, mb := newTestChannel(t, cfg)
	sessions := &fakeSessions{}
	c.sessions = sessions

	c.handleMessage(context.Background(), privateMessage("1", "hello"))
	msg, ok := consumeInbound(t, mb)
	require.True(t, ok)

	assert.Equal(t, "be brief", msg.Metadata["system_prompt"])
	assert.Equal(t, "direct", msg.Metadata["chat_type"])
	require.Len(t, sessions.records, 1)
	assert.Equal(t, recordedInbound{"onebot:private:42", "42", "hello"}, sessions.records[0])
	assert.Len(t, gw.callsFor("mark_private_msg_as_read"), 1)
}

func TestHandleNotice_UpdatesMemberCache(t *testing.T) {
	c, _, _ := newTestChannel(t, testOneBotConfig())
	ctx := context.Background()

	c.members.Set(testGroupID, 77, "小红")
	c.members.Set(testGroupID, 78, "小蓝")

	c.handleNotice(ctx, &onebot.NoticeEvent{Kind: onebot.NoticeCardChange, GroupID: testGroupID, UserID: 78, CardNew: "蓝蓝"})
	name, ok := c.members.Get(testGroupID, 78)
	require.True(t, ok)
	assert.Equal(t, "蓝蓝", name)

	c.handleNotice(ctx, &onebot.NoticeEvent{Kind: onebot.NoticeMembership, NoticeType: "group_decrease", GroupID: testGroupID, UserID: 77})
	_, ok = c.members.Get(testGroupID, 77)
	assert.False(t, ok)

	c.handleNotice(ctx, &onebot.NoticeEvent{Kind: onebot.NoticeMembership, NoticeType: "group_decrease", GroupID: testGroupID, UserID: testSelfID})
	_, ok = c.members.Get(testGroupID, 78)
	assert.False(t, ok, "leaving a group drops its whole cache")
}

func TestHandleNotice_PokeBack(t *testing.T) {
	c, gw, _ := newTestChannel(t, testOneBotConfig())
	ctx := context.Background()

	c.handleNotice(ctx, &onebot.NoticeEvent{Kind: onebot.NoticePoke, GroupID: testGroupID, UserID: 77, TargetID: testSelfID})
	c.handleNotice(ctx, &onebot.NoticeEvent{Kind: onebot.NoticePoke, GroupID: testGroupID, UserID: 77, TargetID: 78})

	pokes := gw.callsFor("group_poke")
	require.Len(t, pokes, 1)
	assert.Equal(t, int64(77), pokes[0].params["user_id"])
}

func TestHandleRequest_AutoApprove(t *testing.T) {
	cfg := testOneBotConfig()
	cfg.AutoApproveRequests = true
	c, gw, _ := newTestChannel(t, cfg)
	ctx := context.Background()

	c.handleRequest(ctx, &onebot.RequestEvent{RequestType: "friend", Flag: "f1", UserID: 7})
	c.handleRequest(ctx, &onebot.RequestEvent{RequestType: "group", SubType: "invite", Flag: "g1", GroupID: 9})

	friends := gw.callsFor("set_friend_add_request")
	require.Len(t, friends, 1)
	assert.Equal(t, "f1", friends[0].params["flag"])
	assert.Equal(t, true, friends[0].params["approve"])

	groups := gw.callsFor("set_group_add_request")
	require.Len(t, groups, 1)
	assert.Equal(t, "invite", groups[0].params["sub_type"])
}

func TestHandleRequest_IgnoredWithoutAutoApprove(t *testing.T) {
	c, gw, _ := newTestChannel(t, testOneBotConfig())

	c.handleRequest(context.Background(), &onebot.RequestEvent{RequestType: "friend", Flag: "f1"})
	assert.Empty(t, gw.callsFor("set_friend_add_request"))
}

func TestStart_LearnsSelfIDAndPublishes(t *testing.T) {
	c, gw, mb := newTestChannel(t, testOneBotConfig())
	gw.SetSelfID(0)
	gw.responses["get_login_info"] = json.RawMessage(`{"user_id":10000,"nickname":"bot"}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))
	assert.True(t, c.IsRunning())
	assert.Equal(t, testSelfID, gw.SelfID())

	gw.events <- &onebot.MetaEvent{MetaEventType: "heartbeat"}
	gw.events <- privateMessage("1", "hi there")

	recvCtx, recvCancel := context.WithTimeout(ctx, time.Second)
	defer recvCancel()
	msg, ok := mb.ConsumeInbound(recvCtx)
	require.True(t, ok)
	assert.Equal(t, "hi there", msg.Content)
	assert.Equal(t, "onebot", msg.Channel)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, c.Stop(stopCtx))
	assert.False(t, c.IsRunning())
	assert.False(t, gw.IsConnected())
}

func TestOnConnect_ListsGuildsWhenEnabled(t *testing.T) {
	c, gw, _ := newTestChannel(t, testOneBotConfig())
	gw.responses["get_login_info"] = json.RawMessage(`{"user_id":10000,"nickname":"bot"}`)
	ctx := context.Background()

	c.onConnect(ctx)
	assert.Empty(t, gw.callsFor("get_guild_list"))

	cfg := testOneBotConfig()
	cfg.EnableGuilds = true
	c, gw, _ = newTestChannel(t, cfg)
	gw.responses["get_login_info"] = json.RawMessage(`{"user_id":10000,"nickname":"bot"}`)
	gw.failures["get_guild_list"] = &onebot.ActionError{Action: "get_guild_list", Status: "failed", RetCode: 1404}
	gw.responses["get_guilds"] = json.RawMessage(`[{"guild_id":"123","guild_name":"频道"}]`)

	c.onConnect(ctx)
	assert.Len(t, gw.callsFor("get_guild_list"), 1)
	assert.Len(t, gw.callsFor("get_guilds"), 1, "rejected name falls back to the alternate action")
}

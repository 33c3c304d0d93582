package onebot

import (
	"errors"
	"testing"
	"time"
)

func TestDecodeEvent_GroupMessage(t *testing.T) {
	frame := []byte(`{
		"post_type":"message","message_type":"group","sub_type":"normal",
		"message_id":12345,"user_id":"2002","group_id":1001,"self_id":999,"time":1700000000,
		"message":[{"type":"at","data":{"qq":"999"}},{"type":"text","data":{"text":" hi"}}],
		"raw_message":"[CQ:at,qq=999] hi",
		"sender":{"user_id":2002,"nickname":"nick","card":"card","role":"admin"}
	}`)

	ev, err := DecodeEvent(frame)
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v", err)
	}
	msg, ok := ev.(*MessageEvent)
	if !ok {
		t.Fatalf("event type = %T, want *MessageEvent", ev)
	}
	if msg.MessageID != "12345" || msg.UserID != 2002 || msg.GroupID != 1001 {
		t.Fatalf("ids = %q/%d/%d", msg.MessageID, msg.UserID, msg.GroupID)
	}
	if msg.EventHeader().SelfID != 999 {
		t.Fatalf("self_id = %d, want 999", msg.EventHeader().SelfID)
	}
	if !msg.IsGroup() || msg.Sender.DisplayName() != "card" || msg.Sender.Role != "admin" {
		t.Fatalf("unexpected message fields: %+v", msg)
	}
	if len(msg.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(msg.Segments))
	}
}

func TestDecodeEvent_GuildMessage(t *testing.T) {
	frame := []byte(`{"post_type":"message","message_type":"guild","guild_id":"7001","channel_id":"8001","user_id":"144115","message":"hello","sender":{"nickname":"g"}}`)
	ev, err := DecodeEvent(frame)
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v", err)
	}
	msg := ev.(*MessageEvent)
	if !msg.IsGuild() || msg.GuildID != "7001" || msg.ChannelID != "8001" {
		t.Fatalf("guild fields = %+v", msg)
	}
	if msg.Sender.UserID != 144115 {
		t.Fatalf("sender id = %d, want fallback from user_id", msg.Sender.UserID)
	}
}

func TestDecodeEvent_NoticeKinds(t *testing.T) {
	tests := []struct {
		frame string
		want  NoticeKind
	}{
		{`{"post_type":"notice","notice_type":"group_increase","group_id":1,"user_id":2}`, NoticeMembership},
		{`{"post_type":"notice","notice_type":"group_ban","sub_type":"ban","duration":600}`, NoticeBan},
		{`{"post_type":"notice","notice_type":"group_card","card_new":"a","card_old":"b"}`, NoticeCardChange},
		{`{"post_type":"notice","notice_type":"essence","sender_id":5}`, NoticeEssence},
		{`{"post_type":"notice","notice_type":"notify","sub_type":"poke","target_id":9}`, NoticePoke},
		{`{"post_type":"notice","notice_type":"notify","sub_type":"honor","honor_type":"talkative"}`, NoticeHonor},
		{`{"post_type":"notice","notice_type":"notify","sub_type":"input_status"}`, NoticeOther},
		{`{"post_type":"notice","notice_type":"group_admin","sub_type":"set"}`, NoticeAdminChange},
		{`{"post_type":"notice","notice_type":"group_recall","message_id":3}`, NoticeRecall},
		{`{"post_type":"notice","notice_type":"friend_add","user_id":3}`, NoticeFriendAdd},
		{`{"post_type":"notice","notice_type":"group_upload","file":{"name":"a.zip"}}`, NoticeUpload},
		{`{"post_type":"notice","notice_type":"something_new"}`, NoticeOther},
	}
	for _, tt := range tests {
		ev, err := DecodeEvent([]byte(tt.frame))
		if err != nil {
			t.Fatalf("DecodeEvent(%s) error = %v", tt.frame, err)
		}
		notice, ok := ev.(*NoticeEvent)
		if !ok {
			t.Fatalf("event type = %T, want *NoticeEvent", ev)
		}
		if notice.Kind != tt.want {
			t.Errorf("kind for %s = %s, want %s", tt.frame, notice.Kind, tt.want)
		}
	}

	ev, _ := DecodeEvent([]byte(`{"post_type":"notice","notice_type":"essence","sender_id":5}`))
	if ev.(*NoticeEvent).UserID != 5 {
		t.Fatal("essence notice should fall back to sender_id")
	}
}

func TestDecodeEvent_RequestAndMeta(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"post_type":"request","request_type":"group","sub_type":"invite","flag":"f1","user_id":1,"group_id":2,"comment":"pls"}`))
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v", err)
	}
	req := ev.(*RequestEvent)
	if req.Flag != "f1" || req.SubType != "invite" || req.GroupID != 2 {
		t.Fatalf("request = %+v", req)
	}

	ev, err = DecodeEvent([]byte(`{"post_type":"meta_event","meta_event_type":"heartbeat","status":{"online":true,"good":true},"interval":5000}`))
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v", err)
	}
	meta := ev.(*MetaEvent)
	if !meta.Status.Online || meta.Interval != 5000 {
		t.Fatalf("meta = %+v", meta)
	}
}

func TestDecodeEvent_Rejects(t *testing.T) {
	if _, err := DecodeEvent([]byte(`{"echo":"x"}`)); err == nil {
		t.Fatal("expected error for missing post_type")
	}
	if _, err := DecodeEvent([]byte(`{"post_type":"bogus"}`)); err == nil {
		t.Fatal("expected error for unknown post_type")
	}
	if _, err := DecodeEvent([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}

func TestResponseOKAndErr(t *testing.T) {
	ok := &Response{Status: "ok", RetCode: []byte("0")}
	if !ok.OK() || ok.Err("x") != nil {
		t.Fatal("status ok should succeed")
	}
	async := &Response{Status: "async", RetCode: []byte("1")}
	if !async.OK() {
		t.Fatal("status async should succeed")
	}

	failed := &Response{Status: "failed", RetCode: []byte("100"), Wording: "no permission"}
	err := failed.Err("set_group_ban")
	var actionErr *ActionError
	if !errors.As(err, &actionErr) {
		t.Fatalf("Err() = %v, want *ActionError", err)
	}
	if actionErr.RetCode != 100 || actionErr.Message != "no permission" {
		t.Fatalf("action error = %+v", actionErr)
	}
}

func TestTargetRoundTrip(t *testing.T) {
	for _, id := range []string{"group:1001", "private:42", "guild:123:456"} {
		target, err := ParseTarget(id)
		if err != nil {
			t.Fatalf("ParseTarget(%q) error = %v", id, err)
		}
		if target.String() != id {
			t.Fatalf("String() = %q, want %q", target.String(), id)
		}
	}

	target, err := ParseTarget(" 42 ")
	if err != nil || target.Kind != TargetPrivate || target.ID != 42 {
		t.Fatalf("bare id = %+v, %v", target, err)
	}

	for _, bad := range []string{"", "group:", "group:abc", "group:-1", "guild:1", "guild:a:b", "guild:1:2:3", "channel:1", "12a"} {
		if _, err := ParseTarget(bad); !errors.Is(err, ErrInvalidTarget) {
			t.Errorf("ParseTarget(%q) error = %v, want ErrInvalidTarget", bad, err)
		}
	}
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},
		{1000, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := BackoffDelay(time.Second, 60*time.Second, tt.attempts); got != tt.want {
			t.Errorf("BackoffDelay(%d) = %s, want %s", tt.attempts, got, tt.want)
		}
	}
}

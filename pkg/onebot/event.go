package onebot

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Header carries the fields every event shares.
type Header struct {
	PostType string
	Time     int64
	SelfID   int64
}

func (h Header) EventHeader() Header { return h }

func (Header) sealed() {}

// Event is one of *MessageEvent, *NoticeEvent, *RequestEvent or *MetaEvent.
type Event interface {
	EventHeader() Header
	sealed()
}

type Sender struct {
	UserID   int64
	Nickname string
	Card     string
	Role     string
}

// DisplayName prefers the group card, then the nickname, then the id.
func (s Sender) DisplayName() string {
	if card := strings.TrimSpace(s.Card); card != "" {
		return card
	}
	if nick := strings.TrimSpace(s.Nickname); nick != "" {
		return nick
	}
	if s.UserID != 0 {
		return strconv.FormatInt(s.UserID, 10)
	}
	return ""
}

type MessageEvent struct {
	Header
	MessageType string // private, group or guild
	SubType     string
	MessageID   string
	UserID      int64
	GroupID     int64
	GuildID     string
	ChannelID   string
	TinyID      string
	RawMessage  string
	Segments    []Segment
	Sender      Sender
}

func (e *MessageEvent) IsGroup() bool { return e.MessageType == "group" }

func (e *MessageEvent) IsGuild() bool { return e.MessageType == "guild" }

type NoticeKind int

const (
	NoticeOther NoticeKind = iota
	NoticeMembership
	NoticeBan
	NoticeCardChange
	NoticeEssence
	NoticePoke
	NoticeHonor
	NoticeAdminChange
	NoticeRecall
	NoticeFriendAdd
	NoticeUpload
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeMembership:
		return "membership"
	case NoticeBan:
		return "ban"
	case NoticeCardChange:
		return "card_change"
	case NoticeEssence:
		return "essence"
	case NoticePoke:
		return "poke"
	case NoticeHonor:
		return "honor"
	case NoticeAdminChange:
		return "admin_change"
	case NoticeRecall:
		return "recall"
	case NoticeFriendAdd:
		return "friend_add"
	case NoticeUpload:
		return "upload"
	default:
		return "other"
	}
}

type NoticeEvent struct {
	Header
	Kind       NoticeKind
	NoticeType string
	SubType    string
	GroupID    int64
	UserID     int64
	OperatorID int64
	TargetID   int64
	MessageID  string
	Duration   int64
	CardNew    string
	CardOld    string
	HonorType  string
	FileName   string
}

type RequestEvent struct {
	Header
	RequestType string // friend or group
	SubType     string // add or invite for group requests
	Flag        string
	Comment     string
	UserID      int64
	GroupID     int64
}

type MetaEvent struct {
	Header
	MetaEventType string
	SubType       string
	Status        BotStatus
	Interval      int64
}

type rawSender struct {
	UserID   json.RawMessage `json:"user_id"`
	TinyID   json.RawMessage `json:"tiny_id"`
	Nickname string          `json:"nickname"`
	Card     string          `json:"card"`
	Role     string          `json:"role"`
}

type rawEvent struct {
	PostType      string          `json:"post_type"`
	MessageType   string          `json:"message_type"`
	NoticeType    string          `json:"notice_type"`
	RequestType   string          `json:"request_type"`
	MetaEventType string          `json:"meta_event_type"`
	SubType       string          `json:"sub_type"`
	MessageID     json.RawMessage `json:"message_id"`
	UserID        json.RawMessage `json:"user_id"`
	GroupID       json.RawMessage `json:"group_id"`
	GuildID       json.RawMessage `json:"guild_id"`
	ChannelID     json.RawMessage `json:"channel_id"`
	OperatorID    json.RawMessage `json:"operator_id"`
	TargetID      json.RawMessage `json:"target_id"`
	SenderID      json.RawMessage `json:"sender_id"`
	Duration      json.RawMessage `json:"duration"`
	RawMessage    string          `json:"raw_message"`
	Message       json.RawMessage `json:"message"`
	Sender        rawSender       `json:"sender"`
	SelfID        json.RawMessage `json:"self_id"`
	Time          json.RawMessage `json:"time"`
	CardNew       string          `json:"card_new"`
	CardOld       string          `json:"card_old"`
	HonorType     string          `json:"honor_type"`
	Flag          string          `json:"flag"`
	Comment       string          `json:"comment"`
	Status        BotStatus       `json:"status"`
	Interval      json.RawMessage `json:"interval"`
	File          struct {
		Name string `json:"name"`
	} `json:"file"`
}

func int64Field(raw json.RawMessage) int64 {
	n, _ := parseJSONInt64(raw)
	return n
}

// DecodeEvent parses a gateway event frame into its tagged variant.
func DecodeEvent(frame []byte) (Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(frame, &raw); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	header := Header{
		PostType: raw.PostType,
		Time:     int64Field(raw.Time),
		SelfID:   int64Field(raw.SelfID),
	}

	switch raw.PostType {
	case "message", "message_sent":
		return decodeMessage(header, &raw), nil
	case "notice":
		return decodeNotice(header, &raw), nil
	case "request":
		return &RequestEvent{
			Header:      header,
			RequestType: raw.RequestType,
			SubType:     raw.SubType,
			Flag:        raw.Flag,
			Comment:     raw.Comment,
			UserID:      int64Field(raw.UserID),
			GroupID:     int64Field(raw.GroupID),
		}, nil
	case "meta_event":
		return &MetaEvent{
			Header:        header,
			MetaEventType: raw.MetaEventType,
			SubType:       raw.SubType,
			Status:        raw.Status,
			Interval:      int64Field(raw.Interval),
		}, nil
	case "":
		return nil, fmt.Errorf("decode event: missing post_type")
	default:
		return nil, fmt.Errorf("decode event: unknown post_type %q", raw.PostType)
	}
}

func decodeMessage(header Header, raw *rawEvent) *MessageEvent {
	evt := &MessageEvent{
		Header:      header,
		MessageType: raw.MessageType,
		SubType:     raw.SubType,
		MessageID:   parseJSONString(raw.MessageID),
		UserID:      int64Field(raw.UserID),
		GroupID:     int64Field(raw.GroupID),
		GuildID:     parseJSONString(raw.GuildID),
		ChannelID:   parseJSONString(raw.ChannelID),
		TinyID:      parseJSONString(raw.Sender.TinyID),
		RawMessage:  raw.RawMessage,
		Segments:    ParseSegments(raw.Message, raw.RawMessage),
		Sender: Sender{
			UserID:   int64Field(raw.Sender.UserID),
			Nickname: raw.Sender.Nickname,
			Card:     raw.Sender.Card,
			Role:     raw.Sender.Role,
		},
	}
	if evt.UserID == 0 {
		evt.UserID = evt.Sender.UserID
	}
	if evt.Sender.UserID == 0 {
		evt.Sender.UserID = evt.UserID
	}
	if evt.GuildID != "" && evt.MessageType == "" {
		evt.MessageType = "guild"
	}
	return evt
}

func decodeNotice(header Header, raw *rawEvent) *NoticeEvent {
	evt := &NoticeEvent{
		Header:     header,
		NoticeType: raw.NoticeType,
		SubType:    raw.SubType,
		GroupID:    int64Field(raw.GroupID),
		UserID:     int64Field(raw.UserID),
		OperatorID: int64Field(raw.OperatorID),
		TargetID:   int64Field(raw.TargetID),
		MessageID:  parseJSONString(raw.MessageID),
		Duration:   int64Field(raw.Duration),
		CardNew:    raw.CardNew,
		CardOld:    raw.CardOld,
		HonorType:  raw.HonorType,
		FileName:   raw.File.Name,
	}

	switch raw.NoticeType {
	case "group_increase", "group_decrease":
		evt.Kind = NoticeMembership
	case "group_ban":
		evt.Kind = NoticeBan
	case "group_card":
		evt.Kind = NoticeCardChange
	case "essence":
		evt.Kind = NoticeEssence
		if evt.UserID == 0 {
			evt.UserID = int64Field(raw.SenderID)
		}
	case "group_admin":
		evt.Kind = NoticeAdminChange
	case "group_recall", "friend_recall":
		evt.Kind = NoticeRecall
	case "friend_add":
		evt.Kind = NoticeFriendAdd
	case "group_upload":
		evt.Kind = NoticeUpload
	case "notify":
		switch raw.SubType {
		case "poke":
			evt.Kind = NoticePoke
		case "honor":
			evt.Kind = NoticeHonor
		default:
			evt.Kind = NoticeOther
		}
	default:
		evt.Kind = NoticeOther
	}
	return evt
}

package channels

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/zhufengning/qqclaw/pkg/logger"
	"github.com/zhufengning/qqclaw/pkg/onebot"
)

const (
	maxInboundMedia = 3
	maxForwardNodes = 5
)

type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
	KindGuild  ConversationKind = "guild"
)

// InboundEvent is the canonical form of one inbound message.
type InboundEvent struct {
	Timestamp    time.Time
	AccountID    string
	SelfID       int64
	Kind         ConversationKind
	SenderID     int64
	SenderName   string
	GroupID      int64
	GuildID      string
	ChannelID    string
	Text         string // resolved text with placeholders
	CommandText  string // text segments only, for command matching
	RawText      string
	Media        []string
	ReplyTo      string
	IsAdmin      bool
	MessageID    string
	Mentioned    bool
	MentionedIDs []int64
	Keyword      bool
	RepliedToBot bool
}

// Target is the conversation a reply to this event goes to.
func (e *InboundEvent) Target() onebot.Target {
	switch e.Kind {
	case KindGroup:
		return onebot.GroupTarget(e.GroupID)
	case KindGuild:
		return onebot.GuildTarget(e.GuildID, e.ChannelID)
	default:
		return onebot.PrivateTarget(e.SenderID)
	}
}

func (e *InboundEvent) ChatID() string {
	return e.Target().String()
}

// selfID prefers the id learned from get_login_info and falls back to the
// event header until that call has returned.
func (c *OneBotChannel) selfID(e onebot.Event) int64 {
	if id := c.gateway.SelfID(); id != 0 {
		return id
	}
	return e.EventHeader().SelfID
}

// normalize resolves a message event into its canonical form. Mentions are
// resolved through the member cache, images optionally through OCR and
// merged forwards through get_forward_msg.
func (c *OneBotChannel) normalize(ctx context.Context, e *onebot.MessageEvent) *InboundEvent {
	in := &InboundEvent{
		Timestamp:  c.nowFunc(),
		AccountID:  c.accountID,
		SelfID:     c.selfID(e),
		Kind:       KindDirect,
		SenderID:   e.UserID,
		SenderName: e.Sender.DisplayName(),
		GroupID:    e.GroupID,
		GuildID:    e.GuildID,
		ChannelID:  e.ChannelID,
		RawText:    e.RawMessage,
		MessageID:  e.MessageID,
		IsAdmin:    c.config.IsAdmin(e.UserID),
		ReplyTo:    onebot.ReplyID(e.Segments),
		Media:      onebot.ImageURLs(e.Segments, maxInboundMedia),
	}
	if e.Time > 0 {
		in.Timestamp = time.Unix(e.Time, 0)
	}
	switch {
	case e.IsGroup():
		in.Kind = KindGroup
		if e.Sender.Card == "" {
			if name, ok := c.members.Get(e.GroupID, e.UserID); ok {
				in.SenderName = name
			}
		}
	case e.IsGuild():
		in.Kind = KindGuild
	}
	if in.ReplyTo == "" && e.RawMessage != "" {
		in.ReplyTo = onebot.ReplyID(onebot.TokenizeCQ(e.RawMessage))
	}

	if len(e.Segments) == 0 {
		in.Text = onebot.CleanCQCodes(e.RawMessage)
		in.CommandText = in.Text
	} else {
		in.Text, in.CommandText = c.resolveSegments(ctx, e, in)
	}
	in.Keyword = c.matchesKeyword(in.Text)
	return in
}

func (c *OneBotChannel) resolveSegments(ctx context.Context, e *onebot.MessageEvent, in *InboundEvent) (string, string) {
	self := strconv.FormatInt(in.SelfID, 10)
	var text, command strings.Builder
	for _, seg := range e.Segments {
		switch seg.Type {
		case "text":
			text.WriteString(seg.Text())
			command.WriteString(seg.Text())
		case "at":
			qq := seg.Get("qq")
			if qq == "all" || qq == self {
				in.Mentioned = true
				continue
			}
			if id, err := strconv.ParseInt(qq, 10, 64); err == nil && id > 0 {
				in.MentionedIDs = append(in.MentionedIDs, id)
			}
			text.WriteString("@" + c.mentionName(e.GroupID, qq))
		case "reply":
		case "image":
			text.WriteString(c.imageText(ctx, seg))
		case "forward":
			text.WriteString("[forward]")
			text.WriteString(c.expandForward(ctx, seg.Get("id"), e.GroupID))
		default:
			text.WriteString(onebot.Placeholder(seg))
		}
	}
	return strings.TrimSpace(text.String()), strings.TrimSpace(command.String())
}

func (c *OneBotChannel) mentionName(groupID int64, qq string) string {
	id, err := strconv.ParseInt(qq, 10, 64)
	if err != nil || groupID == 0 {
		return qq
	}
	if name, ok := c.members.Get(groupID, id); ok {
		return name
	}
	return qq
}

func (c *OneBotChannel) imageText(ctx context.Context, seg onebot.Segment) string {
	if !c.config.EnableOCR {
		return "[image]"
	}
	src := seg.Get("url")
	if src == "" {
		src = seg.Get("file")
	}
	if src == "" {
		return "[image]"
	}
	text, err := c.api.OCRImage(ctx, src)
	if err != nil {
		logger.DebugCF(c.Name(), "OCR failed", map[string]any{
			"error": err.Error(),
		})
		return "[image]"
	}
	if text == "" {
		return "[image]"
	}
	return "[image: " + text + "]"
}

// expandForward renders the first nodes of a merged forward as quoted lines.
func (c *OneBotChannel) expandForward(ctx context.Context, id string, groupID int64) string {
	if id == "" {
		return ""
	}
	nodes, err := c.api.GetForwardMsg(ctx, id)
	if err != nil {
		logger.DebugCF(c.Name(), "get_forward_msg failed", map[string]any{
			"id":    id,
			"error": err.Error(),
		})
		return ""
	}
	if len(nodes) > maxForwardNodes {
		nodes = nodes[:maxForwardNodes]
	}

	var b strings.Builder
	for _, node := range nodes {
		b.WriteString("\n> ")
		b.WriteString(node.Sender.DisplayName())
		b.WriteString(": ")
		b.WriteString(c.flatten(node.Segments, groupID))
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	return b.String()
}

// flatten renders segments without any gateway lookups.
func (c *OneBotChannel) flatten(segments []onebot.Segment, groupID int64) string {
	var b strings.Builder
	for _, seg := range segments {
		switch seg.Type {
		case "text":
			b.WriteString(seg.Text())
		case "at":
			b.WriteString("@" + c.mentionName(groupID, seg.Get("qq")))
		default:
			b.WriteString(onebot.Placeholder(seg))
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func (c *OneBotChannel) matchesKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range c.config.KeywordTriggers {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// passesMentionGate drops group and guild messages that are not directed at
// the bot when require_mention is set. A reply to one of the bot's own
// messages counts as directed.
func (c *OneBotChannel) passesMentionGate(ctx context.Context, in *InboundEvent) bool {
	if in.Kind == KindDirect || !c.config.RequireMention {
		return true
	}
	if in.Mentioned || in.Keyword {
		return true
	}
	if in.ReplyTo == "" || in.SelfID == 0 {
		return false
	}
	replied, err := c.api.GetMsg(ctx, in.ReplyTo)
	if err != nil {
		logger.DebugCF(c.Name(), "get_msg for reply target failed", map[string]any{
			"reply_to": in.ReplyTo,
			"error":    err.Error(),
		})
		return false
	}
	in.RepliedToBot = replied.Sender.UserID == in.SelfID
	return in.RepliedToBot
}

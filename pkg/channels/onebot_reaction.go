package channels

import (
	"context"
	"errors"

	"github.com/zhufengning/qqclaw/pkg/bus"
	"github.com/zhufengning/qqclaw/pkg/logger"
	"github.com/zhufengning/qqclaw/pkg/reaction"
)

var ErrReactionsDisabled = errors.New("reactions are not enabled for this account")

// reactOnReceipt applies the static emoji, or in auto mode the local
// classifier's pick, as soon as a message is accepted.
func (c *OneBotChannel) reactOnReceipt(ctx context.Context, in *InboundEvent) {
	switch c.reactions.Kind {
	case reaction.ModeStatic:
		c.applyReaction(ctx, in.MessageID, c.reactions.Emoji)
	case reaction.ModeAuto:
		if emoji := reaction.Classify(in.Text); emoji != "" {
			c.applyReaction(ctx, in.MessageID, emoji)
		}
	}
}

// replyReaction handles a reaction carried by a reply: an explicit
// Reaction field or, in auto mode, a leading marker. It returns the text
// with any marker removed. Static mode owns every reaction, so nothing is
// applied from replies there.
func (c *OneBotChannel) replyReaction(ctx context.Context, msg bus.OutboundMessage) string {
	text := msg.Content
	emoji := msg.Reaction
	if c.reactions.Kind == reaction.ModeAuto {
		if marked, rest, ok := reaction.ParseMarker(text); ok {
			text = rest
			if emoji == "" {
				emoji = marked
			}
		}
	}
	if emoji != "" && msg.ReplyTo != "" && c.reactions.Kind != reaction.ModeStatic {
		c.applyReaction(ctx, msg.ReplyTo, emoji)
	}
	return text
}

// applyReaction sends at most one emoji per message id. Only a successful
// send counts; failures are logged and swallowed.
func (c *OneBotChannel) applyReaction(ctx context.Context, messageID, emoji string) bool {
	if messageID == "" || emoji == "" {
		return false
	}
	if c.reacted.Contains(messageID) {
		logger.DebugCF(c.Name(), "Reaction already sent", map[string]any{
			"message_id": messageID,
		})
		return false
	}
	if err := c.api.SetMsgEmojiLike(ctx, messageID, emoji, true); err != nil {
		logger.DebugCF(c.Name(), "Failed to set reaction", map[string]any{
			"message_id": messageID,
			"emoji":      emoji,
			"error":      err.Error(),
		})
		return false
	}
	c.reacted.Seen(messageID)
	return true
}

// React adds or removes an emoji on a message on behalf of an external
// caller. It requires enable_reactions.
func (c *OneBotChannel) React(ctx context.Context, messageID, emoji string, remove bool) error {
	if !c.config.EnableReactions {
		return ErrReactionsDisabled
	}
	if messageID == "" {
		return errors.New("messageId is required for react action")
	}
	if !remove && emoji == "" {
		return errors.New("emoji is required when not removing reaction")
	}

	logger.InfoCF(c.Name(), "React action", map[string]any{
		"message_id": messageID,
		"emoji":      emoji,
		"remove":     remove,
	})
	return c.api.SetMsgEmojiLike(ctx, messageID, emoji, !remove)
}

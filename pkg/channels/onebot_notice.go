package channels

import (
	"context"

	"github.com/zhufengning/qqclaw/pkg/logger"
	"github.com/zhufengning/qqclaw/pkg/onebot"
)

// handleNotice applies the side effects of a notice. Notices never reach
// the reply pipeline.
func (c *OneBotChannel) handleNotice(ctx context.Context, e *onebot.NoticeEvent) {
	selfID := c.selfID(e)
	fields := map[string]any{
		"kind":     e.Kind.String(),
		"sub_type": e.SubType,
		"group_id": e.GroupID,
		"user_id":  e.UserID,
	}

	switch e.Kind {
	case onebot.NoticeMembership:
		if e.NoticeType == "group_decrease" && selfID != 0 && e.UserID == selfID {
			c.members.InvalidateGroup(e.GroupID)
			logger.InfoCF(c.Name(), "Left group, member cache dropped", fields)
			return
		}
		c.members.Invalidate(e.GroupID, e.UserID)
		logger.DebugCF(c.Name(), "Group membership changed", fields)

	case onebot.NoticeCardChange:
		if e.CardNew == "" {
			c.members.Invalidate(e.GroupID, e.UserID)
		} else {
			c.members.Set(e.GroupID, e.UserID, e.CardNew)
		}
		logger.DebugCF(c.Name(), "Group card changed", map[string]any{
			"group_id": e.GroupID,
			"user_id":  e.UserID,
			"card":     e.CardNew,
		})

	case onebot.NoticePoke:
		if selfID == 0 || e.TargetID != selfID || e.UserID == selfID {
			return
		}
		if err := c.api.Poke(ctx, e.GroupID, e.UserID); err != nil {
			logger.DebugCF(c.Name(), "Poke back failed", map[string]any{
				"user_id": e.UserID,
				"error":   err.Error(),
			})
		}

	case onebot.NoticeBan:
		fields["operator_id"] = e.OperatorID
		fields["duration"] = e.Duration
		logger.InfoCF(c.Name(), "Group ban notice", fields)

	case onebot.NoticeEssence, onebot.NoticeHonor, onebot.NoticeAdminChange, onebot.NoticeRecall:
		fields["message_id"] = e.MessageID
		fields["honor_type"] = e.HonorType
		logger.InfoCF(c.Name(), "Group notice", fields)

	default:
		logger.DebugCF(c.Name(), "Notice event received", fields)
	}
}

// handleRequest approves friend and group requests when configured to.
func (c *OneBotChannel) handleRequest(ctx context.Context, e *onebot.RequestEvent) {
	fields := map[string]any{
		"request_type": e.RequestType,
		"sub_type":     e.SubType,
		"user_id":      e.UserID,
		"group_id":     e.GroupID,
		"comment":      e.Comment,
	}
	if !c.config.AutoApproveRequests {
		logger.InfoCF(c.Name(), "Request received", fields)
		return
	}

	var err error
	switch e.RequestType {
	case "friend":
		err = c.api.SetFriendAddRequest(ctx, e.Flag, true, "")
	case "group":
		err = c.api.SetGroupAddRequest(ctx, e.Flag, e.SubType, true, "")
	default:
		logger.DebugCF(c.Name(), "Unknown request type", fields)
		return
	}
	if err != nil {
		fields["error"] = err.Error()
		logger.WarnCF(c.Name(), "Failed to approve request", fields)
		return
	}
	logger.InfoCF(c.Name(), "Request approved", fields)
}

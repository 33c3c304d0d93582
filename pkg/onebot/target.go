package onebot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidTarget is returned for chat ids that match no known form.
var ErrInvalidTarget = errors.New("onebot: invalid target")

type TargetKind int

const (
	TargetPrivate TargetKind = iota
	TargetGroup
	TargetGuild
)

func (k TargetKind) String() string {
	switch k {
	case TargetGroup:
		return "group"
	case TargetGuild:
		return "guild"
	default:
		return "private"
	}
}

// Target is a parsed chat id.
type Target struct {
	Kind      TargetKind
	ID        int64 // user or group id
	GuildID   string
	ChannelID string
}

func GroupTarget(groupID int64) Target { return Target{Kind: TargetGroup, ID: groupID} }

func PrivateTarget(userID int64) Target { return Target{Kind: TargetPrivate, ID: userID} }

func GuildTarget(guildID, channelID string) Target {
	return Target{Kind: TargetGuild, GuildID: guildID, ChannelID: channelID}
}

// String renders the canonical chat id: group:<id>, private:<id> or guild:<g>:<c>.
func (t Target) String() string {
	switch t.Kind {
	case TargetGroup:
		return "group:" + strconv.FormatInt(t.ID, 10)
	case TargetGuild:
		return "guild:" + t.GuildID + ":" + t.ChannelID
	default:
		return "private:" + strconv.FormatInt(t.ID, 10)
	}
}

// ParseTarget accepts group:<id>, guild:<g>:<c>, private:<id> and bare
// numeric ids, which address a private chat.
func ParseTarget(chatID string) (Target, error) {
	s := strings.TrimSpace(chatID)

	switch {
	case strings.HasPrefix(s, "group:"):
		id, ok := positiveID(strings.TrimPrefix(s, "group:"))
		if !ok {
			break
		}
		return GroupTarget(id), nil
	case strings.HasPrefix(s, "private:"):
		id, ok := positiveID(strings.TrimPrefix(s, "private:"))
		if !ok {
			break
		}
		return PrivateTarget(id), nil
	case strings.HasPrefix(s, "guild:"):
		parts := strings.Split(strings.TrimPrefix(s, "guild:"), ":")
		if len(parts) != 2 || !isDigits(parts[0]) || !isDigits(parts[1]) {
			break
		}
		return GuildTarget(parts[0], parts[1]), nil
	default:
		if id, ok := positiveID(s); ok {
			return PrivateTarget(id), nil
		}
	}
	return Target{}, fmt.Errorf("%w: %q", ErrInvalidTarget, chatID)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func positiveID(s string) (int64, bool) {
	if !isDigits(s) {
		return 0, false
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

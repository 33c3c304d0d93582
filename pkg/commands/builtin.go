package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

const (
	defaultMuteMinutes = 10
	maxMuteMinutes     = 30 * 24 * 60
	maxLikeTimes       = 10
)

// NewDefaultRegistry returns a registry holding every built-in command.
func NewDefaultRegistry(deps *Deps) *Registry {
	r := NewRegistry(deps)
	for _, cmd := range builtins() {
		r.Register(cmd)
	}
	r.Register(&Command{
		Name:        "help",
		Aliases:     []string{"帮助"},
		Description: "显示命令列表",
		Run: func(context.Context, *Deps, *Invocation) (string, error) {
			return r.Help(), nil
		},
	})
	return r
}

func displayName(d *Deps, groupID, userID int64) string {
	if d.Members != nil && groupID > 0 {
		if name, ok := d.Members.Get(groupID, userID); ok {
			return name
		}
	}
	return strconv.FormatInt(userID, 10)
}

func builtins() []*Command {
	return []*Command{
		{
			Name:        "mute",
			Aliases:     []string{"禁言"},
			Usage:       "@成员 [分钟]",
			Description: "禁言成员，默认 10 分钟",
			Scope:       ScopeGroup,
			Run: func(ctx context.Context, d *Deps, inv *Invocation) (string, error) {
				target, rest, ok := inv.Target()
				if !ok {
					return "", ErrMissingArgument
				}
				minutes := intArg(rest, defaultMuteMinutes)
				if minutes <= 0 {
					minutes = defaultMuteMinutes
				}
				if minutes > maxMuteMinutes {
					minutes = maxMuteMinutes
				}
				if err := d.API.SetGroupBan(ctx, inv.GroupID, target, int64(minutes)*60); err != nil {
					return "", err
				}
				return fmt.Sprintf("已禁言 %s %d 分钟", displayName(d, inv.GroupID, target), minutes), nil
			},
		},
		{
			Name:        "unmute",
			Aliases:     []string{"解禁", "解除禁言"},
			Usage:       "@成员",
			Description: "解除成员禁言",
			Scope:       ScopeGroup,
			Run: func(ctx context.Context, d *Deps, inv *Invocation) (string, error) {
				target, _, ok := inv.Target()
				if !ok {
					return "", ErrMissingArgument
				}
				if err := d.API.SetGroupBan(ctx, inv.GroupID, target, 0); err != nil {
					return "", err
				}
				return fmt.Sprintf("已解除 %s 的禁言", displayName(d, inv.GroupID, target)), nil
			},
		},
		{
			Name:        "kick",
			Aliases:     []string{"踢出", "踢"},
			Usage:       "@成员",
			Description: "将成员移出群聊",
			Scope:       ScopeGroup,
			Run: func(ctx context.Context, d *Deps, inv *Invocation) (string, error) {
				target, _, ok := inv.Target()
				if !ok {
					return "", ErrMissingArgument
				}
				name := displayName(d, inv.GroupID, target)
				if err := d.API.SetGroupKick(ctx, inv.GroupID, target, false); err != nil {
					return "", err
				}
				if d.Members != nil {
					d.Members.Invalidate(inv.GroupID, target)
				}
				return fmt.Sprintf("已将 %s 移出群聊", name), nil
			},
		},
		{
			Name:        "muteall",
			Aliases:     []string{"全员禁言"},
			Description: "开启全员禁言",
			Scope:       ScopeGroup,
			Run: func(ctx context.Context, d *Deps, inv *Invocation) (string, error) {
				if err := d.API.SetGroupWholeBan(ctx, inv.GroupID, true); err != nil {
					return "", err
				}
				return "已开启全员禁言", nil
			},
		},
		{
			Name:        "unmuteall",
			Aliases:     []string{"解除全员禁言"},
			Description: "关闭全员禁言",
			Scope:       ScopeGroup,
			Run: func(ctx context.Context, d *Deps, inv *Invocation) (string, error) {
				if err := d.API.SetGroupWholeBan(ctx, inv.GroupID, false); err != nil {
					return "", err
				}
				return "已关闭全员禁言", nil
			},
		},
		{
			Name:        "card",
			Aliases:     []string{"改名片"},
			Usage:       "@成员 名片",
			Description: "修改成员群名片",
			Scope:       ScopeGroup,
			Run: func(ctx context.Context, d *Deps, inv *Invocation) (string, error) {
				target, rest, ok := inv.Target()
				card := strings.Join(rest, " ")
				if !ok || card == "" {
					return "", ErrMissingArgument
				}
				if err := d.API.SetGroupCard(ctx, inv.GroupID, target, card); err != nil {
					return "", err
				}
				if d.Members != nil {
					d.Members.Set(inv.GroupID, target, card)
				}
				return fmt.Sprintf("已将 %d 的群名片改为 %s", target, card), nil
			},
		},
		{
			Name:        "title",
			Aliases:     []string{"头衔"},
			Usage:       "@成员 头衔",
			Description: "设置成员专属头衔",
			Scope:       ScopeGroup,
			Run: func(ctx context.Context, d *Deps, inv *Invocation) (string, error) {
				target, rest, ok := inv.Target()
				title := strings.Join(rest, " ")
				if !ok || title == "" {
					return "", ErrMissingArgument
				}
				if err := d.API.SetGroupSpecialTitle(ctx, inv.GroupID, target, title); err != nil {
					return "", err
				}
				return fmt.Sprintf("已为 %s 设置头衔 %s", displayName(d, inv.GroupID, target), title), nil
			},
		},
		{
			Name:        "essence",
			Aliases:     []string{"设精华"},
			Description: "把回复的消息设为精华",
			Scope:       ScopeGroup,
			Run: func(ctx context.Context, d *Deps, inv *Invocation) (string, error) {
				if !d.Features.EssenceMsg {
					return "精华消息功能未启用", nil
				}
				if inv.ReplyTo == "" {
					return "", ErrMissingArgument
				}
				if err := d.API.SetEssenceMsg(ctx, inv.ReplyTo); err != nil {
					return "", err
				}
				return "已设为精华消息", nil
			},
		},
		{
			Name:        "unessence",
			Aliases:     []string{"取消精华"},
			Description: "取消回复消息的精华",
			Scope:       ScopeGroup,
			Run: func(ctx context.Context, d *Deps, inv *Invocation) (string, error) {
				if !d.Features.EssenceMsg {
					return "精华消息功能未启用", nil
				}
				if inv.ReplyTo == "" {
					return "", ErrMissingArgument
				}
				if err := d.API.DeleteEssenceMsg(ctx, inv.ReplyTo); err != nil {
					return "", err
				}
				return "已取消精华消息", nil
			},
		},
		{
			Name:        "recall",
			Aliases:     []string{"撤回"},
			Description: "撤回回复的消息",
			Run: func(ctx context.Context, d *Deps, inv *Invocation) (string, error) {
				if inv.ReplyTo == "" {
					return "", ErrMissingArgument
				}
				if err := d.API.DeleteMsg(ctx, inv.ReplyTo); err != nil {
					return "", err
				}
				return "已撤回", nil
			},
		},
		{
			Name:        "honor",
			Aliases:     []string{"群荣誉"},
			Usage:       "[talkative|performer|legend|strong_newbie|emotion]",
			Description: "查看群荣誉",
			Scope:       ScopeGroup,
			Run: func(ctx context.Context, d *Deps, inv *Invocation) (string, error) {
				if !d.Features.GroupHonor {
					return "群荣誉功能未启用", nil
				}
				honorType := "all"
				if len(inv.Args) > 0 {
					honorType = strings.ToLower(inv.Args[0])
				}
				entries, err := d.API.GetGroupHonorInfo(ctx, inv.GroupID, honorType)
				if err != nil {
					return "", err
				}
				if len(entries) == 0 {
					return "暂无群荣誉信息", nil
				}
				lines := make([]string, 0, len(entries)+1)
				lines = append(lines, "群荣誉：")
				for _, e := range entries {
					lines = append(lines, fmt.Sprintf("%s：%s(%d)", e.Description, e.Nickname, e.UserID))
				}
				return strings.Join(lines, "\n"), nil
			},
		},
		{
			Name:        "signin",
			Aliases:     []string{"打卡"},
			Description: "群打卡",
			Scope:       ScopeGroup,
			Run: func(ctx context.Context, d *Deps, inv *Invocation) (string, error) {
				if !d.Features.GroupSignIn {
					return "群打卡功能未启用", nil
				}
				if err := d.API.GroupSignIn(ctx, inv.GroupID); err != nil {
					return "", err
				}
				return "打卡成功", nil
			},
		},
		{
			Name:        "like",
			Aliases:     []string{"点赞"},
			Usage:       "@成员 [次数]",
			Description: "给成员名片点赞，最多 10 次",
			Run: func(ctx context.Context, d *Deps, inv *Invocation) (string, error) {
				target, rest, ok := inv.Target()
				if !ok {
					return "", ErrMissingArgument
				}
				times := intArg(rest, maxLikeTimes)
				if times < 1 {
					times = 1
				}
				if times > maxLikeTimes {
					times = maxLikeTimes
				}
				if err := d.API.SendLike(ctx, target, times); err != nil {
					return "", err
				}
				return fmt.Sprintf("已给 %s 点赞 %d 次", displayName(d, inv.GroupID, target), times), nil
			},
		},
		{
			Name:        "poke",
			Aliases:     []string{"戳"},
			Usage:       "@成员",
			Description: "戳一戳",
			Run: func(ctx context.Context, d *Deps, inv *Invocation) (string, error) {
				target, _, ok := inv.Target()
				if !ok {
					return "", ErrMissingArgument
				}
				if err := d.API.Poke(ctx, inv.GroupID, target); err != nil {
					return "", err
				}
				return fmt.Sprintf("已戳了戳 %s", displayName(d, inv.GroupID, target)), nil
			},
		},
		{
			Name:        "cleancache",
			Aliases:     []string{"清理缓存"},
			Description: "清理网关缓存和成员缓存",
			Run: func(ctx context.Context, d *Deps, inv *Invocation) (string, error) {
				if d.Members != nil {
					d.Members.Clear()
				}
				if err := d.API.CleanCache(ctx); err != nil {
					return "", err
				}
				return "缓存已清理", nil
			},
		},
		{
			Name:        "groupname",
			Aliases:     []string{"改群名"},
			Usage:       "新群名",
			Description: "修改群名称",
			Scope:       ScopeGroup,
			Run: func(ctx context.Context, d *Deps, inv *Invocation) (string, error) {
				if inv.Rest == "" {
					return "", ErrMissingArgument
				}
				if err := d.API.SetGroupName(ctx, inv.GroupID, inv.Rest); err != nil {
					return "", err
				}
				return "群名已改为 " + inv.Rest, nil
			},
		},
	}
}

package onebot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Caller is the part of a Transport the typed helpers need.
type Caller interface {
	SendRequest(ctx context.Context, action string, params any) (json.RawMessage, error)
	SendFireAndForget(ctx context.Context, action string, params any) error
}

// API wraps a Caller with typed gateway actions.
type API struct {
	c Caller
}

func NewAPI(c Caller) *API {
	return &API{c: c}
}

// Call is a correlated call with no typed result.
func (a *API) Call(ctx context.Context, action string, params any) (json.RawMessage, error) {
	return a.c.SendRequest(ctx, action, params)
}

// CallFirst tries each action name in order and returns the first success.
// Gateways disagree on names for several extensions, so rejections move on
// to the next name while delivery failures stop immediately.
func (a *API) CallFirst(ctx context.Context, actions []string, params any) (json.RawMessage, error) {
	var errs []error
	for _, action := range actions {
		data, err := a.c.SendRequest(ctx, action, params)
		if err == nil {
			return data, nil
		}
		errs = append(errs, err)
		var actionErr *ActionError
		if !errors.As(err, &actionErr) {
			break
		}
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("no actions given")
	}
	return nil, errors.Join(errs...)
}

type LoginInfo struct {
	UserID   int64
	Nickname string
}

func (a *API) GetLoginInfo(ctx context.Context) (LoginInfo, error) {
	data, err := a.c.SendRequest(ctx, "get_login_info", nil)
	if err != nil {
		return LoginInfo{}, err
	}
	var raw struct {
		UserID   json.RawMessage `json:"user_id"`
		Nickname string          `json:"nickname"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return LoginInfo{}, fmt.Errorf("decode get_login_info: %w", err)
	}
	return LoginInfo{UserID: int64Field(raw.UserID), Nickname: raw.Nickname}, nil
}

// FetchedMessage is a message looked up by id.
type FetchedMessage struct {
	MessageID  string
	Time       int64
	Sender     Sender
	Segments   []Segment
	RawMessage string
}

func (a *API) GetMsg(ctx context.Context, messageID string) (*FetchedMessage, error) {
	data, err := a.c.SendRequest(ctx, "get_msg", map[string]any{"message_id": messageIDParam(messageID)})
	if err != nil {
		return nil, err
	}
	var raw struct {
		MessageID  json.RawMessage `json:"message_id"`
		Time       json.RawMessage `json:"time"`
		Sender     rawSender       `json:"sender"`
		Message    json.RawMessage `json:"message"`
		RawMessage string          `json:"raw_message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode get_msg: %w", err)
	}
	return &FetchedMessage{
		MessageID: parseJSONString(raw.MessageID),
		Time:      int64Field(raw.Time),
		Sender: Sender{
			UserID:   int64Field(raw.Sender.UserID),
			Nickname: raw.Sender.Nickname,
			Card:     raw.Sender.Card,
			Role:     raw.Sender.Role,
		},
		Segments:   ParseSegments(raw.Message, raw.RawMessage),
		RawMessage: raw.RawMessage,
	}, nil
}

// ForwardNode is one message inside a merged forward.
type ForwardNode struct {
	Sender   Sender
	Time     int64
	Segments []Segment
}

func (a *API) GetForwardMsg(ctx context.Context, id string) ([]ForwardNode, error) {
	data, err := a.c.SendRequest(ctx, "get_forward_msg", map[string]any{"id": id, "message_id": id})
	if err != nil {
		return nil, err
	}
	var raw struct {
		Messages []struct {
			Sender  rawSender       `json:"sender"`
			Time    json.RawMessage `json:"time"`
			Content json.RawMessage `json:"content"`
			Message json.RawMessage `json:"message"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode get_forward_msg: %w", err)
	}

	nodes := make([]ForwardNode, 0, len(raw.Messages))
	for _, m := range raw.Messages {
		body := m.Content
		if len(body) == 0 || string(body) == "null" {
			body = m.Message
		}
		nodes = append(nodes, ForwardNode{
			Sender: Sender{
				UserID:   int64Field(m.Sender.UserID),
				Nickname: m.Sender.Nickname,
				Card:     m.Sender.Card,
			},
			Time:     int64Field(m.Time),
			Segments: ParseSegments(body, ""),
		})
	}
	return nodes, nil
}

type Member struct {
	UserID   int64
	Nickname string
	Card     string
	Role     string
}

// DisplayName prefers the group card over the nickname.
func (m Member) DisplayName() string {
	return Sender{UserID: m.UserID, Nickname: m.Nickname, Card: m.Card}.DisplayName()
}

func (a *API) GetGroupMemberList(ctx context.Context, groupID int64) ([]Member, error) {
	data, err := a.c.SendRequest(ctx, "get_group_member_list", map[string]any{"group_id": groupID})
	if err != nil {
		return nil, err
	}
	var raw []rawSender
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode get_group_member_list: %w", err)
	}
	members := make([]Member, 0, len(raw))
	for _, m := range raw {
		members = append(members, Member{
			UserID:   int64Field(m.UserID),
			Nickname: m.Nickname,
			Card:     m.Card,
			Role:     m.Role,
		})
	}
	return members, nil
}

type Guild struct {
	GuildID   string
	GuildName string
}

func (a *API) GetGuildList(ctx context.Context) ([]Guild, error) {
	data, err := a.CallFirst(ctx, []string{"get_guild_list", "get_guilds"}, nil)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		GuildID   json.RawMessage `json:"guild_id"`
		GuildName string          `json:"guild_name"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode guild list: %w", err)
	}
	guilds := make([]Guild, 0, len(raw))
	for _, g := range raw {
		guilds = append(guilds, Guild{GuildID: parseJSONString(g.GuildID), GuildName: g.GuildName})
	}
	return guilds, nil
}

// SendMessage delivers segments to a target without waiting for the gateway.
func (a *API) SendMessage(ctx context.Context, target Target, message []Segment) error {
	switch target.Kind {
	case TargetGroup:
		return a.c.SendFireAndForget(ctx, "send_group_msg", map[string]any{
			"group_id": target.ID,
			"message":  message,
		})
	case TargetGuild:
		return a.c.SendFireAndForget(ctx, "send_guild_channel_msg", map[string]any{
			"guild_id":   target.GuildID,
			"channel_id": target.ChannelID,
			"message":    message,
		})
	default:
		return a.c.SendFireAndForget(ctx, "send_private_msg", map[string]any{
			"user_id": target.ID,
			"message": message,
		})
	}
}

// SetMsgEmojiLike adds or removes an emoji reaction on a message.
func (a *API) SetMsgEmojiLike(ctx context.Context, messageID, emojiID string, set bool) error {
	return a.c.SendFireAndForget(ctx, "set_msg_emoji_like", map[string]any{
		"message_id": messageIDParam(messageID),
		"emoji_id":   emojiID,
		"set":        set,
	})
}

// MarkRead acknowledges a chat so the gateway stops counting it as unread.
func (a *API) MarkRead(ctx context.Context, target Target) error {
	switch target.Kind {
	case TargetGroup:
		return a.c.SendFireAndForget(ctx, "mark_group_msg_as_read", map[string]any{"group_id": target.ID})
	case TargetPrivate:
		return a.c.SendFireAndForget(ctx, "mark_private_msg_as_read", map[string]any{"user_id": target.ID})
	default:
		return nil
	}
}

// OCRImage returns the recognized lines of an image joined by spaces.
func (a *API) OCRImage(ctx context.Context, image string) (string, error) {
	data, err := a.CallFirst(ctx, []string{"ocr_image", ".ocr_image"}, map[string]any{"image": image})
	if err != nil {
		return "", err
	}
	var raw struct {
		Texts []struct {
			Text string `json:"text"`
		} `json:"texts"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		var list []struct {
			Text string `json:"text"`
		}
		if err2 := json.Unmarshal(data, &list); err2 != nil {
			return "", fmt.Errorf("decode ocr_image: %w", err)
		}
		raw.Texts = list
	}
	lines := make([]string, 0, len(raw.Texts))
	for _, t := range raw.Texts {
		if s := strings.TrimSpace(t.Text); s != "" {
			lines = append(lines, s)
		}
	}
	return strings.Join(lines, " "), nil
}

// CheckURLSafely returns the gateway's risk level for url; 3 means unsafe.
func (a *API) CheckURLSafely(ctx context.Context, url string) (int, error) {
	data, err := a.c.SendRequest(ctx, "check_url_safely", map[string]any{"url": url})
	if err != nil {
		return 0, err
	}
	var raw struct {
		Level json.RawMessage `json:"level"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return 0, fmt.Errorf("decode check_url_safely: %w", err)
	}
	return int(int64Field(raw.Level)), nil
}

func (a *API) UploadGroupFile(ctx context.Context, groupID int64, file, name string) error {
	_, err := a.c.SendRequest(ctx, "upload_group_file", map[string]any{
		"group_id": groupID,
		"file":     file,
		"name":     name,
	})
	return err
}

func (a *API) UploadPrivateFile(ctx context.Context, userID int64, file, name string) error {
	_, err := a.c.SendRequest(ctx, "upload_private_file", map[string]any{
		"user_id": userID,
		"file":    file,
		"name":    name,
	})
	return err
}

// SendGroupAIRecord asks the gateway to speak text in a group with a voice character.
func (a *API) SendGroupAIRecord(ctx context.Context, groupID int64, character, text string) error {
	_, err := a.c.SendRequest(ctx, "send_group_ai_record", map[string]any{
		"group_id":  groupID,
		"character": character,
		"text":      text,
	})
	return err
}

func (a *API) SetGroupBan(ctx context.Context, groupID, userID int64, seconds int64) error {
	_, err := a.c.SendRequest(ctx, "set_group_ban", map[string]any{
		"group_id": groupID,
		"user_id":  userID,
		"duration": seconds,
	})
	return err
}

func (a *API) SetGroupKick(ctx context.Context, groupID, userID int64, rejectAddRequest bool) error {
	_, err := a.c.SendRequest(ctx, "set_group_kick", map[string]any{
		"group_id":           groupID,
		"user_id":            userID,
		"reject_add_request": rejectAddRequest,
	})
	return err
}

func (a *API) SetGroupWholeBan(ctx context.Context, groupID int64, enable bool) error {
	_, err := a.c.SendRequest(ctx, "set_group_whole_ban", map[string]any{
		"group_id": groupID,
		"enable":   enable,
	})
	return err
}

func (a *API) SetGroupCard(ctx context.Context, groupID, userID int64, card string) error {
	_, err := a.c.SendRequest(ctx, "set_group_card", map[string]any{
		"group_id": groupID,
		"user_id":  userID,
		"card":     card,
	})
	return err
}

func (a *API) SetGroupSpecialTitle(ctx context.Context, groupID, userID int64, title string) error {
	_, err := a.c.SendRequest(ctx, "set_group_special_title", map[string]any{
		"group_id":      groupID,
		"user_id":       userID,
		"special_title": title,
		"duration":      -1,
	})
	return err
}

func (a *API) SetGroupName(ctx context.Context, groupID int64, name string) error {
	_, err := a.c.SendRequest(ctx, "set_group_name", map[string]any{
		"group_id":   groupID,
		"group_name": name,
	})
	return err
}

func (a *API) SetEssenceMsg(ctx context.Context, messageID string) error {
	_, err := a.c.SendRequest(ctx, "set_essence_msg", map[string]any{"message_id": messageIDParam(messageID)})
	return err
}

func (a *API) DeleteEssenceMsg(ctx context.Context, messageID string) error {
	_, err := a.c.SendRequest(ctx, "delete_essence_msg", map[string]any{"message_id": messageIDParam(messageID)})
	return err
}

func (a *API) DeleteMsg(ctx context.Context, messageID string) error {
	_, err := a.c.SendRequest(ctx, "delete_msg", map[string]any{"message_id": messageIDParam(messageID)})
	return err
}

// HonorEntry is one holder of a group honor.
type HonorEntry struct {
	UserID      int64
	Nickname    string
	Description string
}

// GetGroupHonorInfo returns the current talkative holder followed by the
// other listed honor holders.
func (a *API) GetGroupHonorInfo(ctx context.Context, groupID int64, honorType string) ([]HonorEntry, error) {
	if honorType == "" {
		honorType = "all"
	}
	data, err := a.c.SendRequest(ctx, "get_group_honor_info", map[string]any{
		"group_id": groupID,
		"type":     honorType,
	})
	if err != nil {
		return nil, err
	}

	type rawHonor struct {
		UserID      json.RawMessage `json:"user_id"`
		Nickname    string          `json:"nickname"`
		Description string          `json:"description"`
	}
	var raw struct {
		CurrentTalkative *rawHonor `json:"current_talkative"`
		TalkativeList    []rawHonor `json:"talkative_list"`
		PerformerList    []rawHonor `json:"performer_list"`
		LegendList       []rawHonor `json:"legend_list"`
		StrongNewbieList []rawHonor `json:"strong_newbie_list"`
		EmotionList      []rawHonor `json:"emotion_list"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode get_group_honor_info: %w", err)
	}

	var entries []HonorEntry
	add := func(h rawHonor, fallback string) {
		desc := h.Description
		if desc == "" {
			desc = fallback
		}
		entries = append(entries, HonorEntry{UserID: int64Field(h.UserID), Nickname: h.Nickname, Description: desc})
	}
	if raw.CurrentTalkative != nil && len(raw.CurrentTalkative.UserID) > 0 {
		add(*raw.CurrentTalkative, "龙王")
	}
	for _, list := range []struct {
		items []rawHonor
		label string
	}{
		{raw.TalkativeList, "历史龙王"},
		{raw.PerformerList, "群聊之火"},
		{raw.LegendList, "群聊炽焰"},
		{raw.StrongNewbieList, "冒尖小春笋"},
		{raw.EmotionList, "快乐之源"},
	} {
		for _, h := range list.items {
			add(h, list.label)
		}
	}
	return entries, nil
}

func (a *API) GroupSignIn(ctx context.Context, groupID int64) error {
	_, err := a.CallFirst(ctx, []string{"send_group_sign_in", "set_group_sign"}, map[string]any{"group_id": groupID})
	return err
}

func (a *API) SendLike(ctx context.Context, userID int64, times int) error {
	if times <= 0 {
		times = 1
	}
	_, err := a.c.SendRequest(ctx, "send_like", map[string]any{
		"user_id": userID,
		"times":   times,
	})
	return err
}

// Poke nudges a user in a group, or privately when groupID is zero.
func (a *API) Poke(ctx context.Context, groupID, userID int64) error {
	if groupID > 0 {
		_, err := a.CallFirst(ctx, []string{"group_poke", "send_poke"}, map[string]any{
			"group_id": groupID,
			"user_id":  userID,
		})
		return err
	}
	_, err := a.CallFirst(ctx, []string{"friend_poke", "send_poke"}, map[string]any{"user_id": userID})
	return err
}

func (a *API) CleanCache(ctx context.Context) error {
	_, err := a.c.SendRequest(ctx, "clean_cache", nil)
	return err
}

func (a *API) SetFriendAddRequest(ctx context.Context, flag string, approve bool, remark string) error {
	_, err := a.c.SendRequest(ctx, "set_friend_add_request", map[string]any{
		"flag":    flag,
		"approve": approve,
		"remark":  remark,
	})
	return err
}

func (a *API) SetGroupAddRequest(ctx context.Context, flag, subType string, approve bool, reason string) error {
	_, err := a.c.SendRequest(ctx, "set_group_add_request", map[string]any{
		"flag":     flag,
		"sub_type": subType,
		"approve":  approve,
		"reason":   reason,
	})
	return err
}

type StatusInfo struct {
	Online bool
	Good   bool
}

func (a *API) GetStatus(ctx context.Context) (StatusInfo, error) {
	data, err := a.c.SendRequest(ctx, "get_status", nil)
	if err != nil {
		return StatusInfo{}, err
	}
	var raw struct {
		Online bool `json:"online"`
		Good   bool `json:"good"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return StatusInfo{}, fmt.Errorf("decode get_status: %w", err)
	}
	return StatusInfo{Online: raw.Online, Good: raw.Good}, nil
}

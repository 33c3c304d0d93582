package channels

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zhufengning/qqclaw/pkg/bus"
	"github.com/zhufengning/qqclaw/pkg/cache"
	"github.com/zhufengning/qqclaw/pkg/commands"
	"github.com/zhufengning/qqclaw/pkg/config"
	"github.com/zhufengning/qqclaw/pkg/logger"
	"github.com/zhufengning/qqclaw/pkg/onebot"
	"github.com/zhufengning/qqclaw/pkg/reaction"
	"github.com/zhufengning/qqclaw/pkg/utils"
)

// Gateway is the part of an onebot.Transport the channel drives.
type Gateway interface {
	onebot.Caller
	Connect(ctx context.Context) error
	Disconnect()
	NextEvent(ctx context.Context) (onebot.Event, error)
	OnConnect(fn func(ctx context.Context))
	SelfID() int64
	SetSelfID(id int64)
	IsConnected() bool
	State() onebot.State
}

// SessionRecorder stores inbound turns for the reply pipeline's history.
type SessionRecorder interface {
	RecordInbound(sessionKey, senderID, senderName, content string)
}

// ChannelName returns the bus channel name of an account.
func ChannelName(accountID string) string {
	if accountID == "" || accountID == config.DefaultAccountID {
		return "onebot"
	}
	return "onebot:" + accountID
}

type OneBotChannel struct {
	*BaseChannel
	accountID string
	config    config.OneBotConfig
	gateway   Gateway
	api       *onebot.API
	members   *cache.MemberDirectory
	dedup     *cache.DedupWindow
	reacted   *cache.DedupWindow
	commands  *commands.Registry
	sessions  SessionRecorder
	reactions reaction.Mode

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex

	nowFunc  func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	readFile func(path string) ([]byte, error)
}

// NewOneBotChannel builds the channel of one account on top of its own
// transport.
func NewOneBotChannel(account config.AccountConfig, messageBus *bus.MessageBus, sessions SessionRecorder) (*OneBotChannel, error) {
	transport, err := NewTransport(account)
	if err != nil {
		return nil, err
	}
	return newOneBotChannel(account, messageBus, transport, sessions), nil
}

// NewTransport builds the gateway connection of one account.
func NewTransport(account config.AccountConfig) (*onebot.Transport, error) {
	cfg := account.OneBot
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("account %s: %w", account.ID, err)
	}
	return onebot.NewTransport(onebot.Options{
		Name:              nameForTransport(account.ID),
		WSURL:             cfg.WSUrl,
		HTTPURL:           cfg.HTTPUrl,
		ReverseWSPort:     cfg.ReverseWSPort,
		ReverseWSPath:     cfg.ReverseWSPath,
		AccessToken:       cfg.AccessToken,
		RequestTimeout:    cfg.RequestTimeout(),
		HeartbeatInterval: cfg.HeartbeatInterval(),
		ReconnectMax:      cfg.ReconnectMax(),
	}), nil
}

func nameForTransport(accountID string) string {
	if accountID == config.DefaultAccountID {
		return ""
	}
	return accountID
}

func newOneBotChannel(account config.AccountConfig, messageBus *bus.MessageBus, gw Gateway, sessions SessionRecorder) *OneBotChannel {
	cfg := account.OneBot
	api := onebot.NewAPI(gw)
	members := cache.NewMemberDirectory(cache.DefaultMemberTTL)

	c := &OneBotChannel{
		BaseChannel: NewBaseChannel(ChannelName(account.ID), cfg, messageBus, cfg.AllowFrom),
		accountID:   account.ID,
		config:      cfg,
		gateway:     gw,
		api:         api,
		members:     members,
		dedup:       cache.NewDedupWindow(cache.DefaultDedupLimit),
		reacted:     cache.NewDedupWindow(cache.DefaultDedupLimit),
		sessions:    sessions,
		reactions:   reaction.ParseMode(cfg.ReactionEmoji),
		nowFunc:     time.Now,
		sleep:       sleepContext,
		readFile:    readLocalFile,
	}
	c.commands = commands.NewDefaultRegistry(&commands.Deps{
		API:     api,
		Members: members,
		Features: commands.Features{
			EssenceMsg:  cfg.EnableEssenceMsg,
			GroupHonor:  cfg.EnableGroupHonor,
			GroupSignIn: cfg.EnableGroupSignIn,
		},
	})
	return c
}

func (c *OneBotChannel) AccountID() string { return c.accountID }

func (c *OneBotChannel) Config() config.OneBotConfig { return c.config }

// API exposes the typed gateway actions of this account.
func (c *OneBotChannel) API() *onebot.API { return c.api }

func (c *OneBotChannel) Members() *cache.MemberDirectory { return c.members }

func (c *OneBotChannel) Start(ctx context.Context) error {
	logger.InfoCF(c.Name(), "Starting OneBot channel", map[string]any{
		"ws_url":          c.config.WSUrl,
		"http_url":        c.config.HTTPUrl,
		"reverse_ws_port": c.config.ReverseWSPort,
		"reactions":       c.reactions.Kind.String(),
		"commands":        c.commands.Count(),
	})

	c.mu.Lock()
	c.ctx, c.cancel = context.WithCancel(ctx)
	runCtx := c.ctx
	c.mu.Unlock()

	c.gateway.OnConnect(c.onConnect)
	if err := c.gateway.Connect(runCtx); err != nil {
		c.cancel()
		return err
	}

	c.setRunning(true)
	c.wg.Add(1)
	go c.eventLoop(runCtx)

	logger.InfoC(c.Name(), "OneBot channel started successfully")
	return nil
}

func (c *OneBotChannel) Stop(ctx context.Context) error {
	logger.InfoC(c.Name(), "Stopping OneBot channel")
	c.setRunning(false)

	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.gateway.Disconnect()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// onConnect learns the self id on every open.
func (c *OneBotChannel) onConnect(ctx context.Context) {
	info, err := c.api.GetLoginInfo(ctx)
	if err != nil {
		logger.WarnCF(c.Name(), "get_login_info failed", map[string]any{
			"error": err.Error(),
		})
		return
	}
	c.gateway.SetSelfID(info.UserID)
	logger.InfoCF(c.Name(), "Logged in", map[string]any{
		"self_id":  info.UserID,
		"nickname": info.Nickname,
	})

	if !c.config.EnableGuilds {
		return
	}
	guilds, err := c.api.GetGuildList(ctx)
	if err != nil {
		logger.WarnCF(c.Name(), "Guild list unavailable", map[string]any{
			"error": err.Error(),
		})
		return
	}
	names := make([]string, 0, len(guilds))
	for _, g := range guilds {
		names = append(names, g.GuildName)
	}
	logger.InfoCF(c.Name(), "Guilds joined", map[string]any{
		"count":  len(guilds),
		"guilds": names,
	})
}

func (c *OneBotChannel) eventLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		ev, err := c.gateway.NextEvent(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, onebot.ErrTransportClosed) {
				logger.WarnCF(c.Name(), "Event loop stopped", map[string]any{
					"error": err.Error(),
				})
			}
			return
		}
		c.dispatchEvent(ctx, ev)
	}
}

// dispatchEvent runs the ordered synchronous steps for one event and hands
// anything that needs gateway round trips to its own goroutine.
func (c *OneBotChannel) dispatchEvent(ctx context.Context, ev onebot.Event) {
	switch e := ev.(type) {
	case *onebot.MetaEvent:
		if e.MetaEventType == "lifecycle" {
			logger.InfoCF(c.Name(), "Lifecycle event", map[string]any{
				"sub_type": e.SubType,
				"self_id":  e.SelfID,
			})
		}
	case *onebot.NoticeEvent:
		c.spawn(func() { c.handleNotice(ctx, e) })
	case *onebot.RequestEvent:
		c.spawn(func() { c.handleRequest(ctx, e) })
	case *onebot.MessageEvent:
		if reason, ok := c.admit(e); !ok {
			logger.DebugCF(c.Name(), "Message dropped", map[string]any{
				"reason":     reason,
				"message_id": e.MessageID,
				"user_id":    e.UserID,
				"group_id":   e.GroupID,
			})
			return
		}
		c.spawn(func() { c.handleMessage(ctx, e) })
	}
}

func (c *OneBotChannel) spawn(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

// admit applies the policy filters that need no gateway call.
func (c *OneBotChannel) admit(e *onebot.MessageEvent) (string, bool) {
	selfID := c.selfID(e)
	if e.PostType == "message_sent" || (selfID != 0 && e.UserID == selfID) {
		return "self", false
	}
	if e.IsGuild() && !c.config.EnableGuilds {
		return "guilds disabled", false
	}
	if e.IsGuild() {
		if _, err := onebot.ParseTarget(onebot.GuildTarget(e.GuildID, e.ChannelID).String()); err != nil {
			return "unaddressable guild channel", false
		}
	}
	if c.config.EnableDeduplication && c.dedup.Seen(e.MessageID) {
		return "duplicate", false
	}
	if c.config.IsBlocked(e.UserID) {
		return "blocked user", false
	}
	if e.IsGroup() && !c.config.IsGroupAllowed(e.GroupID) {
		return "group not allowed", false
	}
	if !c.IsAllowed(strconv.FormatInt(e.UserID, 10)) {
		return "sender not allowed", false
	}
	return "", true
}

func (c *OneBotChannel) handleMessage(ctx context.Context, e *onebot.MessageEvent) {
	if e.IsGroup() {
		if err := c.members.Populate(ctx, e.GroupID, c.api); err != nil {
			logger.DebugCF(c.Name(), "Member cache population failed", map[string]any{
				"group_id": e.GroupID,
				"error":    err.Error(),
			})
		}
	}

	in := c.normalize(ctx, e)
	if !c.passesMentionGate(ctx, in) {
		logger.DebugCF(c.Name(), "Group message ignored (no mention)", map[string]any{
			"message_id": in.MessageID,
			"chat_id":    in.ChatID(),
			"content":    utils.Truncate(in.Text, 100),
		})
		return
	}

	if in.IsAdmin && in.Kind != KindGuild {
		reply, handled := c.commands.Dispatch(ctx, commands.Request{
			Text:     in.CommandText,
			Mentions: in.MentionedIDs,
			ReplyTo:  in.ReplyTo,
			SenderID: in.SenderID,
			GroupID:  in.GroupID,
			IsAdmin:  in.IsAdmin,
			IsGuild:  in.Kind == KindGuild,
		})
		if handled {
			if reply != "" {
				if err := c.deliver(ctx, in.Target(), reply, nil, 0); err != nil {
					logger.WarnCF(c.Name(), "Failed to send command reply", map[string]any{
						"error": err.Error(),
					})
				}
			}
			return
		}
	}

	if strings.TrimSpace(in.Text) == "" && len(in.Media) == 0 {
		logger.DebugCF(c.Name(), "Received empty message, ignoring", map[string]any{
			"message_id": in.MessageID,
		})
		return
	}

	c.reactOnReceipt(ctx, in)
	if c.config.AutoMarkRead {
		if err := c.api.MarkRead(ctx, in.Target()); err != nil {
			logger.DebugCF(c.Name(), "Mark read failed", map[string]any{
				"error": err.Error(),
			})
		}
	}

	msg := c.inboundMessage(in)
	if c.sessions != nil {
		c.sessions.RecordInbound(msg.SessionKey, msg.SenderID, msg.SenderName, msg.Content)
	}

	logger.InfoCF(c.Name(), "Received message", map[string]any{
		"chat_id":      msg.ChatID,
		"sender":       msg.SenderID,
		"message_id":   in.MessageID,
		"is_mentioned": in.Mentioned,
		"content":      utils.Truncate(in.Text, 100),
	})
	c.HandleMessage(ctx, msg)
}

// inboundMessage maps the canonical event onto the bus message handed to
// the reply pipeline.
func (c *OneBotChannel) inboundMessage(in *InboundEvent) bus.InboundMessage {
	chatID := in.ChatID()
	metadata := map[string]string{
		"account_id": c.accountID,
		"chat_type":  string(in.Kind),
		"raw":        in.RawText,
	}
	if in.ReplyTo != "" {
		metadata["reply_to"] = in.ReplyTo
	}
	if in.IsAdmin {
		metadata["is_admin"] = "true"
	}
	if in.GroupID != 0 {
		metadata["group_id"] = strconv.FormatInt(in.GroupID, 10)
	}
	if c.config.SystemPrompt != "" {
		metadata["system_prompt"] = c.config.SystemPrompt
	}
	if c.reactions.Kind == reaction.ModeAuto {
		metadata["reaction_instruction"] = reaction.Instruction
	}
	if c.config.HistoryLimit > 0 {
		metadata["history_limit"] = strconv.Itoa(c.config.HistoryLimit)
	}

	return bus.InboundMessage{
		Channel:    c.Name(),
		AccountID:  c.accountID,
		SenderID:   strconv.FormatInt(in.SenderID, 10),
		SenderName: in.SenderName,
		ChatID:     chatID,
		Content:    in.Text,
		Media:      in.Media,
		Peer:       bus.Peer{Kind: string(in.Kind), ID: chatID},
		MessageID:  in.MessageID,
		SessionKey: c.Name() + ":" + chatID,
		Timestamp:  in.Timestamp.UnixMilli(),
		Metadata:   metadata,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zhufengning/qqclaw/pkg/bus"
	"github.com/zhufengning/qqclaw/pkg/config"
	"github.com/zhufengning/qqclaw/pkg/logger"
	"github.com/zhufengning/qqclaw/pkg/session"
	"github.com/zhufengning/qqclaw/pkg/utils"
)

const (
	defaultWorkers      = 4
	defaultHistoryLimit = 5
)

var errNoWebhook = errors.New("relay webhook_url is not configured")

// RelayLoop hands every inbound message to an external reply webhook and
// publishes what comes back.
type RelayLoop struct {
	bus      *bus.MessageBus
	client   *resty.Client
	sessions *session.SessionManager
	webhook  string
	workers  int
	running  atomic.Bool
}

// HistoryEntry is one prior turn sent along with a relay request.
type HistoryEntry struct {
	Role       string `json:"role"`
	SenderID   string `json:"sender_id,omitempty"`
	SenderName string `json:"sender_name,omitempty"`
	Content    string `json:"content"`
	Time       int64  `json:"time"`
}

// RelayRequest is the JSON body POSTed to the webhook.
type RelayRequest struct {
	RequestID  string            `json:"request_id"`
	Channel    string            `json:"channel"`
	AccountID  string            `json:"account_id"`
	ChatID     string            `json:"chat_id"`
	ChatType   string            `json:"chat_type"`
	SenderID   string            `json:"sender_id"`
	SenderName string            `json:"sender_name,omitempty"`
	MessageID  string            `json:"message_id,omitempty"`
	Content    string            `json:"content"`
	Media      []string          `json:"media,omitempty"`
	SessionKey string            `json:"session_key"`
	Timestamp  int64             `json:"timestamp"`
	System     string            `json:"system,omitempty"`
	History    []HistoryEntry    `json:"history"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// RelayResponse is what the webhook answers with. Every field is optional.
type RelayResponse struct {
	Reply    string   `json:"reply"`
	Reaction string   `json:"reaction,omitempty"`
	Media    []string `json:"media,omitempty"`
}

func NewRelayLoop(cfg *config.Config, msgBus *bus.MessageBus, sessions *session.SessionManager) *RelayLoop {
	timeout := time.Duration(cfg.Relay.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.Relay.Token != "" {
		client.SetAuthToken(cfg.Relay.Token)
	}

	return &RelayLoop{
		bus:      msgBus,
		client:   client,
		sessions: sessions,
		webhook:  strings.TrimSpace(cfg.Relay.WebhookURL),
		workers:  defaultWorkers,
	}
}

// Run consumes inbound messages until ctx is done or the bus closes.
// Messages are relayed concurrently with a small worker limit.
func (rl *RelayLoop) Run(ctx context.Context) error {
	rl.running.Store(true)
	defer rl.running.Store(false)

	if rl.webhook == "" {
		logger.WarnC("agent", "No relay webhook configured, inbound messages are recorded only")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rl.workers)

	for rl.running.Load() {
		msg, ok := rl.bus.ConsumeInbound(ctx)
		if !ok {
			break
		}
		g.Go(func() error {
			rl.handle(gctx, msg)
			return nil
		})
	}

	return g.Wait()
}

func (rl *RelayLoop) Stop() {
	rl.running.Store(false)
}

func (rl *RelayLoop) IsRunning() bool {
	return rl.running.Load()
}

func (rl *RelayLoop) handle(ctx context.Context, msg bus.InboundMessage) {
	if rl.webhook == "" {
		logger.DebugCF("agent", "Inbound message not relayed", map[string]any{
			"chat_id": msg.ChatID,
		})
		return
	}

	resp, err := rl.processMessage(ctx, msg)
	out := bus.OutboundMessage{
		Channel:     msg.Channel,
		ChatID:      msg.ChatID,
		ReplyTo:     msg.MessageID,
		ReplyToUser: msg.SenderID,
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.ErrorCF("agent", "Relay failed", map[string]any{
			"chat_id": msg.ChatID,
			"error":   err.Error(),
		})
		out.Error = err.Error()
	} else {
		if resp.Reply == "" && resp.Reaction == "" && len(resp.Media) == 0 {
			return
		}
		out.Content = resp.Reply
		out.Reaction = resp.Reaction
		out.Media = resp.Media
	}

	if err := rl.bus.PublishOutbound(ctx, out); err != nil {
		logger.WarnCF("agent", "Failed to publish reply", map[string]any{
			"chat_id": msg.ChatID,
			"error":   err.Error(),
		})
	}
}

// ProcessDirect relays one message outside the bus and returns the reply.
func (rl *RelayLoop) ProcessDirect(ctx context.Context, msg bus.InboundMessage) (string, error) {
	resp, err := rl.processMessage(ctx, msg)
	if err != nil {
		return "", err
	}
	return resp.Reply, nil
}

func (rl *RelayLoop) processMessage(ctx context.Context, msg bus.InboundMessage) (RelayResponse, error) {
	if rl.webhook == "" {
		return RelayResponse{}, errNoWebhook
	}

	preview := utils.Truncate(msg.Content, 80)
	logger.InfoCF("agent", fmt.Sprintf("Relaying message from %s:%s: %s", msg.Channel, msg.SenderID, preview),
		map[string]any{
			"channel":     msg.Channel,
			"chat_id":     msg.ChatID,
			"sender_id":   msg.SenderID,
			"session_key": msg.SessionKey,
		})

	req := rl.buildRequest(msg)
	res, err := rl.client.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", req.RequestID).
		SetBody(req).
		Post(rl.webhook)
	if err != nil {
		return RelayResponse{}, fmt.Errorf("relay request: %w", err)
	}
	if res.IsError() {
		return RelayResponse{}, fmt.Errorf("relay request: status %d", res.StatusCode())
	}

	var resp RelayResponse
	if body := strings.TrimSpace(string(res.Body())); body != "" {
		if err := json.Unmarshal(res.Body(), &resp); err != nil {
			return RelayResponse{}, fmt.Errorf("relay response: %w", err)
		}
	}

	if resp.Reply != "" && rl.sessions != nil && msg.SessionKey != "" {
		rl.sessions.AddMessage(msg.SessionKey, "assistant", resp.Reply)
		if err := rl.sessions.Save(msg.SessionKey); err != nil {
			logger.WarnCF("agent", "Failed to save session", map[string]any{
				"session_key": msg.SessionKey,
				"error":       err.Error(),
			})
		}
	}

	logger.InfoCF("agent", "Relay replied", map[string]any{
		"chat_id":    msg.ChatID,
		"reply_len":  len(resp.Reply),
		"reaction":   resp.Reaction,
		"media":      len(resp.Media),
		"request_id": req.RequestID,
	})
	return resp, nil
}

// buildRequest assembles the webhook body. History holds the turns before
// this message; the channel has already recorded the message itself.
func (rl *RelayLoop) buildRequest(msg bus.InboundMessage) RelayRequest {
	limit := defaultHistoryLimit
	if v, err := strconv.Atoi(msg.Metadata["history_limit"]); err == nil && v > 0 {
		limit = v
	}

	history := []HistoryEntry{}
	if rl.sessions != nil && msg.SessionKey != "" {
		turns := rl.sessions.GetHistory(msg.SessionKey, limit+1)
		if n := len(turns); n > 0 && turns[n-1].Role == "user" && turns[n-1].Content == msg.Content {
			turns = turns[:n-1]
		}
		if len(turns) > limit {
			turns = turns[len(turns)-limit:]
		}
		for _, t := range turns {
			history = append(history, HistoryEntry{
				Role:       t.Role,
				SenderID:   t.SenderID,
				SenderName: t.SenderName,
				Content:    t.Content,
				Time:       t.Time.UnixMilli(),
			})
		}
	}

	return RelayRequest{
		RequestID:  uuid.NewString(),
		Channel:    msg.Channel,
		AccountID:  msg.AccountID,
		ChatID:     msg.ChatID,
		ChatType:   msg.Peer.Kind,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		MessageID:  msg.MessageID,
		Content:    msg.Content,
		Media:      msg.Media,
		SessionKey: msg.SessionKey,
		Timestamp:  msg.Timestamp,
		System:     systemBlock(msg.Metadata),
		History:    history,
		Metadata:   msg.Metadata,
	}
}

// systemBlock joins the configured system prompt and the reaction
// instruction.
func systemBlock(metadata map[string]string) string {
	var parts []string
	if p := strings.TrimSpace(metadata["system_prompt"]); p != "" {
		parts = append(parts, p)
	}
	if p := strings.TrimSpace(metadata["reaction_instruction"]); p != "" {
		parts = append(parts, p)
	}
	return strings.Join(parts, "\n\n")
}

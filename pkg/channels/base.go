package channels

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/zhufengning/qqclaw/pkg/bus"
	"github.com/zhufengning/qqclaw/pkg/logger"
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
	IsAllowed(senderID string) bool
}

type BaseChannel struct {
	config    any
	bus       *bus.MessageBus
	running   atomic.Bool
	name      string
	allowList []string
}

func NewBaseChannel(name string, config any, bus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{
		config:    config,
		bus:       bus,
		name:      name,
		allowList: allowList,
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

// IsAllowed reports whether senderID passes the allow list. An empty list
// allows everyone; entries may carry a "private:" prefix.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}
	for _, allowed := range c.allowList {
		allowed = strings.TrimPrefix(strings.TrimSpace(allowed), "private:")
		if allowed == senderID {
			return true
		}
	}
	return false
}

// HandleMessage publishes an inbound message to the bus.
func (c *BaseChannel) HandleMessage(ctx context.Context, msg bus.InboundMessage) {
	msg.Channel = c.name
	if err := c.bus.PublishInbound(ctx, msg); err != nil {
		logger.WarnCF(c.name, "Failed to publish inbound message", map[string]any{
			"chat_id": msg.ChatID,
			"error":   err.Error(),
		})
	}
}

func (c *BaseChannel) setRunning(running bool) {
	c.running.Store(running)
}

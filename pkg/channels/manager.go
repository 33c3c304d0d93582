// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package channels

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/zhufengning/qqclaw/pkg/bus"
	"github.com/zhufengning/qqclaw/pkg/config"
	"github.com/zhufengning/qqclaw/pkg/logger"
)

type Manager struct {
	channels     map[string]Channel
	bus          *bus.MessageBus
	config       *config.Config
	sessions     SessionRecorder
	dispatchTask *asyncTask
	mu           sync.RWMutex
}

type asyncTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(cfg *config.Config, messageBus *bus.MessageBus, sessions SessionRecorder) (*Manager, error) {
	m := &Manager{
		channels: make(map[string]Channel),
		bus:      messageBus,
		config:   cfg,
		sessions: sessions,
	}

	if err := m.initChannels(); err != nil {
		return nil, err
	}

	return m, nil
}

// initChannels builds one OneBot channel per enabled account. A broken
// account is logged and skipped so the others still come up.
func (m *Manager) initChannels() error {
	logger.InfoC("channels", "Initializing channel manager")

	accounts, err := m.config.ResolveAccounts()
	if err != nil {
		return err
	}

	for _, account := range accounts {
		if !account.OneBot.Enabled {
			continue
		}
		name := ChannelName(account.ID)
		logger.DebugCF("channels", "Attempting to initialize OneBot channel", map[string]any{
			"account": account.ID,
		})
		ch, err := NewOneBotChannel(account, m.bus, m.sessions)
		if err != nil {
			logger.ErrorCF("channels", "Failed to initialize OneBot channel", map[string]any{
				"account": account.ID,
				"error":   err.Error(),
			})
			continue
		}
		m.RegisterChannel(name, ch)
		logger.InfoCF("channels", "OneBot channel enabled successfully", map[string]any{
			"channel": name,
		})
	}

	logger.InfoCF("channels", "Channel initialization completed", map[string]any{
		"enabled_channels": len(m.channels),
	})

	return nil
}

func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.channels) == 0 {
		logger.WarnC("channels", "No channels enabled")
		return nil
	}

	logger.InfoC("channels", "Starting all channels")

	dispatchCtx, cancel := context.WithCancel(ctx)
	task := &asyncTask{cancel: cancel, done: make(chan struct{})}
	m.dispatchTask = task

	go func() {
		defer close(task.done)
		m.dispatchOutbound(dispatchCtx)
	}()

	for name, channel := range m.channels {
		logger.InfoCF("channels", "Starting channel", map[string]any{
			"channel": name,
		})
		if err := channel.Start(ctx); err != nil {
			logger.ErrorCF("channels", "Failed to start channel", map[string]any{
				"channel": name,
				"error":   err.Error(),
			})
		}
	}

	logger.InfoC("channels", "All channels started")
	return nil
}

func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	logger.InfoC("channels", "Stopping all channels")

	if m.dispatchTask != nil {
		m.dispatchTask.cancel()
		select {
		case <-m.dispatchTask.done:
		case <-ctx.Done():
		}
		m.dispatchTask = nil
	}

	for name, channel := range m.channels {
		logger.InfoCF("channels", "Stopping channel", map[string]any{
			"channel": name,
		})
		if err := channel.Stop(ctx); err != nil {
			logger.ErrorCF("channels", "Error stopping channel", map[string]any{
				"channel": name,
				"error":   err.Error(),
			})
		}
	}

	logger.InfoC("channels", "All channels stopped")
	return nil
}

func (m *Manager) dispatchOutbound(ctx context.Context) {
	logger.InfoC("channels", "Outbound dispatcher started")

	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			logger.InfoC("channels", "Outbound dispatcher stopped")
			return
		}

		m.mu.RLock()
		channel, exists := m.channels[msg.Channel]
		m.mu.RUnlock()

		if !exists {
			logger.WarnCF("channels", "Unknown channel for outbound message", map[string]any{
				"channel": msg.Channel,
			})
			continue
		}

		if err := channel.Send(ctx, msg); err != nil {
			logger.ErrorCF("channels", "Error sending message to channel", map[string]any{
				"channel": msg.Channel,
				"error":   err.Error(),
			})
		}
	}
}

func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	channel, ok := m.channels[name]
	return channel, ok
}

// OneBotChannels returns the OneBot channels ordered by name.
func (m *Manager) OneBotChannels() []*OneBotChannel {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*OneBotChannel, 0, len(m.channels))
	for _, channel := range m.channels {
		if ob, ok := channel.(*OneBotChannel); ok {
			out = append(out, ob)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func (m *Manager) GetStatus() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]any)
	for name, channel := range m.channels {
		entry := map[string]any{
			"enabled": true,
			"running": channel.IsRunning(),
		}
		if ob, ok := channel.(*OneBotChannel); ok {
			entry["account_id"] = ob.AccountID()
			entry["state"] = ob.gateway.State().String()
			entry["self_id"] = ob.gateway.SelfID()
		}
		status[name] = entry
	}
	return status
}

func (m *Manager) GetEnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) RegisterChannel(name string, channel Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[name] = channel
}

func (m *Manager) SendToChannel(ctx context.Context, channelName, chatID, content string) error {
	channel, exists := m.GetChannel(channelName)
	if !exists {
		return fmt.Errorf("channel %s not found", channelName)
	}

	if ob, ok := channel.(*OneBotChannel); ok {
		return ob.SendText(ctx, chatID, content)
	}

	msg := bus.OutboundMessage{
		Channel: channelName,
		ChatID:  chatID,
		Content: content,
	}

	return channel.Send(ctx, msg)
}

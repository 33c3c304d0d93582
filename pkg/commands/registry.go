package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zhufengning/qqclaw/pkg/cache"
	"github.com/zhufengning/qqclaw/pkg/logger"
	"github.com/zhufengning/qqclaw/pkg/onebot"
)

// ErrMissingArgument makes a command a silent no-op when a required target
// or value could not be resolved from partial input.
var ErrMissingArgument = errors.New("missing command argument")

type Scope int

const (
	ScopeAny Scope = iota
	ScopeGroup
)

// Features gates the optional commands.
type Features struct {
	EssenceMsg  bool
	GroupHonor  bool
	GroupSignIn bool
}

// Deps is what commands act through.
type Deps struct {
	API      *onebot.API
	Members  *cache.MemberDirectory
	Features Features
}

type Command struct {
	Name        string
	Aliases     []string
	Usage       string
	Description string
	Scope       Scope
	Run         func(ctx context.Context, d *Deps, inv *Invocation) (string, error)
}

// Request is one candidate command message.
type Request struct {
	Text     string
	Mentions []int64
	ReplyTo  string
	SenderID int64
	GroupID  int64
	IsAdmin  bool
	IsGuild  bool
}

type Registry struct {
	commands map[string]*Command
	aliases  map[string]*Command
	deps     *Deps
	mu       sync.RWMutex
}

func NewRegistry(deps *Deps) *Registry {
	return &Registry{
		commands: make(map[string]*Command),
		aliases:  make(map[string]*Command),
		deps:     deps,
	}
}

func (r *Registry) Register(cmd *Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[cmd.Name] = cmd
	for _, alias := range cmd.Aliases {
		r.aliases[alias] = cmd
	}
}

func (r *Registry) Get(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[strings.TrimPrefix(strings.ToLower(name), "/")]
	return cmd, ok
}

// List returns the registered commands sorted by name.
func (r *Registry) List() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		list = append(list, cmd)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Match resolves text to a command. A leading mention is stripped, the
// longest localized alias prefix wins, and literal /name matching is the
// fallback. It returns the argument text after the keyword.
func (r *Registry) Match(text string) (*Command, string, bool) {
	text = strings.TrimSpace(stripLeadingMentions(text))
	if text == "" {
		return nil, "", false
	}

	r.mu.RLock()
	var (
		best      *Command
		bestAlias string
	)
	for alias, cmd := range r.aliases {
		if len(alias) > len(bestAlias) && strings.HasPrefix(text, alias) && aliasBoundary(text, alias) {
			best, bestAlias = cmd, alias
		}
	}
	r.mu.RUnlock()
	if best != nil {
		return best, strings.TrimSpace(text[len(bestAlias):]), true
	}

	if !strings.HasPrefix(text, "/") {
		return nil, "", false
	}
	keyword, rest, _ := strings.Cut(text, " ")
	if cmd, ok := r.Get(keyword); ok {
		return cmd, strings.TrimSpace(rest), true
	}
	return nil, "", false
}

// aliasBoundary keeps an ASCII alias from matching the start of a longer word.
func aliasBoundary(text, alias string) bool {
	if len(text) == len(alias) {
		return true
	}
	last := alias[len(alias)-1]
	if last >= 0x80 {
		return true
	}
	next := text[len(alias)]
	return next == ' ' || next == '\t' || next == '\n' || next >= 0x80
}

// Dispatch runs a command for an admin outside guilds. handled is false
// when the message is not a command for this sender, in which case it
// should continue down the normal pipeline. reply is empty for silent
// no-ops.
func (r *Registry) Dispatch(ctx context.Context, req Request) (reply string, handled bool) {
	if !req.IsAdmin || req.IsGuild {
		return "", false
	}
	cmd, rest, ok := r.Match(req.Text)
	if !ok {
		return "", false
	}
	if cmd.Scope == ScopeGroup && req.GroupID == 0 {
		return "该命令只能在群聊中使用", true
	}

	inv := newInvocation(cmd, rest, req)
	logger.InfoCF("commands", "Command execution started", map[string]any{
		"command": cmd.Name,
		"args":    inv.Args,
		"group":   req.GroupID,
		"sender":  req.SenderID,
	})

	start := time.Now()
	reply, err := cmd.Run(ctx, r.deps, inv)
	duration := time.Since(start)

	switch {
	case errors.Is(err, ErrMissingArgument):
		logger.DebugCF("commands", "Command skipped, argument missing", map[string]any{
			"command": cmd.Name,
		})
		return "", true
	case err != nil:
		logger.ErrorCF("commands", "Command execution failed", map[string]any{
			"command":  cmd.Name,
			"duration": duration.Milliseconds(),
			"error":    err.Error(),
		})
		return failureText(err), true
	}

	logger.InfoCF("commands", "Command execution completed", map[string]any{
		"command":     cmd.Name,
		"duration_ms": duration.Milliseconds(),
	})
	return reply, true
}

func failureText(err error) string {
	var actionErr *onebot.ActionError
	if errors.As(err, &actionErr) {
		if actionErr.Message != "" {
			return "操作失败：" + actionErr.Message
		}
		return fmt.Sprintf("操作失败（错误码 %d）", actionErr.RetCode)
	}
	if errors.Is(err, onebot.ErrTimeout) {
		return "操作失败：请求超时"
	}
	if errors.Is(err, onebot.ErrNotConnected) {
		return "操作失败：未连接到网关"
	}
	return "操作失败"
}

// Help renders the command list.
func (r *Registry) Help() string {
	var b strings.Builder
	fmt.Fprintf(&b, "可用命令（%d）：", r.Count())
	for _, cmd := range r.List() {
		b.WriteString("\n/" + cmd.Name)
		if len(cmd.Aliases) > 0 {
			b.WriteString("（" + strings.Join(cmd.Aliases, "、") + "）")
		}
		if cmd.Usage != "" {
			b.WriteString(" " + cmd.Usage)
		}
		if cmd.Description != "" {
			b.WriteString(" - " + cmd.Description)
		}
	}
	return b.String()
}

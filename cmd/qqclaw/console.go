package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/zhufengning/qqclaw/pkg/bus"
	"github.com/zhufengning/qqclaw/pkg/channels"
	"github.com/zhufengning/qqclaw/pkg/config"
)

const consoleHelp = `Commands:
  send <target> <text>     send a text message (group:<id>, private:<id>, guild:<g>:<c>)
  call <action> [json]     call any OneBot action and print the result
  react <msg_id> <emoji>   add an emoji reaction (needs enable_reactions)
  status                   show connection state of every account
  help                     show this help
  quit                     leave the console`

func newConsoleCommand(configPath *string) *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Interactive OneBot console",
		Long:  "Connects every enabled account, prints the messages they accept and runs actions on one of them.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return consoleCmd(*configPath, accountID)
		},
	}
	cmd.Flags().StringVarP(&accountID, "account", "a", config.DefaultAccountID, "Account the commands act on")
	return cmd
}

// console is the state one REPL line runs against.
type console struct {
	manager *channels.Manager
	channel string
	out     io.Writer
}

func consoleCmd(configPath, accountID string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	setupLogging(cfg, false)

	msgBus := bus.NewMessageBus()
	defer msgBus.Close()
	manager, err := channels.NewManager(cfg, msgBus, nil)
	if err != nil {
		return err
	}
	name := channels.ChannelName(accountID)
	if _, ok := manager.GetChannel(name); !ok {
		return fmt.Errorf("account %q is not enabled", accountID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := manager.StartAll(ctx); err != nil {
		return fmt.Errorf("starting channels: %w", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = manager.StopAll(stopCtx)
	}()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          name + "> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".qqclaw_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	con := &console{manager: manager, channel: name, out: rl.Stdout()}
	go printInbound(ctx, msgBus, con.out)

	fmt.Fprintln(con.out, consoleHelp)
	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			return nil
		}
		if err := con.run(ctx, input); err != nil {
			fmt.Fprintf(con.out, "Error: %v\n", err)
		}
	}
}

func (con *console) onebot() (*channels.OneBotChannel, error) {
	ch, ok := con.manager.GetChannel(con.channel)
	if !ok {
		return nil, fmt.Errorf("channel %s not found", con.channel)
	}
	ob, ok := ch.(*channels.OneBotChannel)
	if !ok {
		return nil, fmt.Errorf("channel %s is not a OneBot channel", con.channel)
	}
	return ob, nil
}

func (con *console) run(ctx context.Context, input string) error {
	name, rest, _ := strings.Cut(input, " ")
	rest = strings.TrimSpace(rest)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	switch name {
	case "help":
		fmt.Fprintln(con.out, consoleHelp)

	case "status":
		status := con.manager.GetStatus()
		names := make([]string, 0, len(status))
		for n := range status {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			data, _ := json.Marshal(status[n])
			fmt.Fprintf(con.out, "%s %s\n", n, data)
		}

	case "send":
		to, text, ok := strings.Cut(rest, " ")
		if !ok || strings.TrimSpace(text) == "" {
			return errors.New("usage: send <target> <text>")
		}
		return con.manager.SendToChannel(ctx, con.channel, to, text)

	case "react":
		fields := strings.Fields(rest)
		if len(fields) != 2 {
			return errors.New("usage: react <msg_id> <emoji>")
		}
		ob, err := con.onebot()
		if err != nil {
			return err
		}
		return ob.React(ctx, fields[0], fields[1], false)

	case "call":
		action, raw, _ := strings.Cut(rest, " ")
		if action == "" {
			return errors.New("usage: call <action> [json]")
		}
		var params any = map[string]any{}
		if raw = strings.TrimSpace(raw); raw != "" {
			if !json.Valid([]byte(raw)) {
				return fmt.Errorf("params are not valid JSON: %s", raw)
			}
			params = json.RawMessage(raw)
		}
		ob, err := con.onebot()
		if err != nil {
			return err
		}
		data, err := ob.API().Call(ctx, action, params)
		if err != nil {
			return err
		}
		fmt.Fprintln(con.out, string(data))

	default:
		return fmt.Errorf("unknown command %q, try help", name)
	}
	return nil
}

// printInbound drains the inbound bus; nothing relays in the console.
func printInbound(ctx context.Context, msgBus *bus.MessageBus, out io.Writer) {
	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		fmt.Fprintln(out, describeInbound(msg))
	}
}

func describeInbound(msg bus.InboundMessage) string {
	sender := msg.SenderName
	if sender == "" {
		sender = msg.SenderID
	}
	line := fmt.Sprintf("[%s %s #%s] %s: %s", msg.Channel, msg.ChatID, msg.MessageID, sender, msg.Content)
	if len(msg.Media) > 0 {
		line += fmt.Sprintf(" (%d media)", len(msg.Media))
	}
	return line
}

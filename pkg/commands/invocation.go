package commands

import (
	"regexp"
	"strconv"
	"strings"
)

// Invocation is one matched command call.
type Invocation struct {
	Command  *Command
	Rest     string
	Args     []string
	Mentions []int64
	ReplyTo  string
	SenderID int64
	GroupID  int64
}

var leadingMention = regexp.MustCompile(`^\s*(?:\[CQ:at,[^\]]*\]|@\S+)\s*`)

func stripLeadingMentions(text string) string {
	for {
		loc := leadingMention.FindStringIndex(text)
		if loc == nil {
			return text
		}
		text = text[loc[1]:]
	}
}

func newInvocation(cmd *Command, rest string, req Request) *Invocation {
	return &Invocation{
		Command:  cmd,
		Rest:     rest,
		Args:     strings.Fields(rest),
		Mentions: req.Mentions,
		ReplyTo:  req.ReplyTo,
		SenderID: req.SenderID,
		GroupID:  req.GroupID,
	}
}

// Target resolves the user a command acts on. A mention wins over a numeric
// first argument. The remaining arguments are returned without the id.
func (inv *Invocation) Target() (int64, []string, bool) {
	if len(inv.Mentions) > 0 {
		return inv.Mentions[0], inv.Args, true
	}
	if len(inv.Args) > 0 {
		if id, err := strconv.ParseInt(inv.Args[0], 10, 64); err == nil && id > 0 {
			return id, inv.Args[1:], true
		}
	}
	return 0, inv.Args, false
}

// intArg parses args[0], returning fallback when absent or not a number.
func intArg(args []string, fallback int) int {
	if len(args) == 0 {
		return fallback
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fallback
	}
	return n
}

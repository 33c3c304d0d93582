// Package reaction decides which emoji acknowledges an inbound message.
package reaction

import (
	"regexp"
	"strings"
)

const (
	EmojiLaugh    = "128514"
	EmojiHeart    = "128147"
	EmojiThumbsUp = "128077"
	EmojiOK       = "128076"
	EmojiEyes     = "128064"
)

// Instruction is appended to the system block in automatic mode so replies
// can carry a leading marker.
const Instruction = "在回复开头添加 [reaction:表情ID] 或任务成功后添加 [task:emoji_only]。 可选ID: 128077(👍), 128514(😂), 128147(💓), 128076(👌)"

type ModeKind int

const (
	ModeOff ModeKind = iota
	ModeStatic
	ModeAuto
)

func (k ModeKind) String() string {
	switch k {
	case ModeStatic:
		return "static"
	case ModeAuto:
		return "auto"
	default:
		return "off"
	}
}

// Mode is the parsed reaction_emoji setting.
type Mode struct {
	Kind  ModeKind
	Emoji string // set for ModeStatic
}

// ParseMode reads "" or "off" as off, "auto" as automatic and a numeric id
// as static. Anything else is off.
func ParseMode(value string) Mode {
	v := strings.ToLower(strings.TrimSpace(value))
	switch {
	case v == "" || v == "off" || v == "false" || v == "none":
		return Mode{Kind: ModeOff}
	case v == "auto":
		return Mode{Kind: ModeAuto}
	case isDigits(v):
		return Mode{Kind: ModeStatic, Emoji: v}
	default:
		return Mode{Kind: ModeOff}
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var (
	markerPattern  = regexp.MustCompile(`^\s*\[(?:task:(?:emoji_only|ok)|reaction:(\d+))\]\s*`)
	mentionPattern = regexp.MustCompile(`\[CQ:at,[^\]]*\]|@\S+`)
)

// ParseMarker reads a marker at the very start of a reply. It returns the
// emoji id and the reply with the marker removed; ok is false when the
// reply does not start with a marker.
func ParseMarker(reply string) (emoji string, rest string, ok bool) {
	m := markerPattern.FindStringSubmatchIndex(reply)
	if m == nil {
		return "", reply, false
	}
	emoji = EmojiOK
	if m[2] >= 0 {
		emoji = reply[m[2]:m[3]]
	}
	return emoji, reply[m[1]:], true
}

// StripMarker removes a leading marker if there is one.
func StripMarker(reply string) string {
	_, rest, _ := ParseMarker(reply)
	return rest
}

type group struct {
	emoji    string
	patterns []string
}

// groups are checked in order; an empty emoji means no reaction.
var groups = []group{
	{"", []string{"谢谢", "感谢", "多谢", "thanks", "thank you", "thx", "你好", "早安", "晚安", "早上好", "hello", "hi"}},
	{EmojiLaugh, []string{"哈哈", "笑死", "好笑", "hhh", "233", "lol", "😂", "🤣"}},
	{EmojiHeart, []string{"喜欢你", "爱你", "么么", "贴贴", "love you", "❤", "💕"}},
	{EmojiThumbsUp, []string{"厉害", "牛", "太棒", "真棒", "好耶", "赞", "awesome", "great", "nb", "👍"}},
	{EmojiOK, []string{"?", "？", "吗", "帮我", "请", "怎么", "如何", "为什么", "能不能", "can you", "please", "how"}},
}

// Classify picks at most one emoji for a message in automatic mode. An
// empty result means no reaction.
func Classify(text string) string {
	t := strings.ToLower(strings.TrimSpace(mentionPattern.ReplaceAllString(text, "")))
	if t == "" || strings.HasPrefix(t, "/") {
		return ""
	}

	for _, g := range groups {
		for _, p := range g.patterns {
			if matchPattern(t, p) {
				return g.emoji
			}
		}
	}
	return EmojiEyes
}

// wordOnly patterns must stand alone so "hi" does not fire inside "this".
var wordOnly = map[string]bool{"hi": true, "nb": true, "lol": true, "thx": true, "how": true}

func matchPattern(text, pattern string) bool {
	if !wordOnly[pattern] {
		return strings.Contains(text, pattern)
	}
	for i := 0; ; {
		idx := strings.Index(text[i:], pattern)
		if idx < 0 {
			return false
		}
		start := i + idx
		end := start + len(pattern)
		if (start == 0 || !isASCIIAlnum(text[start-1])) && (end == len(text) || !isASCIIAlnum(text[end])) {
			return true
		}
		i = start + 1
	}
}

func isASCIIAlnum(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

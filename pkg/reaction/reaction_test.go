package reaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMode(t *testing.T) {
	tests := map[string]Mode{
		"":       {Kind: ModeOff},
		"off":    {Kind: ModeOff},
		" AUTO ": {Kind: ModeAuto},
		"128077": {Kind: ModeStatic, Emoji: "128077"},
		"thumbs": {Kind: ModeOff},
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseMode(in), "ParseMode(%q)", in)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"谢谢", ""},
		{"thanks a lot", ""},
		{"[CQ:at,qq=1] 你好", ""},
		{"哈哈哈太好笑了", EmojiLaugh},
		{"lol that is good", EmojiLaugh},
		{"爱你哦", EmojiHeart},
		{"太棒了", EmojiThumbsUp},
		{"帮我查一下天气", EmojiOK},
		{"这是什么？", EmojiOK},
		{"/status", ""},
		{"@bot /mute", ""},
		{"this is a statement", EmojiEyes},
		{"   ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.text), "Classify(%q)", tt.text)
	}
}

func TestClassify_IsDeterministic(t *testing.T) {
	for i := 0; i < 20; i++ {
		assert.Equal(t, EmojiLaugh, Classify("笑死我了"))
	}
}

func TestParseMarker(t *testing.T) {
	tests := []struct {
		reply string
		emoji string
		rest  string
		ok    bool
	}{
		{"[task:emoji_only]", EmojiOK, "", true},
		{"[task:ok] done", EmojiOK, "done", true},
		{"  [reaction:128514] funny", "128514", "funny", true},
		{"hello [reaction:1]", "", "hello [reaction:1]", false},
		{"[reaction:abc] x", "", "[reaction:abc] x", false},
	}
	for _, tt := range tests {
		emoji, rest, ok := ParseMarker(tt.reply)
		assert.Equal(t, tt.ok, ok, tt.reply)
		assert.Equal(t, tt.emoji, emoji, tt.reply)
		assert.Equal(t, tt.rest, rest, tt.reply)
	}
	assert.Equal(t, "body", StripMarker("[task:ok]body"))
}

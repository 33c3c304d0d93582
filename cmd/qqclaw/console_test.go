package main

import (
	"testing"

	"github.com/zhufengning/qqclaw/pkg/bus"
)

func TestDescribeInbound(t *testing.T) {
	tests := []struct {
		name string
		msg  bus.InboundMessage
		want string
	}{
		{
			name: "named sender",
			msg: bus.InboundMessage{
				Channel: "onebot", ChatID: "group:1001", MessageID: "5",
				SenderID: "42", SenderName: "阿明", Content: "hi",
			},
			want: "[onebot group:1001 #5] 阿明: hi",
		},
		{
			name: "id fallback with media",
			msg: bus.InboundMessage{
				Channel: "onebot:alt", ChatID: "private:42", MessageID: "6",
				SenderID: "42", Content: "[image]", Media: []string{"https://a/b.png"},
			},
			want: "[onebot:alt private:42 #6] 42: [image] (1 media)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := describeInbound(tt.msg); got != tt.want {
				t.Fatalf("describeInbound() = %q, want %q", got, tt.want)
			}
		})
	}
}

package bus

// Peer identifies the conversation a message belongs to.
type Peer struct {
	Kind string `json:"kind"` // "direct" | "group" | "guild"
	ID   string `json:"id"`
}

// InboundMessage is the finalized inbound context handed to the reply pipeline.
type InboundMessage struct {
	Channel    string            `json:"channel"`
	AccountID  string            `json:"account_id"`
	SenderID   string            `json:"sender_id"`
	SenderName string            `json:"sender_name,omitempty"`
	ChatID     string            `json:"chat_id"`
	Content    string            `json:"content"`
	Media      []string          `json:"media,omitempty"`
	Peer       Peer              `json:"peer"`
	MessageID  string            `json:"message_id,omitempty"`
	SessionKey string            `json:"session_key"`
	Timestamp  int64             `json:"timestamp"` // unix milliseconds
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is a reply produced for a conversation.
type OutboundMessage struct {
	Channel     string   `json:"channel"`
	ChatID      string   `json:"chat_id"`
	Content     string   `json:"content"`
	Media       []string `json:"media,omitempty"`
	ReplyTo     string   `json:"reply_to,omitempty"` // inbound message id
	ReplyToUser string   `json:"reply_to_user,omitempty"`
	Reaction    string   `json:"reaction,omitempty"` // explicit emoji id for ReplyTo
	Error       string   `json:"error,omitempty"`    // set when reply generation failed
}

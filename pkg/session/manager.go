package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Message is one turn of a conversation.
type Message struct {
	Role       string    `json:"role"` // "user" or "assistant"
	SenderID   string    `json:"sender_id,omitempty"`
	SenderName string    `json:"sender_name,omitempty"`
	Content    string    `json:"content"`
	Time       time.Time `json:"time"`
}

type Session struct {
	Key      string    `json:"key"`
	Messages []Message `json:"messages"`
	Created  time.Time `json:"created"`
	Updated  time.Time `json:"updated"`
}

// maxStoredMessages bounds what a session keeps in memory and on disk.
const maxStoredMessages = 200

type SessionManager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	storage  string
	nowFunc  func() time.Time
}

func NewSessionManager(storage string) *SessionManager {
	sm := &SessionManager{
		sessions: make(map[string]*Session),
		storage:  storage,
		nowFunc:  time.Now,
	}

	if storage != "" {
		os.MkdirAll(storage, 0755)
		sm.loadSessions()
	}

	return sm
}

func (sm *SessionManager) getOrCreateLocked(key string) *Session {
	session, ok := sm.sessions[key]
	if !ok {
		now := sm.nowFunc()
		session = &Session{
			Key:      key,
			Messages: []Message{},
			Created:  now,
			Updated:  now,
		}
		sm.sessions[key] = session
	}
	return session
}

func (sm *SessionManager) AddMessage(sessionKey, role, content string) {
	sm.AddFullMessage(sessionKey, Message{Role: role, Content: content})
}

// RecordInbound appends a user turn to the session.
func (sm *SessionManager) RecordInbound(sessionKey, senderID, senderName, content string) {
	sm.AddFullMessage(sessionKey, Message{
		Role:       "user",
		SenderID:   senderID,
		SenderName: senderName,
		Content:    content,
	})
}

func (sm *SessionManager) AddFullMessage(sessionKey string, msg Message) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if msg.Time.IsZero() {
		msg.Time = sm.nowFunc()
	}
	session := sm.getOrCreateLocked(sessionKey)
	session.Messages = append(session.Messages, msg)
	if n := len(session.Messages); n > maxStoredMessages {
		session.Messages = append([]Message(nil), session.Messages[n-maxStoredMessages:]...)
	}
	session.Updated = msg.Time
}

// GetHistory returns a copy of the last limit messages, or all of them when
// limit is not positive.
func (sm *SessionManager) GetHistory(key string, limit int) []Message {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, ok := sm.sessions[key]
	if !ok {
		return []Message{}
	}

	msgs := session.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	history := make([]Message, len(msgs))
	copy(history, msgs)
	return history
}

// Save writes one session to disk when storage is configured.
func (sm *SessionManager) Save(key string) error {
	if sm.storage == "" {
		return nil
	}

	sm.mu.RLock()
	session, ok := sm.sessions[key]
	if !ok {
		sm.mu.RUnlock()
		return nil
	}
	data, err := json.MarshalIndent(session, "", "  ")
	sm.mu.RUnlock()
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(sm.storage, fileName(key)), data, 0644)
}

// fileName maps a session key such as "onebot:group:123" to a safe file name.
func fileName(key string) string {
	r := strings.NewReplacer(":", "_", "/", "_", "\\", "_")
	return r.Replace(key) + ".json"
}

func (sm *SessionManager) loadSessions() error {
	files, err := os.ReadDir(sm.storage)
	if err != nil {
		return err
	}

	for _, file := range files {
		if file.IsDir() {
			continue
		}

		if filepath.Ext(file.Name()) != ".json" {
			continue
		}

		sessionPath := filepath.Join(sm.storage, file.Name())
		data, err := os.ReadFile(sessionPath)
		if err != nil {
			continue
		}

		var session Session
		if err := json.Unmarshal(data, &session); err != nil {
			continue
		}

		sm.sessions[session.Key] = &session
	}

	return nil
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DefaultAccountID names the account described by the top-level onebot section.
const DefaultAccountID = "default"

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so admins can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, strconv.FormatFloat(val, 'f', 0, 64))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Contains reports whether id is listed, ignoring an optional "group:" or
// "private:" prefix on the entries.
func (f FlexibleStringSlice) Contains(id string) bool {
	id = strings.TrimSpace(id)
	for _, item := range f {
		item = strings.TrimSpace(item)
		item = strings.TrimPrefix(item, "group:")
		item = strings.TrimPrefix(item, "private:")
		if item == id {
			return true
		}
	}
	return false
}

type Config struct {
	Channels ChannelsConfig `json:"channels"`
	Relay    RelayConfig    `json:"relay"`
	Session  SessionConfig  `json:"session"`
	Logging  LoggingConfig  `json:"logging"`
	mu       sync.RWMutex
}

type ChannelsConfig struct {
	OneBot OneBotConfig `json:"onebot"`
}

type OneBotConfig struct {
	Enabled       bool   `json:"enabled" env:"QQCLAW_CHANNELS_ONEBOT_ENABLED"`
	Name          string `json:"name,omitempty" env:"QQCLAW_CHANNELS_ONEBOT_NAME"`
	Debug         bool   `json:"debug" env:"QQCLAW_CHANNELS_ONEBOT_DEBUG"`
	WSUrl         string `json:"ws_url" env:"QQCLAW_CHANNELS_ONEBOT_WS_URL"`
	HTTPUrl       string `json:"http_url" env:"QQCLAW_CHANNELS_ONEBOT_HTTP_URL"`
	ReverseWSPort int    `json:"reverse_ws_port" env:"QQCLAW_CHANNELS_ONEBOT_REVERSE_WS_PORT"`
	ReverseWSPath string `json:"reverse_ws_path" env:"QQCLAW_CHANNELS_ONEBOT_REVERSE_WS_PATH"`
	AccessToken   string `json:"access_token" env:"QQCLAW_CHANNELS_ONEBOT_ACCESS_TOKEN"`

	Admins          FlexibleStringSlice `json:"admins" env:"QQCLAW_CHANNELS_ONEBOT_ADMINS"`
	RequireMention  bool                `json:"require_mention" env:"QQCLAW_CHANNELS_ONEBOT_REQUIRE_MENTION"`
	AllowGroups     FlexibleStringSlice `json:"allow_groups" env:"QQCLAW_CHANNELS_ONEBOT_ALLOW_GROUPS"`
	BlockedUsers    FlexibleStringSlice `json:"blocked_users" env:"QQCLAW_CHANNELS_ONEBOT_BLOCKED_USERS"`
	AllowFrom       FlexibleStringSlice `json:"allow_from" env:"QQCLAW_CHANNELS_ONEBOT_ALLOW_FROM"`
	KeywordTriggers []string            `json:"keyword_triggers" env:"QQCLAW_CHANNELS_ONEBOT_KEYWORD_TRIGGERS"`
	HistoryLimit    int                 `json:"history_limit" env:"QQCLAW_CHANNELS_ONEBOT_HISTORY_LIMIT"`

	SystemPrompt        string `json:"system_prompt" env:"QQCLAW_CHANNELS_ONEBOT_SYSTEM_PROMPT"`
	EnableDeduplication bool   `json:"enable_deduplication" env:"QQCLAW_CHANNELS_ONEBOT_ENABLE_DEDUPLICATION"`
	EnableErrorNotify   bool   `json:"enable_error_notify" env:"QQCLAW_CHANNELS_ONEBOT_ENABLE_ERROR_NOTIFY"`
	AutoApproveRequests bool   `json:"auto_approve_requests" env:"QQCLAW_CHANNELS_ONEBOT_AUTO_APPROVE_REQUESTS"`
	MaxMessageLength    int    `json:"max_message_length" env:"QQCLAW_CHANNELS_ONEBOT_MAX_MESSAGE_LENGTH"`
	FormatMarkdown      bool   `json:"format_markdown" env:"QQCLAW_CHANNELS_ONEBOT_FORMAT_MARKDOWN"`
	AntiRiskMode        bool   `json:"anti_risk_mode" env:"QQCLAW_CHANNELS_ONEBOT_ANTI_RISK_MODE"`
	RateLimitMs         int    `json:"rate_limit_ms" env:"QQCLAW_CHANNELS_ONEBOT_RATE_LIMIT_MS"`
	ReactionEmoji       string `json:"reaction_emoji" env:"QQCLAW_CHANNELS_ONEBOT_REACTION_EMOJI"`
	EnableReactions     bool   `json:"enable_reactions" env:"QQCLAW_CHANNELS_ONEBOT_ENABLE_REACTIONS"`

	EnableTTS         bool   `json:"enable_tts" env:"QQCLAW_CHANNELS_ONEBOT_ENABLE_TTS"`
	AIVoiceID         string `json:"ai_voice_id" env:"QQCLAW_CHANNELS_ONEBOT_AI_VOICE_ID"`
	EnableGuilds      bool   `json:"enable_guilds" env:"QQCLAW_CHANNELS_ONEBOT_ENABLE_GUILDS"`
	AutoMarkRead      bool   `json:"auto_mark_read" env:"QQCLAW_CHANNELS_ONEBOT_AUTO_MARK_READ"`
	EnableOCR         bool   `json:"enable_ocr" env:"QQCLAW_CHANNELS_ONEBOT_ENABLE_OCR"`
	EnableURLCheck    bool   `json:"enable_url_check" env:"QQCLAW_CHANNELS_ONEBOT_ENABLE_URL_CHECK"`
	EnableGroupHonor  bool   `json:"enable_group_honor" env:"QQCLAW_CHANNELS_ONEBOT_ENABLE_GROUP_HONOR"`
	EnableGroupSignIn bool   `json:"enable_group_sign_in" env:"QQCLAW_CHANNELS_ONEBOT_ENABLE_GROUP_SIGN_IN"`
	AutoCleanCache    bool   `json:"auto_clean_cache" env:"QQCLAW_CHANNELS_ONEBOT_AUTO_CLEAN_CACHE"`
	EnableEssenceMsg  bool   `json:"enable_essence_msg" env:"QQCLAW_CHANNELS_ONEBOT_ENABLE_ESSENCE_MSG"`

	RequestTimeoutSeconds    int    `json:"request_timeout_seconds" env:"QQCLAW_CHANNELS_ONEBOT_REQUEST_TIMEOUT_SECONDS"`
	HeartbeatIntervalSeconds int    `json:"heartbeat_interval_seconds" env:"QQCLAW_CHANNELS_ONEBOT_HEARTBEAT_INTERVAL_SECONDS"`
	ReconnectMaxSeconds      int    `json:"reconnect_max_seconds" env:"QQCLAW_CHANNELS_ONEBOT_RECONNECT_MAX_SECONDS"`
	CleanCacheCron           string `json:"clean_cache_cron" env:"QQCLAW_CHANNELS_ONEBOT_CLEAN_CACHE_CRON"`
	GroupSignInCron          string `json:"group_sign_in_cron" env:"QQCLAW_CHANNELS_ONEBOT_GROUP_SIGN_IN_CRON"`

	// Accounts holds per-account overrides. Each entry inherits every
	// top-level value it does not set.
	Accounts map[string]json.RawMessage `json:"accounts,omitempty"`
}

type RelayConfig struct {
	WebhookURL     string `json:"webhook_url" env:"QQCLAW_RELAY_WEBHOOK_URL"`
	Token          string `json:"token" env:"QQCLAW_RELAY_TOKEN"`
	TimeoutSeconds int    `json:"timeout_seconds" env:"QQCLAW_RELAY_TIMEOUT_SECONDS"`
}

type SessionConfig struct {
	Storage string `json:"storage" env:"QQCLAW_SESSION_STORAGE"`
}

type LoggingConfig struct {
	Level string `json:"level" env:"QQCLAW_LOGGING_LEVEL"`
	File  string `json:"file" env:"QQCLAW_LOGGING_FILE"`
}

// AccountConfig is one resolved bot account.
type AccountConfig struct {
	ID     string
	OneBot OneBotConfig
}

func DefaultConfig() *Config {
	return &Config{
		Channels: ChannelsConfig{
			OneBot: DefaultOneBotConfig(),
		},
		Relay: RelayConfig{
			TimeoutSeconds: 120,
		},
		Session: SessionConfig{
			Storage: "~/.qqclaw/sessions",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func DefaultOneBotConfig() OneBotConfig {
	return OneBotConfig{
		Enabled:                  false,
		WSUrl:                    "ws://127.0.0.1:3001",
		ReverseWSPath:            "/",
		Admins:                   FlexibleStringSlice{},
		RequireMention:           true,
		AllowGroups:              FlexibleStringSlice{},
		BlockedUsers:             FlexibleStringSlice{},
		AllowFrom:                FlexibleStringSlice{},
		KeywordTriggers:          []string{},
		HistoryLimit:             5,
		EnableDeduplication:      true,
		EnableErrorNotify:        true,
		MaxMessageLength:         4000,
		RateLimitMs:              1000,
		ReactionEmoji:            "auto",
		EnableGuilds:             true,
		RequestTimeoutSeconds:    5,
		HeartbeatIntervalSeconds: 45,
		ReconnectMaxSeconds:      60,
		CleanCacheCron:           "0 4 * * *",
		GroupSignInCron:          "0 9 * * *",
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		data = nil
	}

	if len(data) > 0 {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			if data, err = yamlToJSON(data); err != nil {
				return nil, fmt.Errorf("parse yaml config: %w", err)
			}
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(doc)
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// SessionPath returns the expanded session storage directory.
func (c *Config) SessionPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Session.Storage)
}

// ResolveAccounts expands the onebot section into its accounts. Without an
// accounts map the top-level section is the single default account.
func (c *Config) ResolveAccounts() ([]AccountConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	base := c.Channels.OneBot
	base.Accounts = nil
	if len(c.Channels.OneBot.Accounts) == 0 {
		return []AccountConfig{{ID: DefaultAccountID, OneBot: base}}, nil
	}

	ids := make([]string, 0, len(c.Channels.OneBot.Accounts))
	for id := range c.Channels.OneBot.Accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	accounts := make([]AccountConfig, 0, len(ids))
	for _, id := range ids {
		merged := base
		merged.KeywordTriggers = append([]string(nil), base.KeywordTriggers...)
		if err := json.Unmarshal(c.Channels.OneBot.Accounts[id], &merged); err != nil {
			return nil, fmt.Errorf("account %s: %w", id, err)
		}
		merged.Accounts = nil
		accounts = append(accounts, AccountConfig{ID: id, OneBot: merged})
	}
	return accounts, nil
}

// Validate checks the values the transport cannot work without.
func (c OneBotConfig) Validate() error {
	if c.WSUrl == "" && c.HTTPUrl == "" && c.ReverseWSPort == 0 {
		return fmt.Errorf("one of ws_url, http_url or reverse_ws_port is required")
	}
	if c.ReverseWSPort < 0 || c.ReverseWSPort > 65535 {
		return fmt.Errorf("reverse_ws_port out of range: %d", c.ReverseWSPort)
	}
	if c.RateLimitMs < 0 {
		return fmt.Errorf("rate_limit_ms must not be negative")
	}
	return nil
}

func (c OneBotConfig) IsAdmin(userID int64) bool {
	return c.Admins.Contains(strconv.FormatInt(userID, 10))
}

func (c OneBotConfig) IsBlocked(userID int64) bool {
	return c.BlockedUsers.Contains(strconv.FormatInt(userID, 10))
}

// IsGroupAllowed reports whether a group passes allow_groups. An empty list
// allows every group.
func (c OneBotConfig) IsGroupAllowed(groupID int64) bool {
	if len(c.AllowGroups) == 0 {
		return true
	}
	return c.AllowGroups.Contains(strconv.FormatInt(groupID, 10))
}

// AllowedGroupIDs returns the numeric entries of allow_groups.
func (c OneBotConfig) AllowedGroupIDs() []int64 {
	ids := make([]int64, 0, len(c.AllowGroups))
	for _, raw := range c.AllowGroups {
		raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "group:"))
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

func (c OneBotConfig) RequestTimeout() time.Duration {
	return secondsOr(c.RequestTimeoutSeconds, 5)
}

func (c OneBotConfig) HeartbeatInterval() time.Duration {
	return secondsOr(c.HeartbeatIntervalSeconds, 45)
}

func (c OneBotConfig) ReconnectMax() time.Duration {
	return secondsOr(c.ReconnectMaxSeconds, 60)
}

func (c OneBotConfig) RateLimit() time.Duration {
	if c.RateLimitMs <= 0 {
		return 0
	}
	return time.Duration(c.RateLimitMs) * time.Millisecond
}

func (c OneBotConfig) MessageLimit() int {
	if c.MaxMessageLength <= 0 {
		return 4000
	}
	return c.MaxMessageLength
}

func secondsOr(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}

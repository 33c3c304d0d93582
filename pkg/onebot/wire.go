package onebot

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrNotConnected is returned when no transport can carry a call.
	ErrNotConnected = errors.New("onebot: no transport connected")
	// ErrTimeout is returned when a correlated response does not arrive in time.
	ErrTimeout = errors.New("onebot: request timed out")
	// ErrTransportClosed is returned once Disconnect has run.
	ErrTransportClosed = errors.New("onebot: transport closed")
)

// Request is one action call frame.
type Request struct {
	Action string `json:"action"`
	Params any    `json:"params"`
	Echo   string `json:"echo,omitempty"`
}

// Response is the gateway reply to an action call. Echo is filled in by the
// reader because gateways differ on its JSON type.
type Response struct {
	Status  string          `json:"status"`
	RetCode json.RawMessage `json:"retcode"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Msg     string          `json:"msg"`
	Wording string          `json:"wording"`
	Echo    string          `json:"-"`
}

func (r *Response) retCode() int64 {
	code, _ := parseJSONInt64(r.RetCode)
	return code
}

// OK reports whether the gateway accepted the call.
func (r *Response) OK() bool {
	switch strings.ToLower(strings.TrimSpace(r.Status)) {
	case "ok", "async":
		return true
	case "":
		return r.retCode() == 0
	default:
		return false
	}
}

// Err converts a failed response into an *ActionError.
func (r *Response) Err(action string) error {
	if r.OK() {
		return nil
	}
	msg := r.Wording
	if msg == "" {
		msg = r.Message
	}
	if msg == "" {
		msg = r.Msg
	}
	return &ActionError{
		Action:  action,
		Status:  r.Status,
		RetCode: r.retCode(),
		Message: msg,
	}
}

// ActionError is a call the gateway received and rejected.
type ActionError struct {
	Action  string
	Status  string
	RetCode int64
	Message string
}

func (e *ActionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("onebot action %s failed: status=%s retcode=%d: %s", e.Action, e.Status, e.RetCode, e.Message)
	}
	return fmt.Sprintf("onebot action %s failed: status=%s retcode=%d", e.Action, e.Status, e.RetCode)
}

type BotStatus struct {
	Online bool `json:"online"`
	Good   bool `json:"good"`
	Text   string
}

func (s *BotStatus) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*s = BotStatus{}
		return nil
	}

	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*s = BotStatus{Text: strings.TrimSpace(text)}
		return nil
	}

	var obj struct {
		Online bool `json:"online"`
		Good   bool `json:"good"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*s = BotStatus{
		Online: obj.Online,
		Good:   obj.Good,
	}
	return nil
}

func parseJSONInt64(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}

	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int64(f), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, nil
		}
		return strconv.ParseInt(s, 10, 64)
	}
	return 0, fmt.Errorf("cannot parse as int64: %s", string(raw))
}

func parseJSONString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	return string(raw)
}

// messageIDParam sends numeric ids as numbers, which every gateway accepts.
func messageIDParam(id string) any {
	if n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64); err == nil {
		return n
	}
	return id
}

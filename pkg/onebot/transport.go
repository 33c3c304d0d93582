package onebot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/zhufengning/qqclaw/pkg/logger"
)

type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "idle"
	}
}

// Options configures a Transport. At least one of WSURL, HTTPURL or
// ReverseWSPort must be set for calls to succeed.
type Options struct {
	Name              string
	WSURL             string
	HTTPURL           string
	ReverseWSPort     int
	ReverseWSPath     string
	AccessToken       string
	RequestTimeout    time.Duration
	HeartbeatInterval time.Duration
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	EventBuffer       int
}

// DialFunc opens a forward socket.
type DialFunc func(ctx context.Context, url string, header http.Header) (*websocket.Conn, error)

func defaultDial(ctx context.Context, url string, header http.Header) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// Transport owns the gateway connections: an optional forward socket with
// reconnect and liveness supervision, an optional reverse socket server and
// an optional HTTP endpoint. It is single-use: after Disconnect a new
// Transport must be built.
type Transport struct {
	opts    Options
	name    string
	dial    DialFunc
	pending *Correlator
	http    *resty.Client
	events  chan Event

	mu             sync.Mutex
	ctx            context.Context
	cancel         context.CancelFunc
	state          State
	started        bool
	closed         bool
	forward        *socket
	reverse        *socket
	attempts       int
	reconnectTimer *time.Timer
	server         *http.Server
	onConnect      func(ctx context.Context)

	alive     atomic.Bool
	selfID    atomic.Int64
	socketSeq atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
}

func NewTransport(opts Options) *Transport {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.HeartbeatInterval < 0 {
		opts.HeartbeatInterval = 0
	}
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = DefaultReconnectBase
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = DefaultReconnectMax
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}
	if opts.ReverseWSPath == "" {
		opts.ReverseWSPath = "/"
	}
	name := "onebot"
	if opts.Name != "" {
		name = "onebot:" + opts.Name
	}

	t := &Transport{
		opts:    opts,
		name:    name,
		dial:    defaultDial,
		pending: NewCorrelator(),
		events:  make(chan Event, opts.EventBuffer),
		done:    make(chan struct{}),
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())

	if opts.HTTPURL != "" {
		t.http = resty.New().
			SetBaseURL(strings.TrimRight(opts.HTTPURL, "/")).
			SetTimeout(opts.RequestTimeout).
			SetHeader("Content-Type", "application/json")
		if opts.AccessToken != "" {
			t.http.SetAuthToken(opts.AccessToken)
		}
	}
	return t
}

// SetDialer replaces the forward socket dialer. It must be called before Connect.
func (t *Transport) SetDialer(dial DialFunc) {
	t.dial = dial
}

// OnConnect registers a hook run on every forward socket open and on every
// accepted reverse socket.
func (t *Transport) OnConnect(fn func(ctx context.Context)) {
	t.mu.Lock()
	t.onConnect = fn
	t.mu.Unlock()
}

func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) SelfID() int64 { return t.selfID.Load() }

func (t *Transport) SetSelfID(id int64) {
	if id > 0 {
		t.selfID.Store(id)
	}
}

// IsConnected reports whether any socket is open.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.forward != nil || t.reverse != nil
}

func (t *Transport) ReconnectAttempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// Connect starts the configured transports. The first forward dial happens
// synchronously; if it fails a reconnect is scheduled and Connect still
// returns nil. Only a reverse listener that cannot bind is an error.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	t.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			t.Disconnect()
		case <-t.done:
		}
	}()

	if t.opts.ReverseWSPort > 0 {
		if err := t.startReverseServer(); err != nil {
			return err
		}
	}
	if t.opts.WSURL != "" {
		t.connectForward()
	}
	return nil
}

// Disconnect closes every connection, stops the reconnect timer and fails
// all in-flight calls. It is idempotent.
func (t *Transport) Disconnect() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.state = StateClosing
		if t.reconnectTimer != nil {
			t.reconnectTimer.Stop()
			t.reconnectTimer = nil
		}
		forward, reverse, server := t.forward, t.reverse, t.server
		t.forward, t.reverse, t.server = nil, nil, nil
		t.mu.Unlock()

		t.cancel()
		if forward != nil {
			forward.close()
		}
		if reverse != nil {
			reverse.close()
		}
		if server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.WarnCF(t.name, "Reverse server shutdown failed", map[string]any{
					"error": err.Error(),
				})
			}
			cancel()
		}

		if n := t.pending.FailAll(ErrTransportClosed); n > 0 {
			logger.DebugCF(t.name, "Failed pending calls on disconnect", map[string]any{
				"count": n,
			})
		}
		close(t.done)

		t.mu.Lock()
		t.state = StateIdle
		t.mu.Unlock()
	})
}

// Events exposes the inbound event queue.
func (t *Transport) Events() <-chan Event { return t.events }

// NextEvent blocks for the next inbound event.
func (t *Transport) NextEvent(ctx context.Context) (Event, error) {
	select {
	case ev := <-t.events:
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, ErrTransportClosed
	}
}

// SendRequest performs a correlated call and returns the response data.
// HTTP is tried first when configured, then the active socket.
// All strategies share one RequestTimeout deadline.
func (t *Transport) SendRequest(ctx context.Context, action string, params any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, t.opts.RequestTimeout)
	defer cancel()
	return runStrategies(ctx, t.requestStrategies(), action, params)
}

// SendFireAndForget writes a call without waiting for its response.
func (t *Transport) SendFireAndForget(ctx context.Context, action string, params any) error {
	_, err := runStrategies(ctx, t.fireStrategies(), action, params)
	return err
}

func (t *Transport) activeSocket() *socket {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.forward != nil {
		return t.forward
	}
	return t.reverse
}

func (t *Transport) sendSocket(ctx context.Context, action string, params any) (json.RawMessage, error) {
	s := t.activeSocket()
	if s == nil {
		return nil, ErrNotConnected
	}

	timeout := t.opts.RequestTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("%s: %w", action, ErrTimeout)
	}

	token, ch := t.pending.Register(s.id)
	if err := s.writeJSON(Request{Action: action, Params: paramsOrEmpty(params), Echo: token}); err != nil {
		t.pending.Cancel(token)
		return nil, fmt.Errorf("write %s: %w", action, err)
	}

	resp, err := t.pending.Wait(ctx, token, ch, timeout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", action, err)
	}
	if !resp.OK() {
		return nil, resp.Err(action)
	}
	return resp.Data, nil
}

func (t *Transport) fireSocket(_ context.Context, action string, params any) (json.RawMessage, error) {
	s := t.activeSocket()
	if s == nil {
		return nil, ErrNotConnected
	}
	if err := s.writeJSON(Request{Action: action, Params: paramsOrEmpty(params)}); err != nil {
		return nil, fmt.Errorf("write %s: %w", action, err)
	}
	return nil, nil
}

func (t *Transport) sendHTTP(ctx context.Context, action string, params any) (json.RawMessage, error) {
	res, err := t.http.R().
		SetContext(ctx).
		SetBody(paramsOrEmpty(params)).
		Post("/" + action)
	if err != nil {
		return nil, fmt.Errorf("http %s: %w", action, err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("http %s: status %d", action, res.StatusCode())
	}

	var resp Response
	if err := json.Unmarshal(res.Body(), &resp); err != nil {
		return nil, fmt.Errorf("http %s: decode response: %w", action, err)
	}
	if !resp.OK() {
		return nil, resp.Err(action)
	}
	return resp.Data, nil
}

func paramsOrEmpty(params any) any {
	if params == nil {
		return map[string]any{}
	}
	return params
}

func (t *Transport) connectForward() {
	t.mu.Lock()
	if t.closed || t.forward != nil {
		t.mu.Unlock()
		return
	}
	if t.reverse == nil {
		t.state = StateConnecting
	}
	ctx := t.ctx
	t.mu.Unlock()

	header := http.Header{}
	if t.opts.AccessToken != "" {
		header.Set("Authorization", "Bearer "+t.opts.AccessToken)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, err := t.dial(dialCtx, t.opts.WSURL, header)
	cancel()
	if err != nil {
		logger.WarnCF(t.name, "Forward WebSocket dial failed", map[string]any{
			"url":      t.opts.WSURL,
			"attempts": t.ReconnectAttempts(),
			"error":    err.Error(),
		})
		t.mu.Lock()
		t.settleStateLocked()
		t.mu.Unlock()
		t.scheduleReconnect()
		return
	}

	s := t.newSocket(conn, "forward")
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		s.close()
		return
	}
	t.forward = s
	t.attempts = 0
	t.state = StateOpen
	hook := t.onConnect
	t.mu.Unlock()

	t.alive.Store(true)
	logger.InfoCF(t.name, "Forward WebSocket connected", map[string]any{
		"url": t.opts.WSURL,
	})

	go t.readLoop(s)
	go t.watchLiveness(s)
	if hook != nil {
		go hook(ctx)
	}
}

// scheduleReconnect arms the single reconnect timer. attempts counts timer
// firings and is reset by a successful open.
func (t *Transport) scheduleReconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.opts.WSURL == "" || t.reconnectTimer != nil || t.forward != nil {
		return
	}

	delay := BackoffDelay(t.opts.ReconnectBase, t.opts.ReconnectMax, t.attempts)
	logger.InfoCF(t.name, "Scheduling reconnect", map[string]any{
		"delay":    delay.String(),
		"attempts": t.attempts,
	})
	t.reconnectTimer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		t.reconnectTimer = nil
		if t.closed {
			t.mu.Unlock()
			return
		}
		t.attempts++
		t.mu.Unlock()
		t.connectForward()
	})
}

// watchLiveness closes the forward socket when a whole interval passes with
// no inbound frame.
func (t *Transport) watchLiveness(s *socket) {
	interval := t.opts.HeartbeatInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if !t.alive.Swap(false) {
				logger.WarnCF(t.name, "No traffic within heartbeat interval, reconnecting", map[string]any{
					"interval": interval.String(),
				})
				s.close()
				return
			}
		}
	}
}

func (t *Transport) readLoop(s *socket) {
	defer t.handleDisconnect(s)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				logger.WarnCF(t.name, "WebSocket read failed", map[string]any{
					"kind":  s.kind,
					"error": err.Error(),
				})
			}
			return
		}
		if s.kind == "forward" {
			t.alive.Store(true)
		}
		t.handleFrame(data)
	}
}

// settleStateLocked derives the state from the open sockets. t.mu must be
// held.
func (t *Transport) settleStateLocked() {
	if t.closed {
		return
	}
	if t.forward != nil || t.reverse != nil {
		t.state = StateOpen
	} else {
		t.state = StateIdle
	}
}

func (t *Transport) handleDisconnect(s *socket) {
	s.close()
	if n := t.pending.FailOwner(s.id, ErrNotConnected); n > 0 {
		logger.DebugCF(t.name, "Failed calls on dropped socket", map[string]any{
			"kind":  s.kind,
			"count": n,
		})
	}

	t.mu.Lock()
	wasForward := false
	switch {
	case t.forward == s:
		t.forward = nil
		wasForward = true
	case t.reverse == s:
		t.reverse = nil
	}
	t.settleStateLocked()
	closed := t.closed
	t.mu.Unlock()

	if closed {
		return
	}
	logger.InfoCF(t.name, "WebSocket disconnected", map[string]any{
		"kind": s.kind,
	})
	if wasForward {
		t.scheduleReconnect()
	}
}

// handleFrame routes a frame: frames with post_type are events, frames with
// only an echo are responses, anything else is dropped.
func (t *Transport) handleFrame(data []byte) {
	if !gjson.ValidBytes(data) {
		logger.DebugCF(t.name, "Dropping malformed frame", map[string]any{
			"length": len(data),
		})
		return
	}
	frame := gjson.ParseBytes(data)
	if !frame.IsObject() {
		return
	}

	if !frame.Get("post_type").Exists() {
		echo := frame.Get("echo")
		if !echo.Exists() || echo.String() == "" {
			return
		}
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			logger.DebugCF(t.name, "Dropping undecodable response", map[string]any{
				"error": err.Error(),
			})
			return
		}
		resp.Echo = echo.String()
		if !t.pending.Resolve(&resp) {
			logger.DebugCF(t.name, "Response for unknown echo", map[string]any{
				"echo": resp.Echo,
			})
		}
		return
	}

	ev, err := DecodeEvent(data)
	if err != nil {
		logger.DebugCF(t.name, "Dropping undecodable event", map[string]any{
			"error": err.Error(),
		})
		return
	}
	if meta, ok := ev.(*MetaEvent); ok {
		switch meta.MetaEventType {
		case "heartbeat":
			return
		case "lifecycle":
			t.SetSelfID(meta.SelfID)
		}
	}

	select {
	case t.events <- ev:
	case <-t.done:
	}
}

type socket struct {
	id        string
	kind      string
	conn      *websocket.Conn
	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func (t *Transport) newSocket(conn *websocket.Conn, kind string) *socket {
	return &socket{
		id:   fmt.Sprintf("%s-%d", kind, t.socketSeq.Add(1)),
		kind: kind,
		conn: conn,
		done: make(chan struct{}),
	}
}

func (s *socket) writeJSON(v any) error {
	select {
	case <-s.done:
		return ErrNotConnected
	default:
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(v)
}

func (s *socket) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
}

package onebot

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhufengning/qqclaw/pkg/logger"
)

// CloseUnauthorized is the close code sent to reverse clients with a bad token.
const CloseUnauthorized = 4001

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (t *Transport) startReverseServer() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", t.opts.ReverseWSPort))
	if err != nil {
		return fmt.Errorf("reverse ws listen on port %d: %w", t.opts.ReverseWSPort, err)
	}

	mux := http.NewServeMux()
	mux.Handle(t.opts.ReverseWSPath, t.ReverseHandler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	t.mu.Lock()
	t.server = srv
	t.mu.Unlock()

	logger.InfoCF(t.name, "Reverse WebSocket server listening", map[string]any{
		"addr": ln.Addr().String(),
		"path": t.opts.ReverseWSPath,
	})
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorCF(t.name, "Reverse WebSocket server stopped", map[string]any{
				"error": err.Error(),
			})
		}
	}()
	return nil
}

// ReverseHandler accepts gateway-initiated sockets. A newer connection
// replaces the previous one.
func (t *Transport) ReverseHandler() http.Handler {
	return http.HandlerFunc(t.serveReverse)
}

func (t *Transport) serveReverse(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF(t.name, "Reverse WebSocket upgrade failed", map[string]any{
			"remote": r.RemoteAddr,
			"error":  err.Error(),
		})
		return
	}

	if !t.authorized(r) {
		logger.WarnCF(t.name, "Rejected reverse WebSocket with bad token", map[string]any{
			"remote": r.RemoteAddr,
		})
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(CloseUnauthorized, "Unauthorized"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	if id, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get("X-Self-ID")), 10, 64); err == nil {
		t.SetSelfID(id)
	}

	s := t.newSocket(conn, "reverse")
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		s.close()
		return
	}
	previous := t.reverse
	t.reverse = s
	t.settleStateLocked()
	hook := t.onConnect
	ctx := t.ctx
	t.mu.Unlock()

	if previous != nil {
		previous.close()
	}
	logger.InfoCF(t.name, "Reverse WebSocket connected", map[string]any{
		"remote":  r.RemoteAddr,
		"self_id": t.SelfID(),
	})
	if hook != nil {
		go hook(ctx)
	}

	t.readLoop(s)
}

func (t *Transport) authorized(r *http.Request) bool {
	token := t.opts.AccessToken
	if token == "" {
		return true
	}

	presented := r.URL.Query().Get("access_token")
	if auth := r.Header.Get("Authorization"); auth != "" {
		for _, scheme := range []string{"Bearer ", "Token "} {
			if strings.HasPrefix(auth, scheme) {
				presented = strings.TrimSpace(strings.TrimPrefix(auth, scheme))
				break
			}
		}
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(token)) == 1
}

package onebot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type result struct {
	resp *Response
	err  error
}

type pendingCall struct {
	owner string
	ch    chan result
}

// Correlator matches responses to in-flight calls by echo token.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]pendingCall
}

func NewCorrelator() *Correlator {
	return &Correlator{pending: make(map[string]pendingCall)}
}

// Register allocates a fresh token. owner names the socket the call is
// written to so its calls can be failed together when it drops.
func (c *Correlator) Register(owner string) (string, <-chan result) {
	token := uuid.NewString()
	ch := make(chan result, 1)
	c.mu.Lock()
	c.pending[token] = pendingCall{owner: owner, ch: ch}
	c.mu.Unlock()
	return token, ch
}

// Resolve delivers resp to its waiter. Unknown or already settled tokens
// are ignored and reported as false.
func (c *Correlator) Resolve(resp *Response) bool {
	c.mu.Lock()
	call, ok := c.pending[resp.Echo]
	if ok {
		delete(c.pending, resp.Echo)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	call.ch <- result{resp: resp}
	return true
}

// Cancel forgets a token without settling it.
func (c *Correlator) Cancel(token string) {
	c.mu.Lock()
	delete(c.pending, token)
	c.mu.Unlock()
}

// FailOwner settles every call written to owner with err.
func (c *Correlator) FailOwner(owner string, err error) int {
	c.mu.Lock()
	var failed []pendingCall
	for token, call := range c.pending {
		if call.owner == owner {
			failed = append(failed, call)
			delete(c.pending, token)
		}
	}
	c.mu.Unlock()

	for _, call := range failed {
		call.ch <- result{err: err}
	}
	return len(failed)
}

// FailAll settles every outstanding call with err.
func (c *Correlator) FailAll(err error) int {
	c.mu.Lock()
	calls := c.pending
	c.pending = make(map[string]pendingCall)
	c.mu.Unlock()

	for _, call := range calls {
		call.ch <- result{err: err}
	}
	return len(calls)
}

func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Wait blocks until the token settles, the timeout elapses or ctx ends.
// The token is always removed from the table on return.
func (c *Correlator) Wait(ctx context.Context, token string, ch <-chan result, timeout time.Duration) (*Response, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.resp, res.err
	case <-timer.C:
		c.Cancel(token)
		return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	case <-ctx.Done():
		c.Cancel(token)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		}
		return nil, ctx.Err()
	}
}

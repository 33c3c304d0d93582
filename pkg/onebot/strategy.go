package onebot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

type strategy struct {
	name string
	send func(ctx context.Context, action string, params any) (json.RawMessage, error)
}

func (t *Transport) requestStrategies() []strategy {
	var list []strategy
	if t.http != nil {
		list = append(list, strategy{name: "http", send: t.sendHTTP})
	}
	return append(list, strategy{name: "socket", send: t.sendSocket})
}

func (t *Transport) fireStrategies() []strategy {
	var list []strategy
	if t.http != nil {
		list = append(list, strategy{name: "http", send: t.sendHTTP})
	}
	return append(list, strategy{name: "socket", send: t.fireSocket})
}

// runStrategies tries each strategy in order. A rejection from the gateway
// is final; only delivery failures fall through to the next strategy.
func runStrategies(ctx context.Context, list []strategy, action string, params any) (json.RawMessage, error) {
	var errs []error
	for _, s := range list {
		data, err := s.send(ctx, action, params)
		if err == nil {
			return data, nil
		}
		var actionErr *ActionError
		if errors.As(err, &actionErr) {
			return nil, err
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return nil, ErrNotConnected
	}
	if len(errs) == 1 {
		return nil, errs[0]
	}
	return nil, errors.Join(errs...)
}

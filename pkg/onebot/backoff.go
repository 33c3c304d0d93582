package onebot

import "time"

const (
	DefaultReconnectBase     = time.Second
	DefaultReconnectMax      = 60 * time.Second
	DefaultHeartbeatInterval = 45 * time.Second
	DefaultRequestTimeout    = 5 * time.Second
)

// BackoffDelay returns min(base*2^attempts, max).
func BackoffDelay(base, max time.Duration, attempts int) time.Duration {
	if base <= 0 {
		base = DefaultReconnectBase
	}
	if max < base {
		max = base
	}
	delay := base
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	return delay
}

package infra

import "time"

const (
	backoffBase = 1 * time.Second
	backoffMax  = 60 * time.Second
)

// CalculateBackoff returns an exponential reconnect/retry delay capped
// at backoffMax: 1s, 2s, 4s, ... 60s.
func CalculateBackoff(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	delay := backoffBase << uint(retry)
	if delay > backoffMax || delay <= 0 {
		return backoffMax
	}
	return delay
}

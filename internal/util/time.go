package util

import (
	"math/rand"
	"time"

	"probewatch/internal/config"
)

// CalculateJobBackoff computes the exponential backoff before a
// broker-backed job's next retry attempt: 5s, 10s, 20s, ... capped at
// QueueBackoffMax. attempt is 1-indexed (the attempt that just failed).
func CalculateJobBackoff(attempt int) time.Duration {
	if attempt <= 1 {
		return config.QueueBackoffInitial
	}
	d := config.QueueBackoffInitial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= config.QueueBackoffMax {
			return config.QueueBackoffMax
		}
	}
	return d
}

// RandomJitter returns a uniform random duration in [minMS, maxMS],
// clamping an inverted or negative range to zero.
func RandomJitter(minMS, maxMS int) time.Duration {
	if maxMS <= minMS {
		if minMS < 0 {
			return 0
		}
		return time.Duration(minMS) * time.Millisecond
	}
	spread := maxMS - minMS
	n := minMS + rand.Intn(spread+1)
	return time.Duration(n) * time.Millisecond
}

// ToUnixTimestamp safely converts time.Time to a unix timestamp,
// treating the zero value as 0.
func ToUnixTimestamp(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

package admission

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"probewatch/internal/config"
)

// New picks the broker-backed controller when brokerURL is set,
// otherwise the in-memory controller. It parses its own Redis client so
// admission can run against the same broker as the queue without
// sharing mutable state with it.
func New(cfg *config.EnvConfig, maxGlobal, perChannel int) (Controller, error) {
	if cfg.BrokerURL == "" {
		return NewMemoryController(maxGlobal, perChannel), nil
	}

	opts, err := redis.ParseURL(cfg.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}
	client := redis.NewClient(opts)
	return NewBrokerController(client, maxGlobal, perChannel), nil
}

package queue

import "probewatch/internal/config"

// New picks the broker-backed queue when cfg.BrokerURL is set, falling
// back to the single-process in-memory queue otherwise.
func New(cfg *config.EnvConfig) (Queue, error) {
	if cfg.BrokerURL == "" {
		return NewMemoryQueue(), nil
	}
	return NewBrokerQueue(cfg.BrokerURL)
}

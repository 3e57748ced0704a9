package worker

import "time"

type Config struct {
	PollInterval time.Duration
	BatchSize    int
	RunTimeout   time.Duration
	EventTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 30 * time.Second
	}
	if c.EventTimeout <= 0 {
		c.EventTimeout = 10 * time.Second
	}
	return c
}

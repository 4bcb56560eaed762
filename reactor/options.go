// File: reactor/options.go
// Package reactor defines functional options for event loop construction.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import "go.uber.org/zap"

// Option customizes event loop initialization.
type Option func(*config)

type config struct {
	logger *zap.Logger
	napiID int
}

// WithLogger attaches a logger for loop-internal diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithNapiID pins the loop to a NIC receive-queue identity, so the
// listener can steer RSS-aligned accepts to it.
func WithNapiID(id int) Option {
	return func(c *config) {
		c.napiID = id
	}
}

func defaultConfig() *config {
	return &config{
		logger: zap.NewNop(),
		napiID: -1,
	}
}

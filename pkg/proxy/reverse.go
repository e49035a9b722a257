// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/absmach/dispatch/pkg/bridge"
	"github.com/absmach/dispatch/pkg/errors"
	"github.com/absmach/dispatch/pkg/health"
	"github.com/absmach/dispatch/pkg/metrics"
)

// ReverseConfig holds configuration for the reverse proxy.
type ReverseConfig struct {
	// Bridges are run side by side, for instance a udp-tcp and a tcp-udp
	// bridge to carry a channel both ways.
	Bridges []bridge.Config

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Reverse runs a set of bridges.
type Reverse struct {
	config  ReverseConfig
	bridges []*bridge.Bridge
	tasks   []task
}

// NewReverse creates the configured bridges. Addresses are bound when Run
// starts.
func NewReverse(cfg ReverseConfig) (*Reverse, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if len(cfg.Bridges) == 0 {
		return nil, errors.Config("reverse", "", fmt.Errorf("%w: no bridge configured", errors.ErrInvalidAddress))
	}

	r := &Reverse{config: cfg}
	for _, bc := range cfg.Bridges {
		if bc.Source == "" || bc.Destination == "" {
			return nil, errors.Config("reverse", string(bc.Mode),
				fmt.Errorf("%w: source and destination are required", errors.ErrInvalidAddress))
		}
		if bc.Logger == nil {
			bc.Logger = cfg.Logger
		}
		b := bridge.New(bc)
		r.bridges = append(r.bridges, b)

		name := bc.Name
		if name == "" {
			name = string(bc.Mode)
		}
		r.tasks = append(r.tasks, task{
			name:  name,
			run:   b.Listen,
			check: b.Check,
		})
	}
	return r, nil
}

// Run runs every bridge until ctx is cancelled. A bridge that fails stops
// alone.
func (r *Reverse) Run(ctx context.Context) error {
	return runTasks(ctx, r.tasks, r.config.Metrics, r.config.Logger)
}

// Checks reports the state of every bridge.
func (r *Reverse) Checks() map[string]health.CheckFunc { return checks(r.tasks) }

// Bridges returns the bridges in configuration order.
func (r *Reverse) Bridges() []*bridge.Bridge { return r.bridges }

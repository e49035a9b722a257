// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"fmt"

	"github.com/absmach/dispatch/pkg/errors"
)

// Route associates one listen address with its targets and tee flag. It is
// the unit of work handed to one Loop.
type Route struct {
	// Name labels logs, metrics and health checks.
	Name string

	// Listen is the listen address (host:port).
	Listen string

	// Targets are the target addresses, in fan-out order.
	Targets []string

	// Tee duplicates every forwarded payload to the tee sink.
	Tee bool
}

// Routes expands a set of listen addresses sharing the same targets into
// one route per listen address.
func Routes(name string, listen, targets []string, tee bool) []Route {
	routes := make([]Route, 0, len(listen))
	for _, l := range listen {
		routes = append(routes, Route{
			Name:    name,
			Listen:  l,
			Targets: append([]string(nil), targets...),
			Tee:     tee,
		})
	}
	return routes
}

// Validate checks the route has a listen address.
func (r Route) Validate() error {
	if r.Listen == "" {
		return errors.Config("route", r.Name, fmt.Errorf("%w: empty listen address", errors.ErrInvalidAddress))
	}
	return nil
}

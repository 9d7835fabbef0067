// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package observability

import "github.com/prometheus/client_golang/prometheus"

func prometheusTestCounter() prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gatekeeper_test_component_total",
		Help: "Counter registered by a test component",
	})
	c.Inc()
	return c
}

// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package steps

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeExecuted = "executed"
	outcomeSkipped  = "skipped"
	outcomeFailed   = "failed"
	outcomeDegraded = "degraded"
)

type metrics struct {
	steps    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "backendkit",
			Name:      "steps_total",
			Help:      "Build steps, by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "backendkit",
			Name:      "step_duration_seconds",
			Help:      "Time spent in build steps, including the input check.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"step", "outcome"}),
	}

	if reg != nil {
		reg.MustRegister(m.steps, m.duration)
	}

	return m
}

func (m *metrics) observe(name, outcome string, started time.Time) {
	m.steps.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(name, outcome).Observe(time.Since(started).Seconds())
}

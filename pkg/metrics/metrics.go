// Package metrics exposes Prometheus counters for the transport adapters.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons.
const (
	ReasonDecode     = "decode"
	ReasonNoHandler  = "no_handler"
	ReasonBadPayload = "bad_payload"
	ReasonIgnored    = "ignored"
)

var (
	registerOnce sync.Once

	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bigrid",
			Subsystem: "transport",
			Name:      "frames_received_total",
			Help:      "Frames received per transport.",
		},
		[]string{"transport"},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bigrid",
			Subsystem: "transport",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped per transport and reason.",
		},
		[]string{"transport", "reason"},
	)
	connections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "bigrid",
			Subsystem: "transport",
			Name:      "connections",
			Help:      "Live connections per transport.",
		},
		[]string{"transport"},
	)
	cellsParsed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bigrid",
			Subsystem: "parser",
			Name:      "cells_total",
			Help:      "Cells extracted from model documents.",
		},
	)
)

// Register registers the collectors with the default registry. It is safe to
// call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(framesReceived, framesDropped, connections, cellsParsed)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}

// FrameReceived counts an inbound frame.
func FrameReceived(transport string) {
	framesReceived.WithLabelValues(transport).Inc()
}

// FrameDropped counts an inbound frame that produced no event.
func FrameDropped(transport, reason string) {
	framesDropped.WithLabelValues(transport, reason).Inc()
}

// ConnectionOpened and ConnectionClosed track live connections.
func ConnectionOpened(transport string) {
	connections.WithLabelValues(transport).Inc()
}

func ConnectionClosed(transport string) {
	connections.WithLabelValues(transport).Dec()
}

// CellsParsed counts cells handed to the world.
func CellsParsed(n int) {
	cellsParsed.Add(float64(n))
}

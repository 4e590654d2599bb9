package app

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	wizardSteps     *prometheus.CounterVec
}

// NewMetrics builds a private registry; nothing is registered globally.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "moodlog",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "moodlog",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		wizardSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "moodlog",
			Name:      "wizard_steps_total",
			Help:      "Wizard step submissions by template and outcome.",
		}, []string{"template", "outcome"}),
	}
	m.registry.MustRegister(
		m.requests,
		m.requestDuration,
		m.wizardSteps,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeRequest(route, method string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// Wizard step outcomes.
const (
	stepSaved    = "saved"
	stepRejected = "rejected"
	stepFailed   = "failed"
)

func (m *Metrics) observeStep(template, outcome string) {
	m.wizardSteps.WithLabelValues(template, outcome).Inc()
}

var apiRoutes = map[string]bool{
	"health":         true,
	"ready":          true,
	"logout":         true,
	"moods":          true,
	"event-activity": true,
	"profile":        true,
	"audit-logs":     true,
	"lookups":        true,
}

// routeLabel collapses ids out of a path so label cardinality stays bounded.
func routeLabel(parts []string) string {
	if len(parts) == 0 {
		return "/"
	}
	switch parts[0] {
	case "api":
		if len(parts) < 2 {
			return "/api"
		}
		switch parts[1] {
		case "events":
			switch len(parts) {
			case 2:
				return "/api/events"
			case 3:
				if parts[2] == "basic" {
					return "/api/events/basic"
				}
				return "/api/events/:id"
			case 5:
				if parts[3] == "responses" {
					return "/api/events/:id/responses/:questionId"
				}
				if parts[3] == "mappings" && (parts[4] == "emotions" || parts[4] == "associations") {
					return "/api/events/:id/mappings/" + parts[4]
				}
			}
			return "/api/events/other"
		case "newsroom":
			if len(parts) > 2 {
				return "/api/newsroom/:id"
			}
			return "/api/newsroom"
		}
		if len(parts) == 2 && apiRoutes[parts[1]] {
			return "/api/" + parts[1]
		}
		return "/api/other"
	case "create":
		switch len(parts) {
		case 2:
			return "/create/:template"
		case 4:
			return "/create/:template/step/:index"
		}
		return "/create/other"
	case "events":
		return "/events/:id"
	case "metrics":
		return "/metrics"
	}
	return "other"
}

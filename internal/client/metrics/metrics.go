// Package metrics declares the Prometheus collectors of the client. Collectors
// are registered on an injected registerer so tests can use a private registry.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline instruments the authenticated request pipeline.
type Pipeline struct {
	Requests  *prometheus.CounterVec
	Duration  *prometheus.HistogramVec
	Refreshes *prometheus.CounterVec
	Retries   prometheus.Counter
}

// NewPipeline creates the pipeline collectors and registers them on reg when
// it is not nil.
func NewPipeline(reg prometheus.Registerer) *Pipeline {
	m := &Pipeline{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepost_client_requests_total",
				Help: "Total number of API calls issued, by method and status class.",
			},
			[]string{"method", "class"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradepost_client_request_duration_seconds",
				Help:    "API call latencies in seconds, per attempt.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		Refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepost_client_refresh_total",
				Help: "Credential refresh attempts, by outcome.",
			},
			[]string{"outcome"},
		),
		Retries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tradepost_client_retries_total",
				Help: "Calls re-issued after a successful credential refresh.",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Requests, m.Duration, m.Refreshes, m.Retries)
	}
	return m
}

// StatusClass maps an HTTP status to "2xx".."5xx"; zero means the call never
// got a response.
func StatusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}

// Inbox instruments the polling synchronization controller.
type Inbox struct {
	Polls     *prometheus.CounterVec
	Discarded *prometheus.CounterVec
	MarkReads *prometheus.CounterVec
}

func NewInbox(reg prometheus.Registerer) *Inbox {
	m := &Inbox{
		Polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepost_client_inbox_polls_total",
				Help: "Inbox fetches, by loop and outcome.",
			},
			[]string{"loop", "outcome"},
		),
		Discarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepost_client_inbox_discarded_total",
				Help: "Fetch results dropped because the view moved on.",
			},
			[]string{"loop"},
		),
		MarkReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepost_client_inbox_mark_read_total",
				Help: "Mark-read calls, by outcome.",
			},
			[]string{"outcome"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Polls, m.Discarded, m.MarkReads)
	}
	return m
}

// Outcome is the label value for a call that returned err.
func Outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

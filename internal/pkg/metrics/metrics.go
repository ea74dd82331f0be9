package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raggate_requests_total",
		Help: "The total number of ask requests processed",
	}, []string{"status"})

	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "raggate_latency_bucket",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	StageRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raggate_stage_rejects_total",
		Help: "Total pipeline rejections by stage and reason",
	}, []string{"stage", "reason"})

	SafetyFindings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raggate_safety_findings_total",
		Help: "Total safety detector hits by pass and kind",
	}, []string{"pass", "kind"})

	IntegrityFaults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "raggate_integrity_faults_total",
		Help: "Retrieved chunks discarded for tenant or chatbot mismatch",
	})

	RateLimitRejects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "raggate_rate_limit_rejects_total",
		Help: "Requests denied by the rate-limit rule",
	})

	AuditDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "raggate_audit_dropped_total",
		Help: "Audit records dropped because the queue was full",
	})

	RuleSetReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raggate_ruleset_reloads_total",
		Help: "Policy rule-set reload attempts",
	}, []string{"result"})
)

package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder exposes Prometheus metrics for the agent. A nil Recorder is a
// valid no-op.
type Recorder struct {
	memberEvents     *prometheus.CounterVec
	tagsStripped     *prometheus.CounterVec
	timersStarted    prometheus.Counter
	timersRetired    *prometheus.CounterVec
	escalations      *prometheus.CounterVec
	gatewayCalls     *prometheus.HistogramVec
	gatewayErrors    *prometheus.CounterVec
	persistFailures  prometheus.Counter
	delayParseErrors prometheus.Counter
	sweepDuration    *prometheus.HistogramVec
	sweepErrors      *prometheus.CounterVec
	memberFailures   *prometheus.CounterVec
	rateLimited      prometheus.Counter
	commands         *prometheus.CounterVec
	activeTimers     prometheus.Gauge
	killSwitch       prometheus.Gauge
	backoffGauge     *prometheus.GaugeVec
	kafkaLag         *prometheus.GaugeVec
	kafkaErrors      *prometheus.CounterVec
	ackPublish       *prometheus.CounterVec
	ackRetry         prometheus.Counter
	ackQueueDepth    prometheus.Gauge
	ackLatency       prometheus.Histogram
	ackQueueFailures prometheus.Counter
	ackQueueBlocked  prometheus.Counter
	backend          string
}

// NewRecorder registers metrics with provided registry.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		memberEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_member_events_total",
			Help: "Membership-change events handled grouped by source",
		}, []string{"source"}),
		tagsStripped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_tags_stripped_total",
			Help: "Removal tags stripped by the trigger reconciler grouped by path and result",
		}, []string{"path", "result"}),
		timersStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moderation_timers_started_total",
			Help: "Punishment timers started",
		}),
		timersRetired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_timers_retired_total",
			Help: "Punishment timers retired grouped by reason",
		}, []string{"reason"}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_escalations_total",
			Help: "Escalation actions attempted grouped by action and result",
		}, []string{"action", "result"}),
		gatewayCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "moderation_gateway_call_duration_seconds",
			Help:    "Latency of action gateway calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "result"}),
		gatewayErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_gateway_errors_total",
			Help: "Action gateway failures grouped by operation and backend",
		}, []string{"op", "backend"}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moderation_persist_failures_total",
			Help: "Failed writes of the moderation state files",
		}),
		delayParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moderation_delay_parse_errors_total",
			Help: "Punishment rules skipped because their delay could not be parsed",
		}),
		sweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "moderation_sweep_duration_seconds",
			Help:    "Duration of periodic sweeps grouped by loop and result",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"loop", "result"}),
		sweepErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_sweep_errors_total",
			Help: "Failed periodic sweeps grouped by loop",
		}, []string{"loop"}),
		memberFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_sweep_member_failures_total",
			Help: "Members a sweep could not evaluate, left for the next tick, grouped by loop",
		}, []string{"loop"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moderation_rate_limited_total",
			Help: "Escalation actions deferred by the action rate guardrail",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_commands_total",
			Help: "Administrative commands handled grouped by name and result",
		}, []string{"command", "result"}),
		activeTimers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "moderation_active_timers",
			Help: "Number of running punishment timers",
		}),
		killSwitch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "moderation_kill_switch",
			Help: "Kill-switch state (1=moderation actions disabled)",
		}),
		backoffGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "moderation_backoff_seconds",
			Help: "Current backoff duration per component",
		}, []string{"component"}),
		kafkaLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "moderation_consumer_lag",
			Help: "Member event consumer lag by partition",
		}, []string{"partition"}),
		kafkaErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_consumer_errors_total",
			Help: "Member event consumer errors grouped by reason",
		}, []string{"reason"}),
		ackPublish: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_audit_publish_total",
			Help: "Audit record publish outcomes grouped by status",
		}, []string{"status"}),
		ackRetry: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moderation_audit_retry_total",
			Help: "Total audit record publish retries",
		}),
		ackQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "moderation_audit_queue_depth",
			Help: "Number of queued audit records awaiting publish",
		}),
		ackLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "moderation_audit_latency_seconds",
			Help:    "Latency between a moderation action and its audit record being published",
			Buckets: prometheus.DefBuckets,
		}),
		ackQueueFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moderation_audit_queue_failures_total",
			Help: "Failures encountered when processing the audit queue",
		}),
		ackQueueBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moderation_audit_queue_blocked_total",
			Help: "Number of times the audit queue rejected enqueue due to capacity",
		}),
	}

	reg.MustRegister(
		r.memberEvents,
		r.tagsStripped,
		r.timersStarted,
		r.timersRetired,
		r.escalations,
		r.gatewayCalls,
		r.gatewayErrors,
		r.persistFailures,
		r.delayParseErrors,
		r.sweepDuration,
		r.sweepErrors,
		r.memberFailures,
		r.rateLimited,
		r.commands,
		r.activeTimers,
		r.killSwitch,
		r.backoffGauge,
		r.kafkaLag,
		r.kafkaErrors,
		r.ackPublish,
		r.ackRetry,
		r.ackQueueDepth,
		r.ackLatency,
		r.ackQueueFailures,
		r.ackQueueBlocked,
	)
	return r
}

// Handler returns HTTP handler serving /metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// SetBackend identifies the gateway backend for backend-labelled counters.
func (r *Recorder) SetBackend(backend string) {
	if r != nil {
		r.backend = backend
	}
}

// ObserveMemberEvent counts a handled membership-change event.
func (r *Recorder) ObserveMemberEvent(source string) {
	if r == nil {
		return
	}
	r.memberEvents.WithLabelValues(orUnknown(source)).Inc()
}

// ObserveTagStripped records one removal attempt by the reconciler.
func (r *Recorder) ObserveTagStripped(path string, err error) {
	if r == nil {
		return
	}
	r.tagsStripped.WithLabelValues(orUnknown(path), resultLabel(err)).Inc()
}

// ObserveTimerStarted increments the started timers counter.
func (r *Recorder) ObserveTimerStarted() {
	if r == nil {
		return
	}
	r.timersStarted.Inc()
}

// ObserveTimerRetired records why a timer was retired.
func (r *Recorder) ObserveTimerRetired(reason string) {
	if r == nil {
		return
	}
	r.timersRetired.WithLabelValues(orUnknown(reason)).Inc()
}

// ObserveEscalation records an escalation attempt outcome.
func (r *Recorder) ObserveEscalation(action, result string) {
	if r == nil {
		return
	}
	r.escalations.WithLabelValues(orUnknown(action), orUnknown(result)).Inc()
}

// ObserveGatewayCall records latency and failures of one gateway call.
func (r *Recorder) ObserveGatewayCall(op string, d time.Duration, err error) {
	if r == nil {
		return
	}
	r.gatewayCalls.WithLabelValues(orUnknown(op), resultLabel(err)).Observe(d.Seconds())
	if err != nil {
		r.gatewayErrors.WithLabelValues(orUnknown(op), orUnknown(r.backend)).Inc()
	}
}

// ObservePersistFailure increments the persistence failure counter.
func (r *Recorder) ObservePersistFailure() {
	if r == nil {
		return
	}
	r.persistFailures.Inc()
}

// ObserveDelayParseError increments the skipped-rule counter.
func (r *Recorder) ObserveDelayParseError() {
	if r == nil {
		return
	}
	r.delayParseErrors.Inc()
}

// ObserveSweep records a completed sweep for loop.
func (r *Recorder) ObserveSweep(loop string, d time.Duration, err error) {
	if r == nil {
		return
	}
	r.sweepDuration.WithLabelValues(orUnknown(loop), resultLabel(err)).Observe(d.Seconds())
	if err != nil {
		r.sweepErrors.WithLabelValues(orUnknown(loop)).Inc()
	}
}

// ObserveSweepMemberFailure counts a member skipped by loop after a gateway
// failure. It does not fail the sweep.
func (r *Recorder) ObserveSweepMemberFailure(loop string) {
	if r == nil {
		return
	}
	r.memberFailures.WithLabelValues(orUnknown(loop)).Inc()
}

// ObserveRateLimited counts an action deferred by the rate guardrail.
func (r *Recorder) ObserveRateLimited() {
	if r == nil {
		return
	}
	r.rateLimited.Inc()
}

// ObserveCommand records an administrative command outcome.
func (r *Recorder) ObserveCommand(name string, err error) {
	if r == nil {
		return
	}
	r.commands.WithLabelValues(orUnknown(name), resultLabel(err)).Inc()
}

// SetActiveTimers records the number of running punishment timers.
func (r *Recorder) SetActiveTimers(count int) {
	if r == nil {
		return
	}
	r.activeTimers.Set(float64(count))
}

// SetKillSwitch toggles the kill-switch gauge (1 means actions disabled).
func (r *Recorder) SetKillSwitch(enabled bool) {
	if r == nil {
		return
	}
	if enabled {
		r.killSwitch.Set(1)
	} else {
		r.killSwitch.Set(0)
	}
}

// ObserveBackoff records the current backoff duration for a component.
func (r *Recorder) ObserveBackoff(component string, duration time.Duration) {
	if r == nil {
		return
	}
	r.backoffGauge.WithLabelValues(component).Set(duration.Seconds())
}

// ObserveKafkaLag reports consumer lag per partition.
func (r *Recorder) ObserveKafkaLag(partition int32, lag int64) {
	if r == nil {
		return
	}
	r.kafkaLag.WithLabelValues(fmt.Sprintf("%d", partition)).Set(float64(lag))
}

// ObserveKafkaError increments consumer error counters.
func (r *Recorder) ObserveKafkaError(reason string) {
	if r == nil {
		return
	}
	r.kafkaErrors.WithLabelValues(orUnknown(reason)).Inc()
}

// ObserveAckPublish records audit publish outcome.
func (r *Recorder) ObserveAckPublish(status string) {
	if r == nil {
		return
	}
	r.ackPublish.WithLabelValues(orUnknown(status)).Inc()
}

// ObserveAckRetry increments retry counter.
func (r *Recorder) ObserveAckRetry() {
	if r == nil {
		return
	}
	r.ackRetry.Inc()
}

// ObserveAckQueueDepth records queue depth.
func (r *Recorder) ObserveAckQueueDepth(size int) {
	if r == nil {
		return
	}
	r.ackQueueDepth.Set(float64(size))
}

// ObserveAckLatency records audit publish latency in seconds.
func (r *Recorder) ObserveAckLatency(seconds float64) {
	if r == nil {
		return
	}
	r.ackLatency.Observe(seconds)
}

// ObserveAckQueueFailure increments queue failure counter.
func (r *Recorder) ObserveAckQueueFailure() {
	if r == nil {
		return
	}
	r.ackQueueFailures.Inc()
}

// ObserveAckQueueBlocked increments blocked counter.
func (r *Recorder) ObserveAckQueueBlocked() {
	if r == nil {
		return
	}
	r.ackQueueBlocked.Inc()
}

// EscalationCounter exposes the escalation counter (used in tests).
func (r *Recorder) EscalationCounter() *prometheus.CounterVec { return r.escalations }

// TimersRetiredCounter exposes the retired timers counter (used in tests).
func (r *Recorder) TimersRetiredCounter() *prometheus.CounterVec { return r.timersRetired }

// TagsStrippedCounter exposes the stripped tags counter (used in tests).
func (r *Recorder) TagsStrippedCounter() *prometheus.CounterVec { return r.tagsStripped }

// GatewayErrorCounter exposes the gateway error counter (used in tests).
func (r *Recorder) GatewayErrorCounter() *prometheus.CounterVec { return r.gatewayErrors }

// KafkaErrorCounter exposes the consumer error counter (used in tests).
func (r *Recorder) KafkaErrorCounter() *prometheus.CounterVec { return r.kafkaErrors }

// SweepMemberFailureCounter exposes the per-member sweep failure counter (used in tests).
func (r *Recorder) SweepMemberFailureCounter() *prometheus.CounterVec { return r.memberFailures }

// PersistFailureCounter exposes the persistence failure counter (used in tests).
func (r *Recorder) PersistFailureCounter() prometheus.Counter { return r.persistFailures }

// MemberEventCounter exposes the membership event counter (used in tests).
func (r *Recorder) MemberEventCounter() *prometheus.CounterVec { return r.memberEvents }

package idem

import (
	"github.com/ceyewan/idemguard/metrics"
	"github.com/ceyewan/idemguard/xerrors"
)

const (
	// MetricRequestsTotal 按结果统计的请求数 (Counter)
	MetricRequestsTotal = "idem_requests_total"
	// MetricExecutionDuration 业务函数持锁执行耗时 (Histogram)
	MetricExecutionDuration = "idem_execution_duration_seconds"
	// MetricInflight 当前持锁执行中的请求数 (Gauge)
	MetricInflight = "idem_inflight_executions"

	// LabelOutcome 结果标签
	LabelOutcome = "outcome"
)

// outcome 标签取值
const (
	OutcomeExecuted  = "executed"
	OutcomeResumed   = "resumed"
	OutcomeReplayed  = "replayed"
	OutcomeMismatch  = "mismatch"
	OutcomeLocked    = "locked"
	OutcomeRace      = "race"
	OutcomeStale     = "stale"
	OutcomeInvalid   = "invalid"
	OutcomeNotSet    = "response_not_set"
	OutcomeWorkError = "work_error"
	OutcomeError     = "error"
)

type instruments struct {
	requests metrics.Counter
	duration metrics.Histogram
	inflight metrics.Gauge
}

func newInstruments(m metrics.Meter) (*instruments, error) {
	requests, err := m.Counter(MetricRequestsTotal, "Idempotent requests by outcome.")
	if err != nil {
		return nil, xerrors.Wrap(err, "idem: create requests counter")
	}
	duration, err := m.Histogram(MetricExecutionDuration, "Duration of locked unit-of-work executions.", metrics.WithUnit("s"))
	if err != nil {
		return nil, xerrors.Wrap(err, "idem: create duration histogram")
	}
	inflight, err := m.Gauge(MetricInflight, "Units of work currently holding a record lock.")
	if err != nil {
		return nil, xerrors.Wrap(err, "idem: create inflight gauge")
	}
	return &instruments{requests: requests, duration: duration, inflight: inflight}, nil
}

package ratelimit

import (
	"context"

	"github.com/ceyewan/idemguard/metrics"
	"github.com/ceyewan/idemguard/xerrors"
)

const (
	// MetricRequestsTotal 限流检查次数 (Counter)
	MetricRequestsTotal = "ratelimit_requests_total"

	// LabelDriver 驱动标签 (standalone/redis)
	LabelDriver = "driver"
	// LabelResult 结果标签 (allowed/denied/error)
	LabelResult = "result"
)

const (
	resultAllowed = "allowed"
	resultDenied  = "denied"
	resultError   = "error"
)

type instruments struct {
	requests metrics.Counter
}

func newInstruments(m metrics.Meter) (*instruments, error) {
	requests, err := m.Counter(MetricRequestsTotal, "Rate limit checks by result.")
	if err != nil {
		return nil, xerrors.Wrap(err, "ratelimit: create requests counter")
	}
	return &instruments{requests: requests}, nil
}

func (i *instruments) observe(ctx context.Context, driver DriverType, allowed bool, err error) {
	result := resultAllowed
	switch {
	case err != nil:
		result = resultError
	case !allowed:
		result = resultDenied
	}
	i.requests.Inc(ctx, metrics.L(LabelDriver, string(driver)), metrics.L(LabelResult, result))
}

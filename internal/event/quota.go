package event

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// DefaultMaxSteps bounds the deliveries of one flow. A full market cascade is
// one calendar update, one security list reload and a few hundred quote
// tables.
const DefaultMaxSteps = 10000

// quota counts deliveries in one flow.
//
// The acyclic graph guarantees termination; the quota bounds fan-out, such as
// a security list that suddenly reports far more rows than expected.
type quota struct {
	flow     string
	maxSteps int64
	current  atomic.Int64
}

func newQuota(flow string, maxSteps int) *quota {
	return &quota{flow: flow, maxSteps: int64(maxSteps)}
}

// check counts one delivery and fails once the limit is passed.
func (q *quota) check() error {
	n := q.current.Add(1)
	if n > q.maxSteps {
		return &QuotaError{Flow: q.flow, Steps: int(n), Limit: int(q.maxSteps)}
	}
	return nil
}

// QuotaError is returned when one flow exceeds its delivery limit. It stops
// the whole cascade.
type QuotaError struct {
	Flow  string
	Steps int
	Limit int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("flow %s exceeded max steps quota: %d steps > %d limit", e.Flow, e.Steps, e.Limit)
}

// IsQuotaError reports whether err wraps a QuotaError.
func IsQuotaError(err error) bool {
	var qe *QuotaError
	return errors.As(err, &qe)
}

package serial

import (
	stderrors "errors"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/errors"
)

// Outcome classifies one finished exchange.
type Outcome int

const (
	// Acknowledged means a well formed reply arrived; its status may still be a failure.
	Acknowledged Outcome = iota
	TimedOut
	Malformed
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Acknowledged:
		return "acknowledged"
	case TimedOut:
		return "timed_out"
	case Malformed:
		return "malformed"
	default:
		return "failed"
	}
}

// OutcomeOf maps the error returned by Exchange to an Outcome.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return Acknowledged
	case stderrors.Is(err, errors.ErrExchangeTimeout):
		return TimedOut
	case stderrors.Is(err, errors.ErrDecode):
		return Malformed
	default:
		return Failed
	}
}

package sim

import (
	"fmt"

	"github.com/heitortanoue/swarmmon/pkg/device"
)

// RoundError reports a device program that failed during a step. The whole
// step is discarded when it happens.
type RoundError struct {
	Round  int
	Device device.ID
	Cause  error
}

func (e *RoundError) Error() string {
	return fmt.Sprintf("round %d aborted by device %d: %v", e.Round, e.Device, e.Cause)
}

func (e *RoundError) Unwrap() error {
	return e.Cause
}

// asError turns a recovered panic value into an error
func asError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("%v", r)
}

package whiteflag

import (
	"github.com/iotaledger/hive.go/ierrors"
)

var (
	// ErrMissingMessage is returned when a non-boundary message of the cone is not stored. The
	// round must be retried once it arrived.
	ErrMissingMessage = ierrors.New("message missing in milestone cone")
	// ErrMilestoneGap is returned for a milestone that does not follow the confirmed index.
	ErrMilestoneGap = ierrors.New("milestone does not follow the confirmed index")
	// ErrInvariantViolation means the confirmation algorithm itself is broken; the engine refuses
	// further rounds.
	ErrInvariantViolation = ierrors.New("white-flag invariant violated")
)

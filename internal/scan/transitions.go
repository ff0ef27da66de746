package scan

import (
	"errors"
	"fmt"
)

// Trigger is a client-invoked operation against a scan.
type Trigger string

// Triggers accepted by the state machine.
const (
	TriggerProcessChunkDiscovery Trigger = "process-chunk-discovery"
	TriggerProcessChunkDeep      Trigger = "process-chunk-deep"
	TriggerDetectNiche           Trigger = "detect-niche"
	TriggerConfirmNiche          Trigger = "confirm-niche"
	TriggerProvideCredentials    Trigger = "provide-credentials"
	TriggerCancel                Trigger = "cancel"
)

// legalSources maps each trigger to the statuses it may fire from.
// Cancel is handled separately: legal from any non-terminal status.
var legalSources = map[Trigger][]Status{
	TriggerProcessChunkDiscovery: {StatusCrawling},
	TriggerProcessChunkDeep:      {StatusDeepCrawling},
	TriggerDetectNiche:           {StatusCrawling, StatusDiscovering},
	TriggerConfirmNiche:          {StatusNicheDetected, StatusAwaitingConfirmation},
	TriggerProvideCredentials:    {StatusAwaitingAuth},
}

// TransitionError reports a trigger fired from an illegal status. It is
// not retriable with the same input; the caller must re-read state.
type TransitionError struct {
	Trigger Trigger
	Current Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("trigger %s not allowed while scan is %s", e.Trigger, e.Current)
}

// ErrIllegalTransition lets callers match transition rejections with
// errors.Is regardless of the concrete trigger and status.
var ErrIllegalTransition = errors.New("illegal scan transition")

// Is makes TransitionError match ErrIllegalTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// CheckTrigger validates that a trigger is legal from the given status.
func CheckTrigger(t Trigger, from Status) error {
	if t == TriggerCancel {
		if from.Terminal() {
			return &TransitionError{Trigger: t, Current: from}
		}
		return nil
	}
	for _, s := range legalSources[t] {
		if s == from {
			return nil
		}
	}
	return &TransitionError{Trigger: t, Current: from}
}

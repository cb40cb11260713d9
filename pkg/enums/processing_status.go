package enums

import "fmt"

// ProcessingStatus tracks a certificate through the verify-and-anchor pipeline.
type ProcessingStatus string

const (
	ProcessingStatusNotProcessed ProcessingStatus = "not_processed"
	ProcessingStatusProcessing   ProcessingStatus = "processing"
	ProcessingStatusCompleted    ProcessingStatus = "completed"
	// ProcessingStatusPartial means payment and upload succeeded but the ledger anchor did not.
	ProcessingStatusPartial ProcessingStatus = "partial"
	ProcessingStatusFailed  ProcessingStatus = "failed"
)

var validProcessingStatuses = []ProcessingStatus{
	ProcessingStatusNotProcessed,
	ProcessingStatusProcessing,
	ProcessingStatusCompleted,
	ProcessingStatusPartial,
	ProcessingStatusFailed,
}

var processingTransitions = map[ProcessingStatus][]ProcessingStatus{
	ProcessingStatusNotProcessed: {ProcessingStatusProcessing},
	ProcessingStatusProcessing: {
		ProcessingStatusProcessing,
		ProcessingStatusCompleted,
		ProcessingStatusPartial,
		ProcessingStatusFailed,
	},
	ProcessingStatusPartial: {ProcessingStatusCompleted, ProcessingStatusPartial},
	ProcessingStatusFailed:  {ProcessingStatusProcessing},
}

// ClaimableProcessingStatuses lists the states a new verification attempt may start from.
var ClaimableProcessingStatuses = []ProcessingStatus{
	ProcessingStatusNotProcessed,
	ProcessingStatusFailed,
}

func (s ProcessingStatus) String() string {
	return string(s)
}

func (s ProcessingStatus) IsValid() bool {
	for _, candidate := range validProcessingStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsSettled reports whether payment and upload are done and the record must not be re-paid.
func (s ProcessingStatus) IsSettled() bool {
	return s == ProcessingStatusCompleted || s == ProcessingStatusPartial
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s ProcessingStatus) CanTransitionTo(next ProcessingStatus) bool {
	for _, candidate := range processingTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

func ParseProcessingStatus(value string) (ProcessingStatus, error) {
	for _, candidate := range validProcessingStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid processing status %q", value)
}

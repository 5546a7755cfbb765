package enums

import "fmt"

// ObservationStatus is the normalized outcome every payment backend reports.
type ObservationStatus string

const (
	ObservationConfirming ObservationStatus = "confirming"
	ObservationConfirmed  ObservationStatus = "confirmed"
	ObservationExpired    ObservationStatus = "expired"
)

var validObservationStatuses = []ObservationStatus{
	ObservationConfirming,
	ObservationConfirmed,
	ObservationExpired,
}

// String implements fmt.Stringer.
func (o ObservationStatus) String() string {
	return string(o)
}

// IsValid reports whether the value is a known ObservationStatus.
func (o ObservationStatus) IsValid() bool {
	for _, candidate := range validObservationStatuses {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseObservationStatus converts raw input into an ObservationStatus.
func ParseObservationStatus(value string) (ObservationStatus, error) {
	for _, candidate := range validObservationStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid observation status %q", value)
}

// ObservationSource tags where an observation came from, for logs and metrics.
type ObservationSource string

const (
	SourcePoll     ObservationSource = "poll"
	SourceBTCPay   ObservationSource = "btcpay"
	SourceCoinbase ObservationSource = "coinbase"
	SourceSweep    ObservationSource = "sweep"
	SourceAdmin    ObservationSource = "admin"
)

// String implements fmt.Stringer.
func (s ObservationSource) String() string {
	return string(s)
}

package nuki

import (
	"errors"
	"fmt"
)

// NormalizationReason classifies why a webhook body could not be turned
// into a normalized event.
type NormalizationReason string

const (
	ReasonMissingDeviceID   NormalizationReason = "missing_device_id"
	ReasonInvalidTimestamp  NormalizationReason = "invalid_timestamp"
	ReasonUnrecognizedShape NormalizationReason = "unrecognized_shape"
)

// NormalizationError is returned when a webhook body is rejected. These are
// expected, locally recoverable failures: the delivery is dropped and
// logged, nothing else happens.
type NormalizationError struct {
	Reason NormalizationReason
	Detail string
}

func (e *NormalizationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("normalization failed: %s", e.Reason)
	}
	return fmt.Sprintf("normalization failed: %s: %s", e.Reason, e.Detail)
}

// IsNormalizationError reports whether err is a NormalizationError with the
// given reason.
func IsNormalizationError(err error, reason NormalizationReason) bool {
	var ne *NormalizationError
	return errors.As(err, &ne) && ne.Reason == reason
}

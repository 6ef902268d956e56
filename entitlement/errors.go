package entitlement

import (
	"errors"
	"fmt"
)

// Kind classifies operation failures surfaced to the initiating caller.
type Kind int

const (
	KindUnknown Kind = iota
	KindProductNotFound
	KindUserCancelled
	KindPaymentNotAllowed
	KindNetworkError
	KindVerificationFailed
	KindTrialAlreadyUsed
	KindDeviceBlocked
)

func (k Kind) String() string {
	switch k {
	case KindProductNotFound:
		return "product_not_found"
	case KindUserCancelled:
		return "user_cancelled"
	case KindPaymentNotAllowed:
		return "payment_not_allowed"
	case KindNetworkError:
		return "network_error"
	case KindVerificationFailed:
		return "verification_failed"
	case KindTrialAlreadyUsed:
		return "trial_already_used"
	case KindDeviceBlocked:
		return "device_blocked"
	default:
		return "unknown"
	}
}

// OpError is a typed failure from purchase, restore, trial start, or
// sign-in handling. UserCancelled is an OpError rather than a success
// so callers branch on one result shape.
type OpError struct {
	Kind Kind
	Err  error
}

func (e *OpError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("entitlement: %s: %v", e.Kind, e.Err)
	}
	return "entitlement: " + e.Kind.String()
}

func (e *OpError) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from err, or KindUnknown.
func KindOf(err error) Kind {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return KindUnknown
}

func opErr(kind Kind, err error) *OpError { return &OpError{Kind: kind, Err: err} }

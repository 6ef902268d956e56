package ledger

import "errors"

// Sentinel errors implementations wrap so callers can classify
// platform failures without knowing the backend.
var (
	ErrProductNotFound   = errors.New("ledger: product not found")
	ErrPaymentNotAllowed = errors.New("ledger: payment not allowed on this device")
	ErrNetwork           = errors.New("ledger: network error")
)

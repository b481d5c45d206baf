package reminder

import "errors"

var (
	// ErrNoValidOccurrence means the config resolves to no fire instant strictly in the future.
	// Callers treat it as "no reminder for this config", not as a fault.
	ErrNoValidOccurrence = errors.New("no valid occurrence")

	// ErrDeliveryRejected means the delivery channel refused or timed out.
	// The config is retried on the next reconciliation sweep.
	ErrDeliveryRejected = errors.New("delivery rejected")

	// ErrUnknownHandle is returned by delivery channels for handles they do not hold.
	// The core treats it as a benign no-op.
	ErrUnknownHandle = errors.New("unknown handle")

	// ErrInvalidConfig is returned when a config cannot be constructed.
	ErrInvalidConfig = errors.New("invalid reminder config")
)

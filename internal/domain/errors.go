package domain

import "errors"

var (
	// ErrInvalidRecord is returned when an inbound message does not match the telemetry schema.
	ErrInvalidRecord = errors.New("invalid telemetry record")

	// ErrOutOfOrder is returned when a record is older than the latest one accepted for its car.
	ErrOutOfOrder = errors.New("telemetry record out of order")

	// ErrInternal is returned when processing of a single record failed unexpectedly.
	ErrInternal = errors.New("internal processing error")

	// ErrProcessorStopped is returned when a record arrives after shutdown began.
	ErrProcessorStopped = errors.New("stream processor stopped")
)

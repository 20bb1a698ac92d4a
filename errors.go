package polestar

import "fmt"

// VinNotFoundError indicates a lookup for a VIN outside the available set.
type VinNotFoundError struct {
	VIN string
}

func (e *VinNotFoundError) Error() string {
	return fmt.Sprintf("VIN %s not available", e.VIN)
}

// NoDataError indicates the account or vehicle has no data for the request.
type NoDataError struct {
	Message string
}

func (e *NoDataError) Error() string {
	return e.Message
}

// ConversionError wraps a record parser failure over a cached payload.
type ConversionError struct {
	Category string
	Err      error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("failed to convert %s data: %v", e.Category, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

package timetable

import "errors"

// Sentinel errors returned by the engine. Callers match them with errors.Is.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidRequirement = errors.New("invalid requirement")
	ErrCellLocked         = errors.New("cell is locked")
	ErrInvalidPeriodIndex = errors.New("invalid period index")
)

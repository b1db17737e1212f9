package core

import "errors"

// Error taxonomy shared by the storage and HTTP layers. State conflicts are
// detected by guarding updates with the expected prior state and checking
// rows-affected, then surfaced as one of these sentinels.
var (
	ErrNotFound     = errors.New("not found")
	ErrAccessDenied = errors.New("access denied")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
	ErrNotAnExpert  = errors.New("not an expert")
)

package service

import "errors"

var (
	// ErrIngestionInFlight is returned when a second ingestion is requested
	// for a version that is already being ingested.
	ErrIngestionInFlight = errors.New("an ingestion is already in flight for this version")
	// ErrIllegalTransition is returned when a layer status write would move
	// backwards without an explicit re-run request.
	ErrIllegalTransition = errors.New("illegal layer status transition")
	// ErrVersionNotReady is returned when publishing a version whose parsing
	// layer has not completed.
	ErrVersionNotReady = errors.New("version parsing is not completed")
	// ErrSourceUnreadable wraps a reader-level failure that aborts parsing.
	ErrSourceUnreadable = errors.New("source file is unreadable")
)

package sync

import (
	"errors"
	"fmt"
)

var (
	// ErrReconciliation matches every *ReconciliationError.
	ErrReconciliation = errors.New("reconciliation failed")

	// ErrPageFetch matches every *PageFetchError.
	ErrPageFetch = errors.New("failed to fetch page")

	// ErrNoRemote is returned when no remote client is configured for a
	// resource.
	ErrNoRemote = errors.New("no remote client for resource")
)

// ReconciliationError reports a page that could not be committed. Pages
// before it are committed; the failing page is rolled back.
type ReconciliationError struct {
	Resource string
	Page     int
	Err      error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("%s: page %d: %v", e.Resource, e.Page, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }

func (e *ReconciliationError) Is(target error) bool { return target == ErrReconciliation }

// PageFetchError reports a page the remote did not deliver. Nothing of the
// page was written.
type PageFetchError struct {
	Resource string
	Page     int
	Err      error
}

func (e *PageFetchError) Error() string {
	return fmt.Sprintf("%s: fetch page %d: %v", e.Resource, e.Page, e.Err)
}

func (e *PageFetchError) Unwrap() error { return e.Err }

func (e *PageFetchError) Is(target error) bool { return target == ErrPageFetch }

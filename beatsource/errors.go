package beatsource

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for 404 responses; the playlist fetch uses it to
	// decide the single chart-endpoint fallback hop.
	ErrNotFound = errors.New("catalog entity not found")

	// ErrRegionLocked is returned for territory-restricted content.
	ErrRegionLocked = errors.New("region locked")

	// ErrStreamUnavailable is returned when the download endpoint answers
	// without a signed location.
	ErrStreamUnavailable = errors.New("stream location is missing")
)

// StatusError is the generic non-2xx failure carrying the upstream status and
// body for diagnosis.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

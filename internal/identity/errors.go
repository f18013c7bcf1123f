package identity

import (
	"errors"
	"fmt"

	"faceindex/internal/index"
)

// EnrollError reports a failed enrollment together with the point ID that
// was attempted. The vector may already be indexed; callers retry with the
// same point ID to stay idempotent, and the sweeper removes the orphan if
// they never do.
type EnrollError struct {
	PointID string
	Err     error
}

func (e *EnrollError) Error() string {
	return fmt.Sprintf("enroll point %s: %v", e.PointID, e.Err)
}

func (e *EnrollError) Unwrap() error {
	return e.Err
}

func isNotFound(err error) bool {
	return errors.Is(err, index.ErrNotFound)
}

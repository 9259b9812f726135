package merge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/stwalsh4118/reach/internal/crs"
)

var (
	// ErrJoinIntegrity marks a polygon that cannot be joined to exactly one
	// complete facility record.
	ErrJoinIntegrity = errors.New("join integrity violation")
	// ErrDuplicateFacility marks a polygon whose identifier matches several facilities.
	ErrDuplicateFacility = fmt.Errorf("%w: duplicate facility identifier", ErrJoinIntegrity)
	// ErrUnsupportedCRS marks a polygon in a CRS that cannot be normalized.
	ErrUnsupportedCRS = crs.ErrUnsupportedCRS
)

// RecordError is a merge failure for one facility's polygon.
type RecordError struct {
	Err        error
	FacilityID string
}

func (e RecordError) Error() string {
	return fmt.Sprintf("facility %s: %v", e.FacilityID, e.Err)
}

func (e RecordError) Unwrap() error {
	return e.Err
}

// MergeErrors lists every rejected record of one merge.
type MergeErrors []RecordError

func (e MergeErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, re := range e {
		msgs = append(msgs, re.Error())
	}
	return fmt.Sprintf("%d record(s) rejected by merge: %s", len(e), strings.Join(msgs, "; "))
}

// Unwrap lets errors.Is and errors.As see every record error.
func (e MergeErrors) Unwrap() []error {
	errs := make([]error, 0, len(e))
	for _, re := range e {
		errs = append(errs, re)
	}
	return errs
}

// FacilityIDs returns the rejected identifiers in polygon order.
func (e MergeErrors) FacilityIDs() []string {
	ids := make([]string, 0, len(e))
	for _, re := range e {
		ids = append(ids, re.FacilityID)
	}
	return ids
}

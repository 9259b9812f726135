package isochrone

import "github.com/stwalsh4118/reach/internal/models"

// Outcome is the result of one attempted point. It is one of Success,
// ProviderError, ProviderWarning or InputError.
type Outcome interface {
	outcome()
}

// Success carries the polygon returned for a point.
type Success struct {
	Polygon models.IsochronePolygon
}

// ProviderError is a transport, protocol or malformed-response failure.
type ProviderError struct {
	Err     error
	Message string
}

// ProviderWarning is a degraded response. Its geometry is discarded.
type ProviderWarning struct {
	Message string
}

// InputError is a point rejected before any request was made.
type InputError struct {
	Message string
}

func (Success) outcome()         {}
func (ProviderError) outcome()   {}
func (ProviderWarning) outcome() {}
func (InputError) outcome()      {}

// categoryOf maps a non-success outcome to its failure category.
func categoryOf(o Outcome) (models.FailureCategory, string, bool) {
	switch v := o.(type) {
	case ProviderError:
		return models.FailureError, v.Message, true
	case ProviderWarning:
		return models.FailureWarning, v.Message, true
	case InputError:
		return models.FailureInput, v.Message, true
	default:
		return "", "", false
	}
}

// Batch is the result of one Fetch. Successes and Failures are disjoint by
// facility identifier and together cover every input point, in input order.
type Batch struct {
	RunID     string
	Successes []models.IsochronePolygon
	Failures  []models.FetchFailure
}

// Len returns the number of points the batch accounts for.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Successes) + len(b.Failures)
}

// FailedIDs returns the failed facility identifiers in input order.
func (b *Batch) FailedIDs() []string {
	if b == nil {
		return nil
	}
	ids := make([]string, 0, len(b.Failures))
	for _, f := range b.Failures {
		ids = append(ids, f.FacilityID)
	}
	return ids
}

package dataset

import "github.com/rotisserie/eris"

// Sentinel errors. Every error returned by this package wraps exactly one of these so callers
// can branch with errors.Is.
var (
	// ErrConfig reports an invalid construction parameter: survey discriminator, multipole
	// request, bounds or reduction factor.
	ErrConfig = eris.New("dataset: invalid configuration")
	// ErrRealisationRange reports a mock index outside the ensemble.
	ErrRealisationRange = eris.New("dataset: realisation out of range")
	// ErrEmptyEnsemble reports a branch with no realisations.
	ErrEmptyEnsemble = eris.New("dataset: empty ensemble")
	// ErrNoObservedData reports a request for observed data the archive does not carry.
	ErrNoObservedData = eris.New("dataset: no observed data")
	// ErrPoleUnavailable reports a retained multipole missing from the selected table.
	ErrPoleUnavailable = eris.New("dataset: multipole unavailable")
	// ErrSingularCovariance reports a covariance that cannot be inverted.
	ErrSingularCovariance = eris.New("dataset: covariance not invertible")
	// ErrUnsupported reports a covariance estimate the configured policy cannot produce.
	ErrUnsupported = eris.New("dataset: unsupported")
	// ErrEnsembleTooSmall reports too few realisations to estimate a covariance.
	ErrEnsembleTooSmall = eris.New("dataset: ensemble too small")
	// ErrShape reports an inconsistently shaped covariance.
	ErrShape = eris.New("dataset: shape mismatch")
)

package dataset

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/barry-cosmo/barry/internal/archive"
)

// Kind is the clustering statistic a dataset measures.
type Kind int

const (
	CorrelationFunction Kind = iota + 1
	PowerSpectrum
)

// String returns the short statistic name.
func (k Kind) String() string {
	switch k {
	case CorrelationFunction:
		return "xi"
	case PowerSpectrum:
		return "pk"
	default:
		return "unknown"
	}
}

// ParseKind converts "xi" or "pk" into a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "xi", "cf", "correlation_function":
		return CorrelationFunction, nil
	case "pk", "ps", "power_spectrum":
		return PowerSpectrum, nil
	default:
		return 0, eris.Wrapf(ErrConfig, "unknown kind %q (valid: xi, pk)", s)
	}
}

// XLabel is the snapshot key for the independent variable.
func (k Kind) XLabel() string {
	if k == PowerSpectrum {
		return "ks"
	}
	return "dist"
}

// PoleLabel is the snapshot key for multipole pole, e.g. "xi2" or "pk0".
func (k Kind) PoleLabel(pole int) string {
	return k.String() + strconv.Itoa(pole)
}

// DefaultBounds returns the conventional fitting range of the independent variable.
func (k Kind) DefaultBounds() (lo, hi float64) {
	if k == PowerSpectrum {
		return 0.02, 0.30
	}
	return 30, 200
}

// Recon selects the reconstruction branch.
type Recon string

const (
	NoRecon  Recon = ""
	ReconIso Recon = "iso"
	ReconSym Recon = "sym"
)

// ParseRecon accepts "", "none", "pre", "iso" and "sym".
func ParseRecon(s string) (Recon, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "pre", "prerecon":
		return NoRecon, nil
	case "iso":
		return ReconIso, nil
	case "sym":
		return ReconSym, nil
	default:
		return "", eris.Wrapf(ErrConfig, "recon %q (valid: none, iso, sym)", s)
	}
}

// Post reports whether r selects the post-reconstruction branch.
func (r Recon) Post() bool { return r != NoRecon }

// Branch maps r to its archive branch.
func (r Recon) Branch() archive.Branch {
	if r.Post() {
		return archive.PostRecon
	}
	return archive.PreRecon
}

func (r Recon) validate() error {
	switch r {
	case NoRecon, ReconIso, ReconSym:
		return nil
	}
	return eris.Wrapf(ErrConfig, "recon %q (valid: none, iso, sym)", string(r))
}

// RealisationKind enumerates what a Realisation selects.
type RealisationKind int

const (
	RealisationMean RealisationKind = iota
	RealisationMock
	RealisationObserved
)

// Realisation selects the working measurement. The zero value is the ensemble mean.
type Realisation struct {
	Kind  RealisationKind
	Index int
}

// Mean selects the element-wise mean over all mock realisations.
func Mean() Realisation { return Realisation{Kind: RealisationMean} }

// Mock selects mock realisation i.
func Mock(i int) Realisation { return Realisation{Kind: RealisationMock, Index: i} }

// Observed selects the survey measurement.
func Observed() Realisation { return Realisation{Kind: RealisationObserved} }

// ParseRealisation accepts "" or "mean", "data", or a non-negative mock index.
func ParseRealisation(s string) (Realisation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mean", "none":
		return Mean(), nil
	case "data":
		return Observed(), nil
	}
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || i < 0 {
		return Realisation{}, eris.Wrapf(ErrConfig, "realisation %q is not mean, data or a mock index", s)
	}
	return Mock(i), nil
}

func (r Realisation) String() string {
	switch r.Kind {
	case RealisationMock:
		return strconv.Itoa(r.Index)
	case RealisationObserved:
		return "data"
	default:
		return "mean"
	}
}

// MarshalText encodes r as String does.
func (r Realisation) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText accepts the forms ParseRealisation accepts.
func (r *Realisation) UnmarshalText(b []byte) error {
	v, err := ParseRealisation(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// EnsemblePolicy decides how a covariance is estimated from the mocks when the archive has no
// precomputed covariance for the active branch.
type EnsemblePolicy string

const (
	// PolicySingle estimates the covariance of a single retained multipole and refuses
	// anything wider.
	PolicySingle EnsemblePolicy = "single"
	// PolicyJoint estimates the full cross-multipole covariance from the stacked data vectors.
	PolicyJoint EnsemblePolicy = "joint"
)

// ParsePolicy accepts "single" (or "") and "joint".
func ParsePolicy(s string) (EnsemblePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(PolicySingle):
		return PolicySingle, nil
	case string(PolicyJoint):
		return PolicyJoint, nil
	default:
		return "", eris.Wrapf(ErrConfig, "covariance policy %q (valid: single, joint)", s)
	}
}

// UseEnsembleSize as ReduceCovFactor divides the covariance by the number of realisations.
const UseEnsembleSize = -1

// Options configures one Dataset.
type Options struct {
	// Name overrides the display name derived from the archive.
	Name string
	Kind Kind
	// MinX and MaxX bound the independent variable (distance or wavenumber), inclusive.
	MinX, MaxX float64
	Recon      Recon
	// ReduceCovFactor divides the assembled covariance; UseEnsembleSize divides by the
	// number of realisations.
	ReduceCovFactor int
	Realisation     Realisation
	// FitPoles restricts the retained multipoles. Nil retains every multipole in the archive.
	FitPoles []int
	// Isotropic fits the monopole alone, as FitPoles [0] does.
	Isotropic bool
	// FakeDiag keeps only the diagonal of the assembled covariance.
	FakeDiag bool
	// NumMocks overrides the ensemble size reported to the fitting layer. Zero reports the
	// number of realisations.
	NumMocks int
	Policy   EnsemblePolicy
	// LogCovariance emits debug diagnostics for every assembled covariance.
	LogCovariance bool
	Logger        *zap.Logger
}

// DefaultOptions returns the conventional options for kind.
func DefaultOptions(kind Kind) Options {
	lo, hi := kind.DefaultBounds()
	return Options{
		Kind:            kind,
		MinX:            lo,
		MaxX:            hi,
		ReduceCovFactor: 1,
		Policy:          PolicySingle,
	}
}

// Validate checks the generic options. Survey-specific discriminators are checked by presets.
func (o Options) Validate() error {
	if o.Kind != CorrelationFunction && o.Kind != PowerSpectrum {
		return eris.Wrapf(ErrConfig, "kind %d (valid: xi, pk)", int(o.Kind))
	}
	if math.IsNaN(o.MinX) || math.IsNaN(o.MaxX) {
		return eris.Wrap(ErrConfig, "bounds must not be NaN")
	}
	if o.MinX > o.MaxX {
		return eris.Wrapf(ErrConfig, "min %g exceeds max %g", o.MinX, o.MaxX)
	}
	if o.ReduceCovFactor == 0 || o.ReduceCovFactor < UseEnsembleSize {
		return eris.Wrapf(ErrConfig, "reduce_cov_factor %d (valid: positive integer or -1)", o.ReduceCovFactor)
	}
	if err := o.Recon.validate(); err != nil {
		return err
	}
	if _, err := ParsePolicy(string(o.Policy)); err != nil {
		return err
	}
	if o.Realisation.Kind == RealisationMock && o.Realisation.Index < 0 {
		return eris.Wrapf(ErrRealisationRange, "realisation %d is negative", o.Realisation.Index)
	}
	if o.NumMocks < 0 {
		return eris.Wrapf(ErrConfig, "num_mocks %d must not be negative", o.NumMocks)
	}
	if o.Isotropic && o.FitPoles != nil && !slices.Equal(o.FitPoles, []int{0}) {
		return eris.Wrapf(ErrConfig, "isotropic fits the monopole only, fit poles %v conflict", o.FitPoles)
	}
	seen := make(map[int]bool, len(o.FitPoles))
	for _, p := range o.FitPoles {
		if p < 0 {
			return eris.Wrapf(ErrConfig, "fit pole %d is negative", p)
		}
		if seen[p] {
			return eris.Wrapf(ErrConfig, "fit pole %d listed twice", p)
		}
		seen[p] = true
	}
	return nil
}

// fitPoles returns the requested multipoles with Isotropic applied.
func (o Options) fitPoles() []int {
	if o.Isotropic {
		return []int{0}
	}
	return o.FitPoles
}

func (o Options) policy() EnsemblePolicy {
	if o.Policy == "" {
		return PolicySingle
	}
	return o.Policy
}

// describe renders the options for log fields.
func (o Options) describe() string {
	return fmt.Sprintf("%s [%g, %g] recon=%q realisation=%s isotropic=%t fake_diag=%t",
		o.Kind, o.MinX, o.MaxX, string(o.Recon), o.Realisation, o.Isotropic, o.FakeDiag)
}

package dataset

import (
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/barry-cosmo/barry/internal/archive"
)

// Selector carries the survey-specific discriminators a preset validates. Nil pointers and
// empty strings select the preset's default.
type Selector struct {
	RedshiftBin *int   `yaml:"redshift_bin" json:"redshift_bin,omitempty"`
	GalacticCap string `yaml:"galactic_cap" json:"galactic_cap,omitempty"`
	Variant     string `yaml:"variant" json:"variant,omitempty"`
	SmoothType  *int   `yaml:"smooth_type" json:"smooth_type,omitempty"`
	CovType     string `yaml:"cov_type" json:"cov_type,omitempty"`
}

// Preset is a named survey configuration: it validates the discriminators and options against
// the survey's closed sets and resolves the archive that backs them.
type Preset interface {
	// Name returns the unique identifier for this preset (e.g., "sdss_dr12_pk").
	Name() string

	// Kind returns the clustering statistic the preset's archives hold.
	Kind() Kind

	// Description returns a one-line summary.
	Description() string

	// Resolve validates sel and opts and returns the archive base name (no extension).
	Resolve(sel Selector, opts Options) (string, error)
}

// Registry maps preset names to their implementations.
type Registry struct {
	presets map[string]Preset
	order   []string // insertion order for deterministic iteration
}

// NewRegistry creates a registry populated with every survey preset.
func NewRegistry() *Registry {
	r := &Registry{
		presets: make(map[string]Preset),
	}

	// Power spectra
	r.Register(&SDSSDR12PK{})
	r.Register(&EBOSSLRGpCMASSPK{})
	r.Register(&Beutler2019PK{})
	r.Register(&DESIMockChallengePostPK{})
	r.Register(&DESILightconeReconPK{})
	r.Register(&DESIKP4PK{})

	// Correlation functions
	r.Register(&SDSSDR12Xi{})
	r.Register(&DESIKP4Xi{})

	return r
}

// Register adds a preset to the registry.
func (r *Registry) Register(p Preset) {
	name := p.Name()
	if _, ok := r.presets[name]; !ok {
		r.order = append(r.order, name)
	}
	r.presets[name] = p
}

// Get returns a preset by name.
func (r *Registry) Get(name string) (Preset, error) {
	p, ok := r.presets[name]
	if !ok {
		return nil, eris.Wrapf(ErrConfig, "unknown dataset %q (valid: %s)", name, strings.Join(r.order, ", "))
	}
	return p, nil
}

// All returns all presets in registration order.
func (r *Registry) All() []Preset {
	result := make([]Preset, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.presets[name])
	}
	return result
}

// ByKind returns the presets of one statistic, in registration order.
func (r *Registry) ByKind(k Kind) []Preset {
	var result []Preset
	for _, name := range r.order {
		if r.presets[name].Kind() == k {
			result = append(result, r.presets[name])
		}
	}
	return result
}

// AllNames returns all registered preset names in registration order.
func (r *Registry) AllNames() []string {
	return slices.Clone(r.order)
}

// Resolve validates the request against p and loads the backing archive from dataDir.
func Resolve(p Preset, sel Selector, opts Options, dataDir string) (*archive.Archive, error) {
	base, err := p.Resolve(sel, opts)
	if err != nil {
		return nil, err
	}
	path, err := archive.Find(dataDir, base)
	if err != nil {
		return nil, err
	}
	return archive.Load(path)
}

// Open resolves p, loads its archive and constructs the dataset.
func Open(p Preset, sel Selector, opts Options, dataDir string) (*Dataset, error) {
	opts.Kind = p.Kind()
	ar, err := Resolve(p, sel, opts, dataDir)
	if err != nil {
		return nil, err
	}
	return New(ar, opts)
}

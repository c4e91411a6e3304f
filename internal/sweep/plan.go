// Package sweep runs a dataset preset over a grid of fitting ranges and realisations.
package sweep

import (
	"os"
	"slices"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/barry-cosmo/barry/internal/dataset"
)

// Plan describes one sweep: a preset, the options shared by every point, and the ranges and
// realisations to visit.
type Plan struct {
	Dataset         string           `yaml:"dataset" json:"dataset"`
	Selector        dataset.Selector `yaml:"selector" json:"selector"`
	Recon           string           `yaml:"recon" json:"recon,omitempty"`
	FitPoles        []int            `yaml:"fit_poles" json:"fit_poles,omitempty"`
	ReduceCovFactor int              `yaml:"reduce_cov_factor" json:"reduce_cov_factor,omitempty"`
	Policy          string           `yaml:"policy" json:"policy,omitempty"`
	Realisations    []string         `yaml:"realisations" json:"realisations,omitempty"`
	Ranges          []Range          `yaml:"ranges" json:"ranges,omitempty"`
	Grid            *Grid            `yaml:"grid,omitempty" json:"grid,omitempty"`
	Save            bool             `yaml:"save" json:"save,omitempty"`
}

// Range is an inclusive fitting range of the independent variable.
type Range struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Grid expands to every (min, max) pair with min < max.
type Grid struct {
	Mins  []float64 `yaml:"mins" json:"mins"`
	Maxes []float64 `yaml:"maxes" json:"maxes"`
}

// Point is one dataset configuration of a sweep.
type Point struct {
	Index       int                 `json:"index"`
	MinX        float64             `json:"min_x"`
	MaxX        float64             `json:"max_x"`
	Realisation dataset.Realisation `json:"realisation"`
}

// LoadPlan reads a sweep plan from a YAML file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "sweep: read plan %s", path)
	}
	return ParsePlan(data)
}

// ParsePlan decodes a plan. The YAML has a top-level "sweep" key.
func ParsePlan(data []byte) (*Plan, error) {
	var wrapper struct {
		Sweep Plan `yaml:"sweep"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "sweep: parse plan")
	}
	plan := &wrapper.Sweep
	if len(plan.Realisations) == 0 {
		plan.Realisations = []string{"mean"}
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// Validate checks the plan without touching the archive.
func (p *Plan) Validate() error {
	if p.Dataset == "" {
		return eris.New("sweep: plan has no dataset")
	}
	if len(p.Ranges) == 0 && p.Grid == nil {
		return eris.New("sweep: plan needs ranges or a grid")
	}
	if p.Grid != nil && (len(p.Grid.Mins) == 0 || len(p.Grid.Maxes) == 0) {
		return eris.New("sweep: grid needs mins and maxes")
	}
	for i, r := range p.Ranges {
		if r.Min > r.Max {
			return eris.Errorf("sweep: range %d has min %g above max %g", i, r.Min, r.Max)
		}
	}
	if _, err := dataset.ParseRecon(p.Recon); err != nil {
		return eris.Wrap(err, "sweep: plan")
	}
	if _, err := dataset.ParsePolicy(p.Policy); err != nil {
		return eris.Wrap(err, "sweep: plan")
	}
	for _, s := range p.Realisations {
		if _, err := dataset.ParseRealisation(s); err != nil {
			return eris.Wrap(err, "sweep: plan")
		}
	}
	if len(p.Points()) == 0 {
		return eris.New("sweep: plan expands to no points")
	}
	return nil
}

// ranges returns the explicit ranges followed by the grid pairs, in order.
func (p *Plan) ranges() []Range {
	out := append([]Range(nil), p.Ranges...)
	if p.Grid != nil {
		for _, lo := range p.Grid.Mins {
			for _, hi := range p.Grid.Maxes {
				if lo < hi {
					out = append(out, Range{Min: lo, Max: hi})
				}
			}
		}
	}
	return out
}

// Points expands the plan range-major, realisation-minor. Unparseable realisations are
// skipped; Validate reports them.
func (p *Plan) Points() []Point {
	var reals []dataset.Realisation
	for _, s := range p.Realisations {
		r, err := dataset.ParseRealisation(s)
		if err != nil {
			continue
		}
		reals = append(reals, r)
	}
	var points []Point
	for _, rg := range p.ranges() {
		for _, r := range reals {
			points = append(points, Point{Index: len(points), MinX: rg.Min, MaxX: rg.Max, Realisation: r})
		}
	}
	return points
}

// Options builds the dataset options shared by every point. Bounds and realisation are set
// per point.
func (p *Plan) Options(kind dataset.Kind, defaults dataset.Options) (dataset.Options, error) {
	opts := defaults
	opts.Kind = kind
	recon, err := dataset.ParseRecon(p.Recon)
	if err != nil {
		return opts, err
	}
	opts.Recon = recon
	if p.Policy != "" {
		if opts.Policy, err = dataset.ParsePolicy(p.Policy); err != nil {
			return opts, err
		}
	}
	if p.ReduceCovFactor != 0 {
		opts.ReduceCovFactor = p.ReduceCovFactor
	}
	if p.FitPoles != nil {
		opts.FitPoles = slices.Clone(p.FitPoles)
	}
	return opts, nil
}

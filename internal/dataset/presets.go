package dataset

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
)

var galacticCaps = []string{"ngc", "sgc"}

// chooseInt validates v against allowed, substituting def when v is unset. An explicit zero is
// validated like any other value.
func chooseInt(preset, param string, v *int, def int, allowed []int) (int, error) {
	z := def
	if v != nil {
		z = *v
	}
	if !slices.Contains(allowed, z) {
		return 0, eris.Wrapf(ErrConfig, "%s: %s %d (valid: %s)", preset, param, z, joinInts(allowed))
	}
	return z, nil
}

// chooseString validates v case-insensitively against allowed, substituting def for "".
func chooseString(preset, param, v, def string, allowed []string) (string, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		v = def
	}
	if !slices.Contains(allowed, v) {
		return "", eris.Wrapf(ErrConfig, "%s: %s %q (valid: %s)", preset, param, v, strings.Join(allowed, ", "))
	}
	return v, nil
}

// evenPolesOnly rejects odd multipoles for surveys that only publish even ones.
func evenPolesOnly(preset string, poles []int) error {
	for _, p := range poles {
		if p%2 != 0 {
			return eris.Wrapf(ErrConfig, "%s: multipole %d requested, only even multipoles are included (valid: 0, 2, 4)", preset, p)
		}
	}
	return nil
}

func joinInts(v []int) string {
	s := make([]string, len(v))
	for i, x := range v {
		s[i] = fmt.Sprint(x)
	}
	return strings.Join(s, ", ")
}

func reconName(r Recon) string {
	if r == NoRecon {
		return "pre"
	}
	return string(r)
}

// SDSSDR12PK is the BOSS DR12 power spectrum for the NGC and SGC at z = 0.38, 0.51, 0.61.
// Mocks include the hexadecapole; the observed measurement does not.
type SDSSDR12PK struct{}

func (p *SDSSDR12PK) Name() string { return "sdss_dr12_pk" }
func (p *SDSSDR12PK) Kind() Kind   { return PowerSpectrum }
func (p *SDSSDR12PK) Description() string {
	return "SDSS BOSS DR12 power spectrum, NGC/SGC, z = 0.38, 0.51, 0.61"
}

func (p *SDSSDR12PK) Resolve(sel Selector, opts Options) (string, error) {
	z, err := chooseInt(p.Name(), "redshift_bin", sel.RedshiftBin, 3, []int{1, 2, 3})
	if err != nil {
		return "", err
	}
	gc, err := chooseString(p.Name(), "galactic_cap", sel.GalacticCap, "ngc", galacticCaps)
	if err != nil {
		return "", err
	}
	if err := evenPolesOnly(p.Name(), opts.FitPoles); err != nil {
		return "", err
	}
	if opts.Realisation.Kind == RealisationObserved && slices.Contains(opts.FitPoles, 4) {
		return "", eris.Wrapf(ErrConfig, "%s: hexadecapole is only included in the mocks, not the data realisation", p.Name())
	}
	return fmt.Sprintf("sdss_dr12_pk_%s_z%d", gc, z), nil
}

// EBOSSLRGpCMASSPK is the eBOSS DR16 LRG+CMASS power spectrum at z = 0.698.
type EBOSSLRGpCMASSPK struct{}

func (p *EBOSSLRGpCMASSPK) Name() string { return "eboss_lrgpcmass_pk" }
func (p *EBOSSLRGpCMASSPK) Kind() Kind   { return PowerSpectrum }
func (p *EBOSSLRGpCMASSPK) Description() string {
	return "SDSS eBOSS DR16 LRGpCMASS power spectrum, NGC/SGC, z = 0.698"
}

func (p *EBOSSLRGpCMASSPK) Resolve(sel Selector, opts Options) (string, error) {
	gc, err := chooseString(p.Name(), "galactic_cap", sel.GalacticCap, "ngc", galacticCaps)
	if err != nil {
		return "", err
	}
	if err := evenPolesOnly(p.Name(), opts.FitPoles); err != nil {
		return "", err
	}
	return "sdss_dr16_lrgpcmass_pk_" + gc, nil
}

// Beutler2019PK is the deconvolved BOSS DR12 power spectrum, including odd multipoles.
// Only pre-reconstruction measurements exist.
type Beutler2019PK struct{}

func (p *Beutler2019PK) Name() string { return "beutler2019_pk" }
func (p *Beutler2019PK) Kind() Kind   { return PowerSpectrum }
func (p *Beutler2019PK) Description() string {
	return "Beutler 2019 BOSS DR12 power spectrum with odd multipoles, pre-recon only, z = 0.38, 0.61"
}

func (p *Beutler2019PK) Resolve(sel Selector, opts Options) (string, error) {
	if opts.Recon != NoRecon {
		return "", eris.Wrapf(ErrConfig, "%s: recon %q (valid: none, post-recon data not available)", p.Name(), string(opts.Recon))
	}
	z, err := chooseInt(p.Name(), "redshift_bin", sel.RedshiftBin, 2, []int{1, 2})
	if err != nil {
		return "", err
	}
	gc, err := chooseString(p.Name(), "galactic_cap", sel.GalacticCap, "ngc", galacticCaps)
	if err != nil {
		return "", err
	}
	reds := []string{"z038", "z061"}
	return fmt.Sprintf("beutler_2019_dr12_%s_pk_%s", reds[z-1], gc), nil
}

// DESIMockChallengePostPK is the DESI mock challenge stage 2 power spectrum in cubic boxes.
type DESIMockChallengePostPK struct{}

func (p *DESIMockChallengePostPK) Name() string { return "desi_mock_challenge_post_pk" }
func (p *DESIMockChallengePostPK) Kind() Kind   { return PowerSpectrum }
func (p *DESIMockChallengePostPK) Description() string {
	return "DESI mock challenge stage 2 cubic-box power spectrum, smoothing 5-20 Mpc/h"
}

func (p *DESIMockChallengePostPK) Resolve(sel Selector, opts Options) (string, error) {
	covtype, err := chooseString(p.Name(), "cov_type", sel.CovType, "cov-std", []string{"cov-std", "cov-fix"})
	if err != nil {
		return "", err
	}
	smooth, err := chooseInt(p.Name(), "smooth_type", sel.SmoothType, 3, []int{1, 2, 3, 4})
	if err != nil {
		return "", err
	}
	if err := evenPolesOnly(p.Name(), opts.FitPoles); err != nil {
		return "", err
	}

	smoothNames := []string{"5", "10", "15", "20"}
	smoothName := ""
	if opts.Recon.Post() {
		smoothName = "_" + smoothNames[smooth-1]
	}
	covName := "_nonfix"
	if covtype == "cov-fix" {
		covName = ""
	}
	return "desi_mock_challenge_post_stage_2_pk_" + reconName(opts.Recon) + smoothName + covName, nil
}

// DESILightconeReconPK is the reconstructed DESI mock challenge power spectrum on lightcones.
type DESILightconeReconPK struct{}

var lightconeVariants = []string{"julian_reciso", "julian_recsym", "martin_reciso", "martin_recsym"}

func (p *DESILightconeReconPK) Name() string { return "desi_lightcone_recon_pk" }
func (p *DESILightconeReconPK) Kind() Kind   { return PowerSpectrum }
func (p *DESILightconeReconPK) Description() string {
	return "DESI mock challenge lightcone power spectrum, four reconstruction pipelines"
}

func (p *DESILightconeReconPK) Resolve(sel Selector, opts Options) (string, error) {
	variant, err := chooseString(p.Name(), "variant", sel.Variant, "julian_reciso", lightconeVariants)
	if err != nil {
		return "", err
	}
	if err := evenPolesOnly(p.Name(), opts.FitPoles); err != nil {
		return "", err
	}
	return "desi_lightcone_mocks_recon_" + variant, nil
}

// kp4Bins maps each DESI KP4 mock type to its number of redshift bins.
var kp4Bins = map[string]int{
	"abacus_cutsky": 3,
	"abacus_cubic":  1,
}

var kp4MockTypes = []string{"abacus_cutsky", "abacus_cubic"}

func resolveKP4(preset, stat string, sel Selector, opts Options) (string, error) {
	mocktype, err := chooseString(preset, "variant", sel.Variant, "abacus_cutsky", kp4MockTypes)
	if err != nil {
		return "", err
	}
	bins := make([]int, kp4Bins[mocktype])
	for i := range bins {
		bins[i] = i + 1
	}
	z, err := chooseInt(preset, "redshift_bin", sel.RedshiftBin, 1, bins)
	if err != nil {
		return "", err
	}
	if err := evenPolesOnly(preset, opts.FitPoles); err != nil {
		return "", err
	}
	if opts.Realisation.Kind == RealisationObserved {
		return "", eris.Wrapf(ErrConfig, "%s: realisation \"data\" (valid: mean or a mock index, %s are mocks only)", preset, mocktype)
	}
	return fmt.Sprintf("desi_kp4_%s_%s_z%d", mocktype, stat, z), nil
}

// DESIKP4PK is the DESI KP4 Abacus mock power spectrum (cut-sky or cubic box).
type DESIKP4PK struct{}

func (p *DESIKP4PK) Name() string { return "desi_kp4_pk" }
func (p *DESIKP4PK) Kind() Kind   { return PowerSpectrum }
func (p *DESIKP4PK) Description() string {
	return "DESI KP4 Abacus power spectrum, cutsky (3 redshift bins) or cubic box"
}

func (p *DESIKP4PK) Resolve(sel Selector, opts Options) (string, error) {
	return resolveKP4(p.Name(), "pk", sel, opts)
}

// SDSSDR12Xi is the BOSS DR12 correlation function for the NGC and SGC.
type SDSSDR12Xi struct{}

func (p *SDSSDR12Xi) Name() string { return "sdss_dr12_xi" }
func (p *SDSSDR12Xi) Kind() Kind   { return CorrelationFunction }
func (p *SDSSDR12Xi) Description() string {
	return "SDSS BOSS DR12 correlation function, NGC/SGC, z = 0.38, 0.51, 0.61"
}

func (p *SDSSDR12Xi) Resolve(sel Selector, opts Options) (string, error) {
	z, err := chooseInt(p.Name(), "redshift_bin", sel.RedshiftBin, 3, []int{1, 2, 3})
	if err != nil {
		return "", err
	}
	gc, err := chooseString(p.Name(), "galactic_cap", sel.GalacticCap, "ngc", galacticCaps)
	if err != nil {
		return "", err
	}
	if err := evenPolesOnly(p.Name(), opts.FitPoles); err != nil {
		return "", err
	}
	return fmt.Sprintf("sdss_dr12_xi_%s_z%d", gc, z), nil
}

// DESIKP4Xi is the DESI KP4 Abacus mock correlation function.
type DESIKP4Xi struct{}

func (p *DESIKP4Xi) Name() string { return "desi_kp4_xi" }
func (p *DESIKP4Xi) Kind() Kind   { return CorrelationFunction }
func (p *DESIKP4Xi) Description() string {
	return "DESI KP4 Abacus correlation function, cutsky (3 redshift bins) or cubic box"
}

func (p *DESIKP4Xi) Resolve(sel Selector, opts Options) (string, error) {
	return resolveKP4(p.Name(), "xi", sel, opts)
}

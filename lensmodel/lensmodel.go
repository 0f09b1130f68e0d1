// Package lensmodel enumerates the supported camera lens families and
// answers the registry-level questions the rest of the core needs: name
// parsing/formatting, per-variant parameter counts, whether a variant has
// a pinhole "core", and family sequencing for progressively unlocking
// distortion terms.
//
// Re-architected per spec.md section 9's note on "heavy macro-based model
// enumeration": a single Variant enum plus one descriptor table, indexed
// by variant, replaces the original's per-model macro expansion.
package lensmodel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Variant identifies a lens model family.
type Variant int

const (
	// Unknown is the zero value; never a valid parsed model.
	Unknown Variant = iota
	Pinhole
	OpenCV4
	OpenCV5
	OpenCV8
	OpenCV12
	CAHVOR
	CAHVORE
	SplinedStereographic
)

var (
	// ErrUnknownName is returned when a lens model tag is not recognized.
	ErrUnknownName = errors.New("unknown lens model name")
	// ErrBadConfig is returned when a configured model's tail fails to parse.
	ErrBadConfig = errors.New("invalid configuration string")
	// ErrNoFamilySequence is returned when two models share no family
	// ordering (e.g. they belong to different families).
	ErrNoFamilySequence = errors.New("no family sequence between these two models")
)

type descriptor struct {
	name           string
	nparamsFn      func(Model) (int, error)
	hasCore        bool
	familyPosition int // -1 if the model has no family sequence
}

var descriptors = map[Variant]descriptor{
	Pinhole:              {name: "PINHOLE", nparamsFn: fixedParams(0), hasCore: true, familyPosition: 0},
	OpenCV4:              {name: "OPENCV4", nparamsFn: fixedParams(4), hasCore: true, familyPosition: 1},
	OpenCV5:              {name: "OPENCV5", nparamsFn: fixedParams(5), hasCore: true, familyPosition: 2},
	OpenCV8:              {name: "OPENCV8", nparamsFn: fixedParams(8), hasCore: true, familyPosition: 3},
	OpenCV12:             {name: "OPENCV12", nparamsFn: fixedParams(12), hasCore: true, familyPosition: 4},
	CAHVOR:               {name: "CAHVOR", nparamsFn: fixedParams(5), hasCore: true, familyPosition: -1},
	CAHVORE:              {name: "CAHVORE", nparamsFn: fixedParams(9), hasCore: true, familyPosition: -1},
	SplinedStereographic: {name: "SPLINED_STEREOGRAPHIC", nparamsFn: splinedParams, hasCore: false, familyPosition: -1},
}

func fixedParams(n int) func(Model) (int, error) {
	return func(Model) (int, error) { return n, nil }
}

func splinedParams(m Model) (int, error) {
	cfg := m.SplineConfig
	if cfg.Nx < 4 || cfg.Ny < 4 {
		return 0, errors.Wrap(ErrBadConfig, "grid size must be at least 4x4")
	}
	return 2 * cfg.Nx * cfg.Ny, nil
}

// SplineOrder enumerates supported spline orders. Only cubic is currently
// implemented, per spec.md section 3.
type SplineOrder int

const (
	Cubic SplineOrder = 3
)

// SplineConfig is the configuration carried by SplinedStereographic models.
type SplineConfig struct {
	Order      SplineOrder
	Nx, Ny     int
	FovXDeg    float64
	CenterX    float64
	CenterY    float64
}

// Model is a fully specified lens model: a variant plus, for
// SplinedStereographic, its configuration.
type Model struct {
	Variant      Variant
	SplineConfig SplineConfig
}

// New builds a fixed-parameter-count model (any variant but the splined
// one) with no config.
func New(v Variant) Model { return Model{Variant: v} }

// NewSplined builds a configured splined-stereographic model.
func NewSplined(cfg SplineConfig) Model {
	return Model{Variant: SplinedStereographic, SplineConfig: cfg}
}

// NumParams returns the number of distortion/intrinsic-extra parameters
// (i.e. not counting fx,fy,cx,cy for models that have a core) for m.
func NumParams(m Model) (int, error) {
	d, ok := descriptors[m.Variant]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownName, "variant %d", m.Variant)
	}
	return d.nparamsFn(m)
}

// HasCore reports whether m has an (fx, fy, cx, cy) intrinsics core.
func HasCore(m Model) (bool, error) {
	d, ok := descriptors[m.Variant]
	if !ok {
		return false, errors.Wrapf(ErrUnknownName, "variant %d", m.Variant)
	}
	return d.hasCore, nil
}

// NumIntrinsics returns the total intrinsics vector length: the core (4,
// if present) plus NumParams.
func NumIntrinsics(m Model) (int, error) {
	n, err := NumParams(m)
	if err != nil {
		return 0, err
	}
	hasCore, err := HasCore(m)
	if err != nil {
		return 0, err
	}
	if hasCore {
		n += 4
	}
	return n, nil
}

// Names returns every variant's bare (unconfigured) family name, in
// declaration order, for enumeration/help output.
func Names() []string {
	order := []Variant{Pinhole, OpenCV4, OpenCV5, OpenCV8, OpenCV12, CAHVOR, CAHVORE, SplinedStereographic}
	out := make([]string, 0, len(order))
	for _, v := range order {
		out = append(out, descriptors[v].name)
	}
	return out
}

// Format writes m's full configured name, e.g. "OPENCV8" or
// "SPLINED_STEREOGRAPHIC_3_8_6_120.0_960.0_540.0".
func Format(m Model) (string, error) {
	d, ok := descriptors[m.Variant]
	if !ok {
		return "", errors.Wrapf(ErrUnknownName, "variant %d", m.Variant)
	}
	if m.Variant != SplinedStereographic {
		return d.name, nil
	}
	cfg := m.SplineConfig
	return fmt.Sprintf("%s_%d_%d_%d_%s_%s_%s",
		d.name, int(cfg.Order), cfg.Nx, cfg.Ny,
		trimFloat(cfg.FovXDeg), trimFloat(cfg.CenterX), trimFloat(cfg.CenterY)), nil
}

// trimFloat formats f with the shortest representation that round-trips,
// but always keeps a decimal point (e.g. "120.0", not "120"), matching
// spec.md section 6's configured-tag examples
// ("SPLINED_STEREOGRAPHIC_3_8_6_120.0_960.0_540.0").
func trimFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Parse parses a full (possibly configured) lens model tag.
func Parse(s string) (Model, error) {
	for v, d := range descriptors {
		if s == d.name {
			if v == SplinedStereographic {
				return Model{}, errors.Wrap(ErrBadConfig, "splined-stereographic requires a configuration suffix")
			}
			return Model{Variant: v}, nil
		}
		prefix := d.name + "_"
		if strings.HasPrefix(s, prefix) {
			cfg, err := parseSplineConfig(strings.TrimPrefix(s, prefix))
			if err != nil {
				return Model{}, err
			}
			return Model{Variant: v, SplineConfig: cfg}, nil
		}
	}
	return Model{}, errors.Wrapf(ErrUnknownName, "%q", s)
}

func parseSplineConfig(tail string) (SplineConfig, error) {
	fields := strings.Split(tail, "_")
	if len(fields) != 6 {
		return SplineConfig{}, errors.Wrapf(ErrBadConfig, "expected 6 fields, got %d", len(fields))
	}
	order, err := strconv.Atoi(fields[0])
	if err != nil || SplineOrder(order) != Cubic {
		return SplineConfig{}, errors.Wrapf(ErrBadConfig, "unsupported spline order %q", fields[0])
	}
	nx, err := strconv.Atoi(fields[1])
	if err != nil {
		return SplineConfig{}, errors.Wrapf(ErrBadConfig, "bad Nx %q", fields[1])
	}
	ny, err := strconv.Atoi(fields[2])
	if err != nil {
		return SplineConfig{}, errors.Wrapf(ErrBadConfig, "bad Ny %q", fields[2])
	}
	fov, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return SplineConfig{}, errors.Wrapf(ErrBadConfig, "bad fov %q", fields[3])
	}
	cx, err := strconv.ParseFloat(fields[4], 64)
	if err != nil {
		return SplineConfig{}, errors.Wrapf(ErrBadConfig, "bad cx %q", fields[4])
	}
	cy, err := strconv.ParseFloat(fields[5], 64)
	if err != nil {
		return SplineConfig{}, errors.Wrapf(ErrBadConfig, "bad cy %q", fields[5])
	}
	cfg := SplineConfig{Order: Cubic, Nx: nx, Ny: ny, FovXDeg: fov, CenterX: cx, CenterY: cy}
	if cfg.Nx < 4 || cfg.Ny < 4 {
		return SplineConfig{}, errors.Wrap(ErrBadConfig, "grid size must be at least 4x4")
	}
	return cfg, nil
}

// NextInFamily returns the model immediately more complex than current in
// target's family (used to progressively unlock distortion terms while
// re-seeding a solve), or an error if current and target are not members
// of the same sequenced family, or current is already at or beyond
// target's position in that family.
func NextInFamily(current, target Model) (Model, error) {
	dCur, ok := descriptors[current.Variant]
	if !ok || dCur.familyPosition < 0 {
		return Model{}, errors.Wrapf(ErrNoFamilySequence, "%v has no family sequence", current.Variant)
	}
	dTarget, ok := descriptors[target.Variant]
	if !ok || dTarget.familyPosition < 0 {
		return Model{}, errors.Wrapf(ErrNoFamilySequence, "%v has no family sequence", target.Variant)
	}
	if familyOf(current.Variant) != familyOf(target.Variant) {
		return Model{}, ErrNoFamilySequence
	}
	if dCur.familyPosition >= dTarget.familyPosition {
		return Model{}, errors.Wrap(ErrNoFamilySequence, "current is already at or beyond target's complexity")
	}
	for v, d := range descriptors {
		if familyOf(v) == familyOf(current.Variant) && d.familyPosition == dCur.familyPosition+1 {
			return Model{Variant: v}, nil
		}
	}
	return Model{}, ErrNoFamilySequence
}

func familyOf(v Variant) string {
	switch v {
	case Pinhole, OpenCV4, OpenCV5, OpenCV8, OpenCV12:
		return "opencv"
	default:
		return ""
	}
}

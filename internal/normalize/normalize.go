// Package normalize rescales voxel intensities. Statistics ignore NaN values,
// and NaN inputs stay NaN in the output.
package normalize

import (
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/mrsinham/medvol/internal/errors"
)

// Kind names a normalization transform.
type Kind string

const (
	MinMax     Kind = "min_max"
	Percentile Kind = "percentile"
	ZScore     Kind = "z_score"
)

// Default percentile bounds used when Options leaves both at zero.
const (
	DefaultLowPercentile  = 1.0
	DefaultHighPercentile = 99.0
)

// AllKinds returns every supported kind.
func AllKinds() []Kind {
	return []Kind{MinMax, Percentile, ZScore}
}

// ParseKind converts a name to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.TrimSpace(s))
	for _, valid := range AllKinds() {
		if k == valid {
			return k, nil
		}
	}
	return "", errors.InvalidNormalizationKind(s)
}

// String returns the kind name.
func (k Kind) String() string {
	return string(k)
}

// Options selects a transform and, for Percentile, its bounds in [0,100].
type Options struct {
	Kind           Kind
	LowPercentile  float64
	HighPercentile float64
}

// Validate checks the kind and the percentile bounds.
func (o Options) Validate() error {
	if _, err := ParseKind(string(o.Kind)); err != nil {
		return err
	}
	if o.Kind == Percentile {
		low, high := o.bounds()
		if err := checkPercentile(low); err != nil {
			return err
		}
		if err := checkPercentile(high); err != nil {
			return err
		}
	}
	return nil
}

func (o Options) bounds() (float64, float64) {
	if o.LowPercentile == 0 && o.HighPercentile == 0 {
		return DefaultLowPercentile, DefaultHighPercentile
	}
	return o.LowPercentile, o.HighPercentile
}

// Apply runs the transform selected by opts and returns a new slice.
func Apply(data []float64, opts Options) ([]float64, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	switch opts.Kind {
	case MinMax:
		return MinMaxScale(data), nil
	case Percentile:
		low, high := opts.bounds()
		return PercentileScale(data, low, high)
	default:
		return ZScoreScale(data), nil
	}
}

// MinMaxScale maps [nanmin, nanmax] to [0,1]. A constant input yields zeros.
func MinMaxScale(data []float64) []float64 {
	finite := nonNaN(data)
	if len(finite) == 0 {
		return nanLike(data)
	}
	lo, hi := finite[0], finite[0]
	for _, v := range finite[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return rescale(data, lo, hi)
}

// PercentileScale maps [nanpercentile(low), nanpercentile(high)] to [0,1] and clips.
func PercentileScale(data []float64, low, high float64) ([]float64, error) {
	if err := checkPercentile(low); err != nil {
		return nil, err
	}
	if err := checkPercentile(high); err != nil {
		return nil, err
	}
	finite := nonNaN(data)
	if len(finite) == 0 {
		return nanLike(data), nil
	}
	sort.Float64s(finite)
	return rescale(data, percentileSorted(finite, low), percentileSorted(finite, high)), nil
}

// ZScoreScale subtracts the mean and divides by the population standard deviation.
// A zero deviation yields zeros.
func ZScoreScale(data []float64) []float64 {
	finite := nonNaN(data)
	if len(finite) == 0 {
		return nanLike(data)
	}
	mean, std := stat.PopMeanStdDev(finite, nil)
	out := make([]float64, len(data))
	if std == 0 {
		return out
	}
	for i, v := range data {
		out[i] = (v - mean) / std
	}
	return out
}

// NanPercentile returns the p-th percentile of data ignoring NaN, interpolating
// linearly between the two closest ranks. It returns NaN when data has no values.
func NanPercentile(data []float64, p float64) (float64, error) {
	if err := checkPercentile(p); err != nil {
		return 0, err
	}
	finite := nonNaN(data)
	if len(finite) == 0 {
		return math.NaN(), nil
	}
	sort.Float64s(finite)
	return percentileSorted(finite, p), nil
}

func percentileSorted(sorted []float64, p float64) float64 {
	pos := float64(len(sorted)-1) * p / 100
	lo := math.Floor(pos)
	hi := math.Ceil(pos)
	if lo == hi {
		return sorted[int(lo)]
	}
	a, b := sorted[int(lo)], sorted[int(hi)]
	return a + (pos-lo)*(b-a)
}

func rescale(data []float64, lo, hi float64) []float64 {
	out := make([]float64, len(data))
	if hi == lo {
		return out
	}
	span := hi - lo
	for i, v := range data {
		if math.IsNaN(v) {
			out[i] = v
			continue
		}
		out[i] = clip((v-lo)/span, 0, 1)
	}
	return out
}

func clip(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func checkPercentile(p float64) error {
	if math.IsNaN(p) || p < 0 || p > 100 {
		return errors.InvalidInputf("percentile %v outside [0, 100]", p)
	}
	return nil
}

func nonNaN(data []float64) []float64 {
	out := make([]float64, 0, len(data))
	for _, v := range data {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

func nanLike(data []float64) []float64 {
	out := make([]float64, len(data))
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

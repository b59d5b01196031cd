// Package modalities holds the acquisition parameters and pixel formats used
// when writing synthetic MR and CT slices.
package modalities

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Modality represents a DICOM imaging modality type.
type Modality string

const (
	MR Modality = "MR" // Magnetic Resonance
	CT Modality = "CT" // Computed Tomography
)

// AllModalities returns all supported modalities.
func AllModalities() []Modality {
	return []Modality{MR, CT}
}

// Parse returns the modality named by s, ignoring case.
func Parse(s string) (Modality, error) {
	for _, m := range AllModalities() {
		if strings.EqualFold(string(m), strings.TrimSpace(s)) {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown modality %q (want one of %v)", s, AllModalities())
}

// Scanner represents an imaging device.
type Scanner struct {
	Manufacturer string
	Model        string
	// MR-specific
	FieldStrength float64 // Tesla (1.5, 3.0)
	// CT-specific
	DetectorRows int
}

// Acquisition holds the per-series parameters of a synthetic scan.
type Acquisition struct {
	Modality Modality
	Scanner  Scanner

	PixelSpacing   float64
	SliceThickness float64
	SliceSpacing   float64

	RescaleSlope     float64
	RescaleIntercept float64
	WindowCenter     float64
	WindowWidth      float64

	// MR-specific
	EchoTime       float64
	RepetitionTime float64
	FlipAngle      float64
	SequenceName   string

	// CT-specific
	KVP               float64
	XRayTubeCurrent   int
	ConvolutionKernel string
}

// PixelFormat describes how rescaled values are stored.
type PixelFormat struct {
	BitsAllocated int
	BitsStored    int
	HighBit       int
	Signed        bool
	MinValue      float64 // lowest rescaled value produced by the phantom
	MaxValue      float64 // highest rescaled value produced by the phantom
	BaseValue     float64 // background rescaled value of the phantom
}

// Representation returns the PixelRepresentation tag value.
func (p PixelFormat) Representation() int {
	if p.Signed {
		return 1
	}
	return 0
}

// StoredRange returns the smallest and largest storable values.
func (p PixelFormat) StoredRange() (lo, hi int64) {
	if p.Signed {
		return -(1 << (p.BitsStored - 1)), 1<<(p.BitsStored-1) - 1
	}
	return 0, 1<<p.BitsStored - 1
}

// Encode converts a rescaled value to its stored 16-bit word. Values outside
// the storable range are clamped; signed values use two's complement.
func (p PixelFormat) Encode(value, slope, intercept float64) uint16 {
	if slope == 0 {
		slope = 1
	}
	lo, hi := p.StoredRange()
	s := int64(math.Round((value - intercept) / slope))
	s = min(max(s, lo), hi)
	return uint16(int16(s))
}

// Generator produces modality-specific series parameters and elements.
type Generator interface {
	// Modality returns the modality type.
	Modality() Modality

	// SOPClassUID returns the image storage SOP Class UID.
	SOPClassUID() string

	// Scanners returns available scanner configurations.
	Scanners() []Scanner

	// Acquisition draws series parameters for the given scanner.
	Acquisition(scanner Scanner, rng *rand.Rand) Acquisition

	// Pixels returns the pixel storage format.
	Pixels() PixelFormat

	// Elements returns the modality-specific elements of every slice.
	Elements(acq Acquisition) []*dicom.Element
}

// GetGenerator returns the generator for the specified modality.
func GetGenerator(m Modality) Generator {
	switch m {
	case CT:
		return &CTGenerator{}
	case MR:
		fallthrough
	default:
		return &MRGenerator{}
	}
}

func mustNewElement(t tag.Tag, value any) *dicom.Element {
	elem, err := dicom.NewElement(t, value)
	if err != nil {
		panic(fmt.Sprintf("new element %s: %v", t, err))
	}
	return elem
}

// floatToDS formats a Decimal String value.
func floatToDS(f float64) string {
	return strconv.FormatFloat(f, 'g', 6, 64)
}

// intToIS formats an Integer String value.
func intToIS(i int) string {
	return strconv.Itoa(i)
}

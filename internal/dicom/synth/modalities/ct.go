package modalities

import (
	"math/rand/v2"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// CTGenerator describes CT (Computed Tomography) series.
type CTGenerator struct{}

// Modality returns the CT modality type.
func (g *CTGenerator) Modality() Modality {
	return CT
}

// SOPClassUID returns the CT Image Storage SOP Class UID.
func (g *CTGenerator) SOPClassUID() string {
	return "1.2.840.10008.5.1.4.1.1.2"
}

// Scanners returns available CT scanner configurations.
func (g *CTGenerator) Scanners() []Scanner {
	return []Scanner{
		{Manufacturer: "SIEMENS", Model: "SOMATOM Force", DetectorRows: 192},
		{Manufacturer: "GE MEDICAL SYSTEMS", Model: "Revolution CT", DetectorRows: 256},
		{Manufacturer: "PHILIPS", Model: "Brilliance iCT", DetectorRows: 256},
		{Manufacturer: "CANON", Model: "Aquilion ONE", DetectorRows: 320},
	}
}

// Acquisition draws CT series parameters. Stored values are Hounsfield
// units shifted by the standard -1024 intercept.
func (g *CTGenerator) Acquisition(scanner Scanner, rng *rand.Rand) Acquisition {
	kvpOptions := []float64{80, 100, 120, 140}
	kernels := []string{"SOFT", "STANDARD", "BONE", "LUNG"}

	acq := Acquisition{
		Modality:          CT,
		Scanner:           scanner,
		PixelSpacing:      0.5 + rng.Float64()*0.5, // 0.5-1.0 mm
		SliceThickness:    0.5 + rng.Float64()*2.5, // 0.5-3.0 mm
		RescaleSlope:      1,
		RescaleIntercept:  -1024,
		KVP:               kvpOptions[rng.IntN(len(kvpOptions))],
		XRayTubeCurrent:   100 + rng.IntN(301),
		ConvolutionKernel: kernels[rng.IntN(len(kernels))],
	}
	acq.SliceSpacing = acq.SliceThickness

	switch acq.ConvolutionKernel {
	case "BONE":
		acq.WindowCenter, acq.WindowWidth = 400, 2000
	case "LUNG":
		acq.WindowCenter, acq.WindowWidth = -600, 1500
	default:
		acq.WindowCenter, acq.WindowWidth = 40, 400
	}
	return acq
}

// Pixels returns the CT storage format: signed 16 bits.
func (g *CTGenerator) Pixels() PixelFormat {
	return PixelFormat{
		BitsAllocated: 16,
		BitsStored:    16,
		HighBit:       15,
		Signed:        true,
		MinValue:      -1024, // air
		MaxValue:      3071,  // dense bone
		BaseValue:     0,     // water
	}
}

// Elements returns CT-specific elements.
func (g *CTGenerator) Elements(acq Acquisition) []*dicom.Element {
	return []*dicom.Element{
		mustNewElement(tag.KVP, []string{floatToDS(acq.KVP)}),
		mustNewElement(tag.XRayTubeCurrent, []string{intToIS(acq.XRayTubeCurrent)}),
		mustNewElement(tag.ConvolutionKernel, []string{acq.ConvolutionKernel}),
		mustNewElement(tag.RescaleType, []string{"HU"}),
	}
}

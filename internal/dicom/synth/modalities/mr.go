package modalities

import (
	"math/rand/v2"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// MRGenerator describes MR (Magnetic Resonance) series.
type MRGenerator struct{}

// Modality returns the MR modality type.
func (g *MRGenerator) Modality() Modality {
	return MR
}

// SOPClassUID returns the MR Image Storage SOP Class UID.
func (g *MRGenerator) SOPClassUID() string {
	return "1.2.840.10008.5.1.4.1.1.4"
}

// Scanners returns available MR scanner configurations.
func (g *MRGenerator) Scanners() []Scanner {
	return []Scanner{
		{Manufacturer: "SIEMENS", Model: "Avanto", FieldStrength: 1.5},
		{Manufacturer: "SIEMENS", Model: "Skyra", FieldStrength: 3.0},
		{Manufacturer: "GE MEDICAL SYSTEMS", Model: "Discovery MR750", FieldStrength: 3.0},
		{Manufacturer: "PHILIPS", Model: "Ingenia", FieldStrength: 3.0},
	}
}

// Acquisition draws MR series parameters.
func (g *MRGenerator) Acquisition(scanner Scanner, rng *rand.Rand) Acquisition {
	sequences := []string{"T1_MPRAGE", "T1_SE", "T2_FSE", "T2_FLAIR"}

	acq := Acquisition{
		Modality:       MR,
		Scanner:        scanner,
		PixelSpacing:   0.5 + rng.Float64()*1.5, // 0.5-2.0 mm
		SliceThickness: 1.0 + rng.Float64()*4.0, // 1.0-5.0 mm
		RescaleSlope:   1,
		EchoTime:       10.0 + rng.Float64()*20.0,   // ms
		RepetitionTime: 400.0 + rng.Float64()*400.0, // ms
		FlipAngle:      60.0 + rng.Float64()*30.0,
		SequenceName:   sequences[rng.IntN(len(sequences))],
		WindowCenter:   2048,
		WindowWidth:    4096,
	}
	acq.SliceSpacing = acq.SliceThickness
	return acq
}

// Pixels returns the MR storage format: unsigned 12 bits in 16.
func (g *MRGenerator) Pixels() PixelFormat {
	return PixelFormat{
		BitsAllocated: 16,
		BitsStored:    12,
		HighBit:       11,
		MinValue:      0,
		MaxValue:      4095,
		BaseValue:     2048,
	}
}

// Elements returns MR-specific elements.
func (g *MRGenerator) Elements(acq Acquisition) []*dicom.Element {
	elements := []*dicom.Element{
		mustNewElement(tag.MagneticFieldStrength, []string{floatToDS(acq.Scanner.FieldStrength)}),
		mustNewElement(tag.ImagingFrequency, []string{floatToDS(acq.Scanner.FieldStrength * 42.58)}),
	}
	if acq.EchoTime != 0 {
		elements = append(elements, mustNewElement(tag.EchoTime, []string{floatToDS(acq.EchoTime)}))
	}
	if acq.RepetitionTime != 0 {
		elements = append(elements, mustNewElement(tag.RepetitionTime, []string{floatToDS(acq.RepetitionTime)}))
	}
	if acq.FlipAngle != 0 {
		elements = append(elements, mustNewElement(tag.FlipAngle, []string{floatToDS(acq.FlipAngle)}))
	}
	if acq.SequenceName != "" {
		elements = append(elements, mustNewElement(tag.SequenceName, []string{acq.SequenceName}))
	}
	return elements
}

package modalities

import (
	"math/rand/v2"
	"testing"
)

func TestGetGenerator(t *testing.T) {
	tests := []struct {
		in       Modality
		want     Modality
		sopClass string
	}{
		{MR, MR, "1.2.840.10008.5.1.4.1.1.4"},
		{CT, CT, "1.2.840.10008.5.1.4.1.1.2"},
		{Modality("UNKNOWN"), MR, "1.2.840.10008.5.1.4.1.1.4"},
	}

	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			gen := GetGenerator(tt.in)
			if gen.Modality() != tt.want {
				t.Errorf("Modality() = %v, want %v", gen.Modality(), tt.want)
			}
			if gen.SOPClassUID() != tt.sopClass {
				t.Errorf("SOPClassUID() = %s, want %s", gen.SOPClassUID(), tt.sopClass)
			}
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		input   string
		want    Modality
		wantErr bool
	}{
		{"MR", MR, false},
		{"ct", CT, false},
		{" mr ", MR, false},
		{"US", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestScanners(t *testing.T) {
	for _, m := range AllModalities() {
		gen := GetGenerator(m)
		scanners := gen.Scanners()
		if len(scanners) == 0 {
			t.Fatalf("%s: expected at least one scanner", m)
		}
		for i, s := range scanners {
			if s.Manufacturer == "" || s.Model == "" {
				t.Errorf("%s scanner %d is incomplete: %+v", m, i, s)
			}
		}
	}
}

func TestAcquisitionIsDeterministic(t *testing.T) {
	for _, m := range AllModalities() {
		gen := GetGenerator(m)
		scanner := gen.Scanners()[0]

		a := gen.Acquisition(scanner, rand.New(rand.NewPCG(42, 42)))
		b := gen.Acquisition(scanner, rand.New(rand.NewPCG(42, 42)))
		if a != b {
			t.Errorf("%s: same seed gave different acquisitions:\n%+v\n%+v", m, a, b)
		}
		if a.PixelSpacing <= 0 || a.SliceThickness <= 0 || a.SliceSpacing <= 0 {
			t.Errorf("%s: invalid geometry %+v", m, a)
		}
		if a.RescaleSlope != 1 {
			t.Errorf("%s: RescaleSlope = %v, want 1", m, a.RescaleSlope)
		}
		if len(gen.Elements(a)) == 0 {
			t.Errorf("%s: no modality elements", m)
		}
	}
}

func TestCTAcquisitionUsesHounsfieldIntercept(t *testing.T) {
	gen := &CTGenerator{}
	acq := gen.Acquisition(gen.Scanners()[0], rand.New(rand.NewPCG(1, 1)))
	if acq.RescaleIntercept != -1024 {
		t.Errorf("RescaleIntercept = %v, want -1024", acq.RescaleIntercept)
	}
	if !gen.Pixels().Signed {
		t.Error("CT pixels should be signed")
	}
}

func TestPixelFormatEncode(t *testing.T) {
	mr := (&MRGenerator{}).Pixels()
	ct := (&CTGenerator{}).Pixels()

	tests := []struct {
		name      string
		format    PixelFormat
		value     float64
		intercept float64
		want      uint16
	}{
		{"mr plain", mr, 1000, 0, 1000},
		{"mr clamps high", mr, 5000, 0, 4095},
		{"mr clamps low", mr, -3, 0, 0},
		{"ct water", ct, 0, -1024, 1024},
		{"ct negative stored", ct, -2000, -1024, uint16(0xFC30)}, // -976
		{"ct clamps", ct, 40000, 0, 32767},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.format.Encode(tt.value, 1, tt.intercept); got != tt.want {
				t.Errorf("Encode(%v) = %#x, want %#x", tt.value, got, tt.want)
			}
		})
	}
}

func TestPixelFormatRange(t *testing.T) {
	lo, hi := (&MRGenerator{}).Pixels().StoredRange()
	if lo != 0 || hi != 4095 {
		t.Errorf("MR range = [%d, %d], want [0, 4095]", lo, hi)
	}
	lo, hi = (&CTGenerator{}).Pixels().StoredRange()
	if lo != -32768 || hi != 32767 {
		t.Errorf("CT range = [%d, %d], want [-32768, 32767]", lo, hi)
	}
	if (&CTGenerator{}).Pixels().Representation() != 1 {
		t.Error("CT representation should be 1")
	}
	t.Logf("✓ pixel formats valid")
}

package synth

import (
	"bytes"
	"encoding/binary"
	"fmt"
	randv2 "math/rand/v2"
	"sort"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Vendor selects a block of manufacturer private elements added to every
// slice. Readers must skip these without failing.
type Vendor string

const (
	NoVendor Vendor = ""
	Siemens  Vendor = "siemens"
	GE       Vendor = "ge"
	Philips  Vendor = "philips"
)

// AllVendors returns the vendors with private blocks.
func AllVendors() []Vendor {
	return []Vendor{Siemens, GE, Philips}
}

// ParseVendor returns the vendor named by s, ignoring case. Empty and "none"
// mean NoVendor.
func ParseVendor(s string) (Vendor, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "none" {
		return NoVendor, nil
	}
	for _, v := range AllVendors() {
		if string(v) == s {
			return v, nil
		}
	}
	return NoVendor, fmt.Errorf("unknown vendor %q (want one of %v)", s, AllVendors())
}

// privateElements returns the private block of v for one slice.
func privateElements(v Vendor, rng *randv2.Rand) []*dicom.Element {
	switch v {
	case Siemens:
		// CSA image header plus a nested non-image sequence with opaque bytes.
		csa := csaHeader(map[string][]string{
			"SliceNormalVector":      {"0.0", "0.0", "1.0"},
			"NumberOfImagesInMosaic": {"1"},
			"ImaCoilString":          {"HEA;HEP"},
		})
		item := []*dicom.Element{
			privateElement(0x0029, 0x0011, "LO", []string{"SIEMENS CSA NON-IMAGE"}),
			privateElement(0x0029, 0x1100, "OB", randomBytes(rng, 512+2*rng.IntN(256))),
		}
		return []*dicom.Element{
			privateElement(0x0029, 0x0010, "LO", []string{"SIEMENS CSA HEADER"}),
			privateElement(0x0029, 0x1010, "OB", csa),
			privateElement(0x0029, 0x1102, "SQ", [][]*dicom.Element{item}),
		}
	case GE:
		return []*dicom.Element{
			privateElement(0x0009, 0x0010, "LO", []string{"GEMS_IDEN_01"}),
			privateElement(0x0043, 0x0010, "LO", []string{"GEMS_PARM_01"}),
			privateElement(0x0009, 0x10E3, "LO", []string{fmt.Sprintf("DV%d.%d_M5", 20+rng.IntN(10), rng.IntN(10))}),
			privateElement(0x0043, 0x1039, "IS", []string{
				strconv.Itoa(rng.IntN(1000)), strconv.Itoa(rng.IntN(1000)), "0", "0",
			}),
		}
	case Philips:
		item := []*dicom.Element{
			privateElement(0x2005, 0x0011, "LO", []string{"Philips MR Imaging DD 005"}),
			privateElement(0x2005, 0x1100, "DS", []string{ds(1 + rng.Float64()*100)}),
			privateElement(0x2005, 0x1101, "DS", []string{ds(rng.Float64()*10 - 5)}),
		}
		return []*dicom.Element{
			privateElement(0x2001, 0x0010, "LO", []string{"Philips Imaging DD 001"}),
			privateElement(0x2005, 0x0010, "LO", []string{"Philips MR Imaging DD 001"}),
			privateElement(0x2005, 0x100E, "SQ", [][]*dicom.Element{item}),
		}
	default:
		return nil
	}
}

// privateElement builds an element with an explicit VR, which dicom.NewElement
// cannot do for tags missing from its dictionary.
func privateElement(group, element uint16, rawVR string, data any) *dicom.Element {
	t := tag.Tag{Group: group, Element: element}
	value, err := dicom.NewValue(data)
	if err != nil {
		panic(fmt.Sprintf("private element %v: %v", t, err))
	}
	return &dicom.Element{
		Tag:                    t,
		ValueRepresentation:    tag.GetVRKind(t, rawVR),
		RawValueRepresentation: rawVR,
		Value:                  value,
	}
}

// csaHeader encodes entries in the Siemens "SV10" layout, names sorted.
func csaHeader(entries map[string][]string) []byte {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	le := func(v uint32) { _ = binary.Write(&buf, binary.LittleEndian, v) }

	buf.WriteString("SV10")
	buf.Write([]byte{0x04, 0x03, 0x02, 0x01})
	le(uint32(len(names)))
	le(0x4D)
	for _, name := range names {
		values := entries[name]
		field := make([]byte, 64)
		copy(field, name)
		buf.Write(field)
		le(uint32(len(values))) // VM
		buf.Write([]byte{'L', 'O', 0, 0})
		le(19) // syngo data type
		le(uint32(len(values)))
		le(0x4D)
		for _, v := range values {
			// The item length is repeated four times.
			for range 4 {
				le(uint32(len(v)))
			}
			buf.WriteString(v)
			buf.Write(make([]byte, (4-len(v)%4)%4))
		}
	}
	return buf.Bytes()
}

// randomBytes returns n random bytes; n must be even for OB values.
func randomBytes(rng *randv2.Rand, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(rng.IntN(256))
	}
	return b
}

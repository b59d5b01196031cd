package dicom

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrsinham/medvol/internal/errors"
)

// SliceMetadata identifies a slice within its series.
type SliceMetadata struct {
	StudyUID  string
	SeriesUID string
	Z         float64
}

// ExtractMetadata reads the study UID, series UID and slice z of a file
// without decoding pixel data. A missing or unparsable tag yields a METADATA error.
func (b *Backend) ExtractMetadata(path string) (SliceMetadata, error) {
	ds, err := parseHeader(path)
	if err != nil {
		return SliceMetadata{}, errors.Metadataf("read metadata from %s", path).WithCause(err)
	}

	study, err := requiredString(ds, StudyInstanceUID, path)
	if err != nil {
		return SliceMetadata{}, err
	}
	series, err := requiredString(ds, SeriesInstanceUID, path)
	if err != nil {
		return SliceMetadata{}, err
	}
	position, err := requiredString(ds, ImagePositionPatient, path)
	if err != nil {
		return SliceMetadata{}, err
	}
	z, err := SliceZ(position)
	if err != nil {
		return SliceMetadata{}, errors.Metadataf("parse %s (%s) in %s", ImagePositionPatient.Name, ImagePositionPatient.Key(), path).WithCause(err)
	}

	b.logger.WithFields(log.Fields{
		"path":   path,
		"study":  study,
		"series": series,
		"z":      z,
	}).Debug("slice metadata")

	return SliceMetadata{StudyUID: study, SeriesUID: series, Z: z}, nil
}

// SliceZ returns the last backslash-separated component of an image position
// value, which must be a finite number.
func SliceZ(position string) (float64, error) {
	parts := strings.Split(position, `\`)
	if len(parts) < 3 {
		return 0, fmt.Errorf("image position %q has %d components, want 3", position, len(parts))
	}
	z, err := strconv.ParseFloat(strings.TrimSpace(parts[len(parts)-1]), 64)
	if err != nil {
		return 0, fmt.Errorf("image position z: %w", err)
	}
	if math.IsNaN(z) || math.IsInf(z, 0) {
		return 0, fmt.Errorf("image position z %q is not finite", parts[len(parts)-1])
	}
	return z, nil
}

// parseHeader parses a file element by element, skipping pixel data and
// stopping at the first unreadable element. The file is closed before returning.
func parseHeader(path string) (dicom.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return dicom.Dataset{}, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return dicom.Dataset{}, err
	}

	p, err := dicom.NewParser(f, info.Size(), nil, dicom.SkipPixelData())
	if err != nil {
		return dicom.Dataset{}, err
	}

	var elements []*dicom.Element
	for {
		elem, err := p.Next()
		if err != nil {
			break
		}
		elements = append(elements, elem)
		// Everything needed lives at or before group 0x0020.
		if elem.Tag.Group > tag.ImagePositionPatient.Group {
			break
		}
	}

	if len(elements) == 0 {
		return dicom.Dataset{}, fmt.Errorf("no elements parsed")
	}

	return dicom.Dataset{Elements: elements}, nil
}

// requiredString returns the backslash-joined value of a required tag.
func requiredString(ds dicom.Dataset, info TagInfo, path string) (string, error) {
	values, ok := stringValues(ds, info.Tag)
	if !ok || len(values) == 0 || strings.TrimSpace(strings.Join(values, "")) == "" {
		return "", errors.Metadataf("missing %s (%s) in %s", info.Name, info.Key(), path)
	}
	return strings.TrimSpace(strings.Join(values, `\`)), nil
}

// stringValues returns the values of an element as strings.
func stringValues(ds dicom.Dataset, t tag.Tag) ([]string, bool) {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem == nil || elem.Value == nil {
		return nil, false
	}
	switch v := elem.Value.GetValue().(type) {
	case []string:
		out := make([]string, len(v))
		for i, s := range v {
			out[i] = strings.TrimRight(strings.TrimSpace(s), "\x00")
		}
		return out, true
	case []int:
		out := make([]string, len(v))
		for i, n := range v {
			out[i] = strconv.Itoa(n)
		}
		return out, true
	case []float64:
		out := make([]string, len(v))
		for i, f := range v {
			out[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return out, true
	default:
		s := strings.Trim(elem.Value.String(), " []")
		if s == "" {
			return nil, false
		}
		return strings.Fields(s), true
	}
}

// floatValues parses the values of a decimal string element.
func floatValues(ds dicom.Dataset, t tag.Tag) ([]float64, bool) {
	values, ok := stringValues(ds, t)
	if !ok {
		return nil, false
	}
	var out []float64
	for _, v := range values {
		for _, part := range strings.Split(v, `\`) {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			f, err := strconv.ParseFloat(part, 64)
			if err != nil {
				return nil, false
			}
			out = append(out, f)
		}
	}
	return out, len(out) > 0
}

// intValue returns the first integer value of an element.
func intValue(ds dicom.Dataset, t tag.Tag) (int, bool) {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem == nil || elem.Value == nil {
		return 0, false
	}
	if ints, ok := elem.Value.GetValue().([]int); ok {
		if len(ints) == 0 {
			return 0, false
		}
		return ints[0], true
	}
	values, ok := floatValues(ds, t)
	if !ok {
		return 0, false
	}
	return int(values[0]), true
}

// Package dicom decodes DICOM slices and series into volumes.
package dicom

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// TagScope represents the DICOM hierarchy level at which a tag is consistent.
type TagScope int

const (
	// ScopeStudy indicates tags shared by every file of a study.
	ScopeStudy TagScope = iota
	// ScopeSeries indicates tags shared by every file of a series.
	ScopeSeries
	// ScopeImage indicates tags that vary per file.
	ScopeImage
)

// String returns the string representation of a TagScope.
func (s TagScope) String() string {
	switch s {
	case ScopeStudy:
		return "Study"
	case ScopeSeries:
		return "Series"
	case ScopeImage:
		return "Image"
	default:
		return "Unknown"
	}
}

// TagInfo describes a tag read by the loader.
type TagInfo struct {
	Name     string
	Tag      tag.Tag
	Scope    TagScope
	Required bool
}

// Key returns the "gggg|eeee" form of the tag.
func (i TagInfo) Key() string {
	return TagKey(i.Tag)
}

// Tags consumed by series assembly and decoding.
var (
	StudyInstanceUID     = TagInfo{Name: "StudyInstanceUID", Tag: tag.StudyInstanceUID, Scope: ScopeStudy, Required: true}
	SeriesInstanceUID    = TagInfo{Name: "SeriesInstanceUID", Tag: tag.SeriesInstanceUID, Scope: ScopeSeries, Required: true}
	ImagePositionPatient = TagInfo{Name: "ImagePositionPatient", Tag: tag.ImagePositionPatient, Scope: ScopeImage, Required: true}

	ImageOrientationPatient = TagInfo{Name: "ImageOrientationPatient", Tag: tag.ImageOrientationPatient, Scope: ScopeSeries}
	PixelSpacing            = TagInfo{Name: "PixelSpacing", Tag: tag.PixelSpacing, Scope: ScopeSeries}
	SliceThickness          = TagInfo{Name: "SliceThickness", Tag: tag.SliceThickness, Scope: ScopeSeries}
	SpacingBetweenSlices    = TagInfo{Name: "SpacingBetweenSlices", Tag: tag.SpacingBetweenSlices, Scope: ScopeSeries}
	Rows                    = TagInfo{Name: "Rows", Tag: tag.Rows, Scope: ScopeSeries}
	Columns                 = TagInfo{Name: "Columns", Tag: tag.Columns, Scope: ScopeSeries}
	NumberOfFrames          = TagInfo{Name: "NumberOfFrames", Tag: tag.NumberOfFrames, Scope: ScopeImage}
	SamplesPerPixel         = TagInfo{Name: "SamplesPerPixel", Tag: tag.SamplesPerPixel, Scope: ScopeSeries}
	BitsStored              = TagInfo{Name: "BitsStored", Tag: tag.BitsStored, Scope: ScopeSeries}
	PixelRepresentation     = TagInfo{Name: "PixelRepresentation", Tag: tag.PixelRepresentation, Scope: ScopeSeries}
	RescaleSlope            = TagInfo{Name: "RescaleSlope", Tag: tag.RescaleSlope, Scope: ScopeImage}
	RescaleIntercept        = TagInfo{Name: "RescaleIntercept", Tag: tag.RescaleIntercept, Scope: ScopeImage}
)

var registry = []TagInfo{
	StudyInstanceUID, SeriesInstanceUID, ImagePositionPatient,
	ImageOrientationPatient, PixelSpacing, SliceThickness, SpacingBetweenSlices,
	Rows, Columns, NumberOfFrames, SamplesPerPixel, BitsStored, PixelRepresentation,
	RescaleSlope, RescaleIntercept,
}

// Registry returns the tags read by the loader.
func Registry() []TagInfo {
	return append([]TagInfo(nil), registry...)
}

// TagKey formats a tag in the lowercase "gggg|eeee" form, e.g. "0020|000d".
func TagKey(t tag.Tag) string {
	return fmt.Sprintf("%04x|%04x", t.Group, t.Element)
}

// ParseTagKey parses the "gggg|eeee" form. Parentheses and a comma separator,
// as in "(0020,000D)", are accepted too.
func ParseTagKey(s string) (tag.Tag, error) {
	trimmed := strings.Trim(strings.TrimSpace(s), "()")
	parts := strings.FieldsFunc(trimmed, func(r rune) bool { return r == '|' || r == ',' })
	if len(parts) != 2 {
		return tag.Tag{}, fmt.Errorf("invalid tag key %q", s)
	}
	group, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 16, 16)
	if err != nil {
		return tag.Tag{}, fmt.Errorf("invalid tag group in %q: %w", s, err)
	}
	element, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 16, 16)
	if err != nil {
		return tag.Tag{}, fmt.Errorf("invalid tag element in %q: %w", s, err)
	}
	return tag.Tag{Group: uint16(group), Element: uint16(element)}, nil
}

// LookupTag finds a registered tag by name (case-insensitive) or by key.
func LookupTag(nameOrKey string) (TagInfo, error) {
	if t, err := ParseTagKey(nameOrKey); err == nil {
		for _, info := range registry {
			if info.Tag == t {
				return info, nil
			}
		}
		return TagInfo{}, fmt.Errorf("tag %s is not read by the loader", TagKey(t))
	}
	for _, info := range registry {
		if strings.EqualFold(info.Name, strings.TrimSpace(nameOrKey)) {
			return info, nil
		}
	}
	return TagInfo{}, fmt.Errorf("unknown tag %q", nameOrKey)
}

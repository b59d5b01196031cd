package classify

import (
	"path/filepath"
	"strings"
)

// ExtensionSet is a case-insensitive set of file extensions, each with its leading dot.
type ExtensionSet []string

// Canonical extension sets per format.
var (
	NIfTI = ExtensionSet{".nia", ".nii", ".nii.gz", ".hdr", ".img", ".img.gz"}
	DICOM = ExtensionSet{".dcm", ".dicom"}
	// TIFF is reserved; no reader consumes it.
	TIFF = ExtensionSet{".tif", ".tiff"}
)

// compoundExtensions are multi-dot suffixes kept whole by FilenameExtension.
var compoundExtensions = []string{".nii.gz", ".img.gz"}

// Contains reports whether ext is in the set, ignoring case.
func (s ExtensionSet) Contains(ext string) bool {
	if ext == "" {
		return false
	}
	for _, e := range s {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

// HasSuffix reports whether path ends with any extension of the set, ignoring case.
func (s ExtensionSet) HasSuffix(path string) bool {
	lower := strings.ToLower(path)
	for _, e := range s {
		if strings.HasSuffix(lower, strings.ToLower(e)) {
			return true
		}
	}
	return false
}

// FilenameExtension returns the lowercase extension of path, keeping known
// compound suffixes such as ".nii.gz" whole.
func FilenameExtension(path string) string {
	lower := strings.ToLower(filepath.Base(path))
	for _, c := range compoundExtensions {
		if strings.HasSuffix(lower, c) && len(lower) > len(c) {
			return c
		}
	}
	return filepath.Ext(lower)
}

// Package classify guesses the format of a file from its name and its leading bytes.
package classify

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/gabriel-vasile/mimetype"

	"github.com/mrsinham/medvol/internal/errors"
)

// Candidate is one content-derived extension guess.
type Candidate struct {
	Extension  string
	Confidence float64
}

// Guess holds the filename-derived extension and the ranked content-derived guesses.
type Guess struct {
	Filename string
	Magic    []Candidate
}

// Matches reports whether the guess belongs to set. The filename extension always
// counts; magic candidates count when their confidence is at least minConfidence.
func (g Guess) Matches(set ExtensionSet, minConfidence float64) bool {
	if set.Contains(g.Filename) {
		return true
	}
	for _, c := range g.Magic {
		if c.Confidence >= minConfidence && set.Contains(c.Extension) {
			return true
		}
	}
	return false
}

// NIfTI-1 stores its magic string at byte 344 of the header.
const niftiMagicOffset = 344

var registerOnce sync.Once

// registerNIfTI teaches mimetype the NIfTI-1 single file and header signatures.
func registerNIfTI() {
	registerOnce.Do(func() {
		mimetype.Extend(niftiMagic("n+1\x00"), "application/x-nifti", ".nii")
		mimetype.Extend(niftiMagic("ni1\x00"), "application/x-nifti-header", ".hdr")
	})
}

func niftiMagic(magic string) func(raw []byte, limit uint32) bool {
	return func(raw []byte, _ uint32) bool {
		end := niftiMagicOffset + len(magic)
		return len(raw) >= end && bytes.Equal(raw[niftiMagicOffset:end], []byte(magic))
	}
}

// Classifier sniffs file types with mimetype.
type Classifier struct{}

// New returns a Classifier.
func New() *Classifier {
	registerNIfTI()
	return &Classifier{}
}

// Classify returns the extension guesses for path. The detected MIME type ranks
// first with confidence 1; each parent type follows at half the previous confidence.
func (c *Classifier) Classify(path string) (Guess, error) {
	if path == "" {
		return Guess{}, errors.InvalidInput("classify: empty path")
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return Guess{}, fmt.Errorf("detect file type: %w", err)
	}

	guess := Guess{Filename: FilenameExtension(path)}
	confidence := 1.0
	for m := mt; m != nil; m = m.Parent() {
		if ext := m.Extension(); ext != "" {
			guess.Magic = append(guess.Magic, Candidate{Extension: ext, Confidence: confidence})
		}
		confidence /= 2
	}
	return guess, nil
}

// Package reader loads medical images from files and DICOM series
// directories into volumes with their geometry.
package reader

import (
	"context"
	"runtime"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/mrsinham/medvol/internal/classify"
	"github.com/mrsinham/medvol/internal/dicom"
	"github.com/mrsinham/medvol/internal/logger"
	"github.com/mrsinham/medvol/internal/normalize"
	"github.com/mrsinham/medvol/internal/volume"
)

// Validator reports whether a path can be read.
type Validator interface {
	CheckValid(path string) (bool, error)
}

// Reader reads one path into a result.
type Reader[T any] interface {
	Read(ctx context.Context, path string) (T, error)
}

// Resampler resamples a volume onto a new grid.
type Resampler interface {
	Resample(ctx context.Context, v *volume.Volume, spacing []float64, mode volume.Interpolation) (*volume.Volume, error)
}

// FileDecoder decodes a single image file.
type FileDecoder interface {
	DecodeFile(ctx context.Context, path string) (*volume.Volume, error)
}

// SeriesDecoder stacks ordered DICOM slices into one volume.
type SeriesDecoder interface {
	DecodeSeries(ctx context.Context, paths []string) (*volume.Volume, error)
}

// MetadataExtractor reads the identifying tags of a DICOM slice.
type MetadataExtractor interface {
	ExtractMetadata(path string) (dicom.SliceMetadata, error)
}

// Classifier guesses file types.
type Classifier interface {
	Classify(path string) (classify.Guess, error)
}

// Format names the source of a result.
type Format string

const (
	FormatDICOM       Format = "dicom"
	FormatNIfTI       Format = "nifti"
	FormatDICOMSeries Format = "dicom_series"
)

// Options configures the readers.
type Options struct {
	// Resample adds a copy of the volume at Spacing to every result.
	Resample      bool
	Spacing       []float64 // physical axis order, unit spacing when nil
	Interpolation volume.Interpolation

	// MinConfidence is the lowest content-guess confidence accepted by the
	// DICOM check. Zero accepts any guess.
	MinConfidence float64

	// StrictDuplicates rejects series with two slices at the same position
	// instead of keeping the later one.
	StrictDuplicates bool
	// Workers bounds concurrent metadata extraction (0 = number of CPUs).
	Workers int

	Classifier Classifier
	Resampler  Resampler
	Logger     log.FieldLogger
}

// DefaultOptions returns options that resample to unit spacing with linear
// interpolation and accept any classifier confidence.
func DefaultOptions() Options {
	return Options{Resample: true, Interpolation: volume.Linear}
}

func (o Options) withDefaults() Options {
	if o.Classifier == nil {
		o.Classifier = classify.New()
	}
	if o.Resampler == nil {
		o.Resampler = volume.GridResampler{}
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	o.Logger = logger.OrDiscard(o.Logger)
	return o
}

// InvokeOptions controls the check, read and normalize pipeline.
type InvokeOptions struct {
	// Check rejects paths that fail CheckValid before reading.
	Check bool
	// Normalization, when set, rescales the voxel array in place.
	Normalization *normalize.Options
}

// validate runs before any file is touched.
func (o InvokeOptions) validate() error {
	if o.Normalization == nil {
		return nil
	}
	return o.Normalization.Validate()
}

// SingleFileResult is the record produced by the DICOM and NIfTI file readers.
type SingleFileResult struct {
	Format       Format
	Volume       *volume.Volume
	Affine       *mat.Dense // 4x4 voxel-to-RAS
	OriginalPath string
	Resampled    *volume.Volume // nil when resampling is disabled
}

// Fields returns the record keyed by the serialized field names.
func (r *SingleFileResult) Fields() map[string]any {
	f := volumeFields(r.Volume, r.Affine, r.Resampled)
	f["original_path"] = r.OriginalPath
	f["format"] = string(r.Format)
	return f
}

// SeriesResult is the record produced by the DICOM series reader.
type SeriesResult struct {
	Volume    *volume.Volume
	Affine    *mat.Dense // 4x4 voxel-to-RAS
	StudyID   string
	SeriesID  string
	Paths     []string // slice files, ascending z
	Dropped   []string // slices replaced by a later file at the same position
	Resampled *volume.Volume
}

// Fields returns the record keyed by the serialized field names.
func (r *SeriesResult) Fields() map[string]any {
	f := volumeFields(r.Volume, r.Affine, r.Resampled)
	f["study_id"] = r.StudyID
	f["series_id"] = r.SeriesID
	f["format"] = string(FormatDICOMSeries)
	f["paths"] = r.Paths
	if len(r.Dropped) > 0 {
		f["dropped"] = r.Dropped
	}
	return f
}

func volumeFields(v *volume.Volume, affine *mat.Dense, resampled *volume.Volume) map[string]any {
	f := map[string]any{
		"data_array": v.Data,
		"shape":      v.Shape,
		"spacing":    v.Spacing,
		"origin":     v.Origin,
		"direction":  v.Direction,
		"affine":     volume.Rows(affine),
	}
	if resampled != nil {
		f["resampled_array"] = resampled.Data
		f["resampled_shape"] = resampled.Shape
	}
	return f
}

// normalizeInPlace replaces the voxel array of v with its normalized values.
func normalizeInPlace(v *volume.Volume, opts *normalize.Options) error {
	if opts == nil {
		return nil
	}
	data, err := normalize.Apply(v.Data, *opts)
	if err != nil {
		return err
	}
	v.Data = data
	return nil
}

// resample returns v at the configured spacing, or nil when disabled.
// Volumes with more than three axes are returned without a resampled copy.
func resample(ctx context.Context, opts Options, v *volume.Volume) (*volume.Volume, error) {
	if !opts.Resample {
		return nil, nil
	}
	dims := v.Dims()
	if dims > 3 {
		opts.Logger.WithField("shape", v.Shape).Debug("skipping resample of a volume with more than 3 axes")
		return nil, nil
	}
	spacing := volume.UnitSpacing(dims)
	if len(opts.Spacing) >= dims {
		spacing = opts.Spacing[:dims]
	}
	out, err := opts.Resampler.Resample(ctx, v, spacing, opts.Interpolation)
	if err != nil {
		return nil, err
	}
	opts.Logger.WithFields(log.Fields{
		"from":    v.Shape,
		"to":      out.Shape,
		"spacing": spacing,
	}).Debug("resampled volume")
	return out, nil
}

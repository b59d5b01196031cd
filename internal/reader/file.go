package reader

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/mrsinham/medvol/internal/classify"
	"github.com/mrsinham/medvol/internal/errors"
	"github.com/mrsinham/medvol/internal/volume"
)

// fileReader holds the read and invoke pipeline shared by single-file formats.
type fileReader struct {
	format  Format
	decoder FileDecoder
	opts    Options
	valid   func(path string) (bool, error)
}

func (r *fileReader) read(ctx context.Context, path string) (*SingleFileResult, error) {
	v, err := r.decoder.DecodeFile(ctx, path)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, errors.ErrDecode) {
			return nil, err
		}
		return nil, errors.Decodef("decode %s", path).WithCause(err)
	}

	res := &SingleFileResult{
		Format:       r.format,
		Volume:       v,
		Affine:       volume.Affine(v, true),
		OriginalPath: path,
	}
	if res.Resampled, err = resample(ctx, r.opts, v); err != nil {
		return nil, err
	}

	r.opts.Logger.WithFields(log.Fields{
		"format": r.format,
		"path":   path,
		"shape":  v.Shape,
	}).Debug("read file")
	return res, nil
}

func (r *fileReader) invoke(ctx context.Context, path string, opts InvokeOptions) (*SingleFileResult, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Check {
		ok, err := r.valid(path)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.InvalidPathf("%s is not a valid %s file", path, r.format)
		}
	}

	res, err := r.read(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := normalizeInPlace(res.Volume, opts.Normalization); err != nil {
		return nil, err
	}
	return res, nil
}

// DicomReader reads single DICOM files.
type DicomReader struct {
	fileReader
}

// NewDicomReader returns a reader decoding files with decoder.
func NewDicomReader(decoder FileDecoder, opts Options) *DicomReader {
	r := &DicomReader{fileReader{format: FormatDICOM, decoder: decoder, opts: opts.withDefaults()}}
	r.valid = r.CheckValid
	return r
}

// CheckValid classifies the file and accepts it when its name or content
// matches a DICOM extension.
func (r *DicomReader) CheckValid(path string) (bool, error) {
	guess, err := r.opts.Classifier.Classify(path)
	if err != nil {
		return false, err
	}
	return guess.Matches(classify.DICOM, r.opts.MinConfidence), nil
}

// Read decodes path and computes its affine and resampled copy.
func (r *DicomReader) Read(ctx context.Context, path string) (*SingleFileResult, error) {
	return r.read(ctx, path)
}

// Invoke optionally checks, then reads and optionally normalizes path.
func (r *DicomReader) Invoke(ctx context.Context, path string, opts InvokeOptions) (*SingleFileResult, error) {
	return r.invoke(ctx, path, opts)
}

// NiftiReader reads NIfTI-1 files.
type NiftiReader struct {
	fileReader
}

// NewNiftiReader returns a reader decoding files with decoder.
func NewNiftiReader(decoder FileDecoder, opts Options) *NiftiReader {
	r := &NiftiReader{fileReader{format: FormatNIfTI, decoder: decoder, opts: opts.withDefaults()}}
	r.valid = r.CheckValid
	return r
}

// CheckValid matches the file name against the NIfTI extensions. The content
// is not inspected.
func (r *NiftiReader) CheckValid(path string) (bool, error) {
	return classify.NIfTI.HasSuffix(path), nil
}

// Read decodes path and computes its affine and resampled copy.
func (r *NiftiReader) Read(ctx context.Context, path string) (*SingleFileResult, error) {
	return r.read(ctx, path)
}

// Invoke optionally checks, then reads and optionally normalizes path.
func (r *NiftiReader) Invoke(ctx context.Context, path string, opts InvokeOptions) (*SingleFileResult, error) {
	return r.invoke(ctx, path, opts)
}

var (
	_ Validator                 = (*DicomReader)(nil)
	_ Reader[*SingleFileResult] = (*DicomReader)(nil)
	_ Validator                 = (*NiftiReader)(nil)
	_ Reader[*SingleFileResult] = (*NiftiReader)(nil)
)

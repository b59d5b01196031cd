package dicom

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrsinham/medvol/internal/dicom/synth"
	"github.com/mrsinham/medvol/internal/dicom/synth/modalities"
	"github.com/mrsinham/medvol/internal/errors"
)

func rampSeries(t *testing.T, opts synth.Options) []synth.GeneratedFile {
	t.Helper()
	if opts.OutputDir == "" {
		opts.OutputDir = t.TempDir()
	}
	if opts.Rows == 0 {
		opts.Rows, opts.Cols = 3, 4
	}
	if opts.NumImages == 0 {
		opts.NumImages = 3
	}
	if opts.PixelSpacing == 0 {
		opts.PixelSpacing = 0.5
	}
	if opts.SliceSpacing == 0 {
		opts.SliceSpacing = 2
	}
	opts.Pattern = synth.Ramp
	opts.Workers = 2
	files, err := synth.GenerateSeries(opts)
	require.NoError(t, err)
	return files
}

func paths(files []synth.GeneratedFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}

func TestExtractMetadata(t *testing.T) {
	files := rampSeries(t, synth.Options{Origin: []float64{1, 2, -7.5}, Seed: 3})
	b := NewBackend(nil)

	for i, f := range files {
		md, err := b.ExtractMetadata(f.Path)
		require.NoError(t, err)
		assert.Equal(t, f.StudyUID, md.StudyUID)
		assert.Equal(t, f.SeriesUID, md.SeriesUID)
		assert.InDelta(t, -7.5+2*float64(i), md.Z, 1e-9)
	}
}

func TestExtractMetadataMissingTag(t *testing.T) {
	for _, missing := range []tag.Tag{tag.ImagePositionPatient, tag.SeriesInstanceUID, tag.StudyInstanceUID} {
		files := rampSeries(t, synth.Options{NumImages: 1, OmitTags: []tag.Tag{missing}})

		_, err := NewBackend(nil).ExtractMetadata(files[0].Path)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrMetadata), "got %v", err)
		assert.Contains(t, err.Error(), TagKey(missing))
	}
}

func TestExtractMetadataNonFinitePosition(t *testing.T) {
	files := rampSeries(t, synth.Options{NumImages: 1, Positions: []float64{math.NaN()}})

	_, err := NewBackend(nil).ExtractMetadata(files[0].Path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMetadata), "got %v", err)
	assert.Contains(t, err.Error(), TagKey(tag.ImagePositionPatient))
}

func TestExtractMetadataNotDICOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("not a dicom file"), 0o644))

	_, err := NewBackend(nil).ExtractMetadata(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMetadata))
}

func TestSliceZ(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{`-10\20\30`, 30, false},
		{`0\0\-2.5 `, -2.5, false},
		{`1\2`, 0, true},
		{`1\2\abc`, 0, true},
		{`0\0\NaN`, 0, true},
		{`0\0\+Inf`, 0, true},
		{`0\0\-inf`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := SliceZ(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeFileRamp(t *testing.T) {
	opts := synth.Options{NumImages: 1, Rows: 3, Cols: 4, Origin: []float64{-5, 6, 7}}
	files := rampSeries(t, opts)

	v, err := NewBackend(nil).DecodeFile(context.Background(), files[0].Path)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 3, 4}, v.Shape)
	assert.Equal(t, []float64{0.5, 0.5, 2}, v.Spacing)
	assert.Equal(t, []float64{-5, 6, 7}, v.Origin)
	assert.Equal(t, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}, v.Direction)

	opts.Cols = 4
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			assert.Equal(t, synth.RampValue(opts, 0, y, x), v.At(0, y, x), "voxel (%d,%d)", y, x)
		}
	}
}

func TestDecodeFileSignedRescaled(t *testing.T) {
	opts := synth.Options{NumImages: 1, Rows: 2, Cols: 2, Modality: modalities.CT, RampOffset: -2000}
	files := rampSeries(t, opts)

	v, err := NewBackend(nil).DecodeFile(context.Background(), files[0].Path)
	require.NoError(t, err)

	assert.Equal(t, []float64{-2000, -1999, -1998, -1997}, v.Data)
}

func TestDecodeFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.dcm")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	_, err := NewBackend(nil).DecodeFile(context.Background(), path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDecode))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewBackend(nil).DecodeFile(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecodeSeries(t *testing.T) {
	opts := synth.Options{NumImages: 3, Rows: 3, Cols: 4, Origin: []float64{0, 0, 10}, SliceSpacing: 1.25}
	files := rampSeries(t, opts)

	v, err := NewBackend(nil).DecodeSeries(context.Background(), paths(files))
	require.NoError(t, err)

	assert.Equal(t, []int{3, 3, 4}, v.Shape)
	assert.InDeltaSlice(t, []float64{0.5, 0.5, 1.25}, v.Spacing, 1e-9)
	assert.Equal(t, []float64{0, 0, 10}, v.Origin)
	assert.Equal(t, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}, v.Direction)

	opts.Cols = 4
	for z := 0; z < 3; z++ {
		assert.Equal(t, synth.RampValue(opts, z, 2, 3), v.At(z, 2, 3))
	}
}

func TestDecodeSeriesDescendingFlipsNormal(t *testing.T) {
	files := rampSeries(t, synth.Options{NumImages: 3, Positions: []float64{4, 2, 0}})

	v, err := NewBackend(nil).DecodeSeries(context.Background(), paths(files))
	require.NoError(t, err)

	assert.InDelta(t, 2, v.Spacing[2], 1e-9)
	assert.Equal(t, -1.0, v.Direction[8])
	assert.Equal(t, []float64{0, 0, 4}, v.Origin)
}

func TestDecodeSeriesOblique(t *testing.T) {
	sagittal := []float64{0, 1, 0, 0, 0, -1}
	files := rampSeries(t, synth.Options{NumImages: 2, Orientation: sagittal, SliceSpacing: 3})

	v, err := NewBackend(nil).DecodeSeries(context.Background(), paths(files))
	require.NoError(t, err)

	// Columns: row cosine, column cosine, normal (-1, 0, 0).
	assert.Equal(t, []float64{
		0, 0, -1,
		1, 0, 0,
		0, -1, 0,
	}, v.Direction)
	assert.InDelta(t, 3, v.Spacing[2], 1e-9)
}

func TestDecodeSeriesNonUniformSpacingWarns(t *testing.T) {
	files := rampSeries(t, synth.Options{NumImages: 3, Positions: []float64{0, 1, 5}})
	l, hook := test.NewNullLogger()

	v, err := NewBackend(l).DecodeSeries(context.Background(), paths(files))
	require.NoError(t, err)
	assert.InDelta(t, 1, v.Spacing[2], 1e-9)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == log.WarnLevel && e.Message == "non-uniform slice spacing" {
			warned = true
		}
	}
	assert.True(t, warned, "expected a non-uniform spacing warning")
}

func TestDecodeSeriesRejectsMismatchedGeometry(t *testing.T) {
	dir := t.TempDir()
	small := rampSeries(t, synth.Options{OutputDir: filepath.Join(dir, "a"), NumImages: 1, Rows: 2, Cols: 2})
	large := rampSeries(t, synth.Options{OutputDir: filepath.Join(dir, "b"), NumImages: 1, Rows: 3, Cols: 3, Positions: []float64{1}})
	spaced := rampSeries(t, synth.Options{OutputDir: filepath.Join(dir, "c"), NumImages: 1, Rows: 2, Cols: 2, PixelSpacing: 0.9, Positions: []float64{1}})
	tilted := rampSeries(t, synth.Options{OutputDir: filepath.Join(dir, "d"), NumImages: 1, Rows: 2, Cols: 2, Orientation: []float64{0, 1, 0, 0, 0, -1}})

	b := NewBackend(nil)
	for name, other := range map[string]string{"size": large[0].Path, "spacing": spaced[0].Path, "orientation": tilted[0].Path} {
		t.Run(name, func(t *testing.T) {
			_, err := b.DecodeSeries(context.Background(), []string{small[0].Path, other})
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrReconstruction), "got %v", err)
		})
	}
}

func TestDecodeSeriesErrors(t *testing.T) {
	b := NewBackend(nil)

	_, err := b.DecodeSeries(context.Background(), nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	files := rampSeries(t, synth.Options{NumImages: 2, Positions: []float64{3, 3}})
	_, err = b.DecodeSeries(context.Background(), paths(files))
	assert.True(t, errors.Is(err, errors.ErrReconstruction))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.DecodeSeries(ctx, paths(files))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVendorPrivateBlocksAreSkipped(t *testing.T) {
	for _, vendor := range synth.AllVendors() {
		t.Run(string(vendor), func(t *testing.T) {
			opts := synth.Options{NumImages: 2, Rows: 3, Cols: 4, Vendor: vendor}
			files := rampSeries(t, opts)
			b := NewBackend(nil)

			md, err := b.ExtractMetadata(files[1].Path)
			require.NoError(t, err)
			assert.Equal(t, files[1].SeriesUID, md.SeriesUID)

			v, err := b.DecodeSeries(context.Background(), paths(files))
			require.NoError(t, err)
			assert.Equal(t, []int{2, 3, 4}, v.Shape)
			assert.Equal(t, synth.RampValue(opts, 1, 2, 3), v.At(1, 2, 3))
		})
	}
}

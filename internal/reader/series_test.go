package reader_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrsinham/medvol/internal/dicom"
	"github.com/mrsinham/medvol/internal/dicom/synth"
	"github.com/mrsinham/medvol/internal/errors"
	"github.com/mrsinham/medvol/internal/normalize"
	"github.com/mrsinham/medvol/internal/reader"
)

func writeSeries(t *testing.T, opts synth.Options) []synth.GeneratedFile {
	t.Helper()
	opts.Rows, opts.Cols = 3, 4
	opts.PixelSpacing = 0.5
	opts.SliceSpacing = 2
	opts.Pattern = synth.Ramp
	opts.Workers = 2
	if opts.NumImages == 0 {
		opts.NumImages = len(opts.Positions)
	}
	files, err := synth.GenerateSeries(opts)
	require.NoError(t, err)
	return files
}

func newSeriesReader(t *testing.T, opts reader.Options) *reader.SeriesReader {
	t.Helper()
	backend := dicom.NewBackend(opts.Logger)
	return reader.NewSeriesReader(backend, backend, opts)
}

func TestSeriesReaderEndToEnd(t *testing.T) {
	dir := t.TempDir()
	files := writeSeries(t, synth.Options{OutputDir: dir, Seed: 7, Positions: []float64{4, 0, 2}})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("not an image"), 0o644))

	r := newSeriesReader(t, reader.Options{Resample: true, Spacing: []float64{1, 1, 2}})
	res, err := r.Invoke(context.Background(), dir, reader.InvokeOptions{})
	require.NoError(t, err)

	assert.Equal(t, files[0].StudyUID, res.StudyID)
	assert.Equal(t, files[0].SeriesUID, res.SeriesID)
	assert.Equal(t, []string{files[1].Path, files[2].Path, files[0].Path}, res.Paths)
	assert.Equal(t, []int{3, 3, 4}, res.Volume.Shape)
	assert.InDeltaSlice(t, []float64{0.5, 0.5, 2}, res.Volume.Spacing, 1e-9)

	// The ramp encodes the instance index, so ascending z reads instances 2, 3, 1.
	assert.Equal(t, 100.0, res.Volume.At(0, 0, 0))
	assert.Equal(t, 200.0, res.Volume.At(1, 0, 0))
	assert.Equal(t, 11.0, res.Volume.At(2, 2, 3))

	require.NotNil(t, res.Resampled)
	assert.Equal(t, []int{3, 2, 2}, res.Resampled.Shape)
}

func TestSeriesReaderNormalizes(t *testing.T) {
	dir := t.TempDir()
	writeSeries(t, synth.Options{OutputDir: dir, NumImages: 4})

	r := newSeriesReader(t, reader.Options{})
	res, err := r.Invoke(context.Background(), dir, reader.InvokeOptions{
		Normalization: &normalize.Options{Kind: normalize.MinMax},
	})
	require.NoError(t, err)

	stats := res.Volume.Summary()
	assert.Equal(t, 0.0, stats.Min)
	assert.Equal(t, 1.0, stats.Max)
	assert.Nil(t, res.Resampled)
}

func TestSeriesReaderDuplicateCopy(t *testing.T) {
	dir := t.TempDir()
	files := writeSeries(t, synth.Options{OutputDir: dir, NumImages: 3})

	raw, err := os.ReadFile(files[1].Path)
	require.NoError(t, err)
	copyPath := filepath.Join(dir, "ZZ_copy.dcm")
	require.NoError(t, os.WriteFile(copyPath, raw, 0o644))

	l, hook := test.NewNullLogger()
	res, err := newSeriesReader(t, reader.Options{Logger: l}).Invoke(context.Background(), dir, reader.InvokeOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{files[0].Path, copyPath, files[2].Path}, res.Paths)
	assert.Equal(t, []string{files[1].Path}, res.Dropped)

	var found bool
	for _, e := range hook.AllEntries() {
		if e.Message == "duplicate slice position" {
			found = true
			assert.Equal(t, copyPath, e.Data["kept"])
			assert.Equal(t, files[1].Path, e.Data["dropped"])
		}
	}
	assert.True(t, found, "expected a duplicate warning")

	_, err = newSeriesReader(t, reader.Options{StrictDuplicates: true}).Invoke(context.Background(), dir, reader.InvokeOptions{})
	assert.True(t, errors.Is(err, errors.ErrInvalidSeries))
}

func TestSeriesReaderTwoSeries(t *testing.T) {
	dir := t.TempDir()
	writeSeries(t, synth.Options{OutputDir: filepath.Join(dir, "a"), NumImages: 2, Seed: 1})
	writeSeries(t, synth.Options{OutputDir: filepath.Join(dir, "b"), NumImages: 2, Seed: 2})

	_, err := newSeriesReader(t, reader.Options{}).Invoke(context.Background(), dir, reader.InvokeOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidSeries))

	var verr *reader.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, reader.MultipleSeriesFound, verr.Reason)
	assert.Len(t, verr.Keys, 2)
}

func TestSeriesReaderMissingPosition(t *testing.T) {
	dir := t.TempDir()
	writeSeries(t, synth.Options{OutputDir: dir, NumImages: 2, OmitTags: []tag.Tag{tag.ImagePositionPatient}})

	_, err := newSeriesReader(t, reader.Options{}).CheckValid(context.Background(), dir)
	assert.True(t, errors.Is(err, errors.ErrMetadata))
}

func TestDicomReaderEndToEnd(t *testing.T) {
	dir := t.TempDir()
	files := writeSeries(t, synth.Options{OutputDir: dir, NumImages: 1, Origin: []float64{-10, 20, 30}})

	r := reader.NewDicomReader(dicom.NewBackend(nil), reader.DefaultOptions())
	res, err := r.Invoke(context.Background(), files[0].Path, reader.InvokeOptions{Check: true})
	require.NoError(t, err)

	assert.Equal(t, reader.FormatDICOM, res.Format)
	assert.Equal(t, []int{1, 3, 4}, res.Volume.Shape)
	assert.Equal(t, []float64{-10, 20, 30}, res.Volume.Origin)
	// LPS origin (-10, 20, 30) is RAS (10, -20, 30).
	assert.InDelta(t, 10.0, res.Affine.At(0, 3), 1e-9)
	assert.InDelta(t, -20.0, res.Affine.At(1, 3), 1e-9)
	assert.InDelta(t, 30.0, res.Affine.At(2, 3), 1e-9)
}

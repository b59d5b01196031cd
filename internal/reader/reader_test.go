package reader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrsinham/medvol/internal/dicom"
	"github.com/mrsinham/medvol/internal/errors"
	"github.com/mrsinham/medvol/internal/normalize"
	"github.com/mrsinham/medvol/internal/volume"
)

// fakeExtractor serves metadata from a map keyed by base name.
type fakeExtractor struct {
	slices map[string]dicom.SliceMetadata
	errs   map[string]error
}

func (f *fakeExtractor) ExtractMetadata(path string) (dicom.SliceMetadata, error) {
	name := filepath.Base(path)
	if err, ok := f.errs[name]; ok {
		return dicom.SliceMetadata{}, err
	}
	md, ok := f.slices[name]
	if !ok {
		return dicom.SliceMetadata{}, fmt.Errorf("unexpected file %s", path)
	}
	return md, nil
}

// fakeDecoder returns a ramp volume and counts calls.
type fakeDecoder struct {
	calls atomic.Int32
	err   error
	shape []int
}

func (f *fakeDecoder) volume() *volume.Volume {
	shape := f.shape
	if shape == nil {
		shape = []int{1, 3, 3}
	}
	v := volume.New(shape...)
	for i := range v.Data {
		v.Data[i] = float64(i + 1)
	}
	return v
}

func (f *fakeDecoder) DecodeFile(_ context.Context, _ string) (*volume.Volume, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.volume(), nil
}

func (f *fakeDecoder) DecodeSeries(_ context.Context, paths []string) (*volume.Volume, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	v := volume.New(len(paths), 2, 2)
	for i := range v.Data {
		v.Data[i] = float64(i)
	}
	return v, nil
}

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("placeholder"), 0o644))
	}
}

func slice(study, series string, z float64) dicom.SliceMetadata {
	return dicom.SliceMetadata{StudyUID: study, SeriesUID: series, Z: z}
}

func TestSeriesKeyString(t *testing.T) {
	assert.Equal(t, "1.2-3.4", SeriesKey{StudyUID: "1.2", SeriesUID: "3.4"}.String())
}

func TestCheckValidSortsByPosition(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.dcm", "b.dcm", "sub/c.dcm", "notes.txt")
	ex := &fakeExtractor{slices: map[string]dicom.SliceMetadata{
		"a.dcm": slice("s", "x", 5),
		"b.dcm": slice("s", "x", -1.5),
		"c.dcm": slice("s", "x", 2),
	}}

	r := NewSeriesReader(ex, &fakeDecoder{}, Options{Workers: 2})
	vs, err := r.CheckValid(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, SeriesKey{StudyUID: "s", SeriesUID: "x"}, vs.Key)
	assert.Equal(t, []float64{-1.5, 2, 5}, vs.Positions)
	assert.Equal(t, []string{
		filepath.Join(dir, "b.dcm"),
		filepath.Join(dir, "sub", "c.dcm"),
		filepath.Join(dir, "a.dcm"),
	}, vs.Paths)
	assert.Empty(t, vs.Dropped)
}

func TestCheckValidMultipleSeries(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.dcm", "b.dcm")
	ex := &fakeExtractor{slices: map[string]dicom.SliceMetadata{
		"a.dcm": slice("s", "x", 0),
		"b.dcm": slice("s", "y", 1),
	}}
	l, hook := test.NewNullLogger()

	_, err := NewSeriesReader(ex, &fakeDecoder{}, Options{Logger: l}).CheckValid(context.Background(), dir)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, MultipleSeriesFound, verr.Reason)
	assert.Equal(t, []string{"s-x", "s-y"}, verr.Keys)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, log.ErrorLevel, entry.Level)
	assert.Equal(t, "series directory rejected", entry.Message)
	assert.Equal(t, "MultipleSeriesFound", entry.Data["reason"])
}

func TestCheckValidDuplicatePositionKeepsLaterFile(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.dcm", "b.dcm", "c.dcm")
	ex := &fakeExtractor{slices: map[string]dicom.SliceMetadata{
		"a.dcm": slice("s", "x", 0),
		"b.dcm": slice("s", "x", 0),
		"c.dcm": slice("s", "x", 1),
	}}
	l, hook := test.NewNullLogger()

	vs, err := NewSeriesReader(ex, &fakeDecoder{}, Options{Logger: l, Workers: 3}).CheckValid(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(dir, "b.dcm"), filepath.Join(dir, "c.dcm")}, vs.Paths)
	assert.Equal(t, []string{filepath.Join(dir, "a.dcm")}, vs.Dropped)

	var warnings []*log.Entry
	for _, e := range hook.AllEntries() {
		if e.Level == log.WarnLevel {
			warnings = append(warnings, e)
		}
	}
	require.Len(t, warnings, 1)
	assert.Equal(t, "duplicate slice position", warnings[0].Message)
	assert.Equal(t, filepath.Join(dir, "b.dcm"), warnings[0].Data["kept"])
	assert.Equal(t, filepath.Join(dir, "a.dcm"), warnings[0].Data["dropped"])
	assert.Equal(t, "s-x", warnings[0].Data["key"])
}

func TestCheckValidStrictDuplicates(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.dcm", "b.dcm")
	ex := &fakeExtractor{slices: map[string]dicom.SliceMetadata{
		"a.dcm": slice("s", "x", 3),
		"b.dcm": slice("s", "x", 3),
	}}

	_, err := NewSeriesReader(ex, &fakeDecoder{}, Options{StrictDuplicates: true}).CheckValid(context.Background(), dir)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, DuplicatePosition, verr.Reason)
	assert.Equal(t, []string{filepath.Join(dir, "a.dcm"), filepath.Join(dir, "b.dcm")}, verr.Paths)
}

func TestCheckValidRejections(t *testing.T) {
	empty := t.TempDir()
	textOnly := t.TempDir()
	touch(t, textOnly, "readme.txt")
	file := filepath.Join(t.TempDir(), "slice.dcm")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	tests := []struct {
		name string
		dir  string
		want Reason
	}{
		{"empty directory", empty, NoSeriesFound},
		{"no dicom files", textOnly, NoSeriesFound},
		{"regular file", file, NotADirectory},
		{"missing path", filepath.Join(empty, "nope"), NotADirectory},
	}

	r := NewSeriesReader(&fakeExtractor{}, &fakeDecoder{}, Options{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.CheckValid(context.Background(), tt.dir)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.want, verr.Reason)
			assert.Equal(t, tt.dir, verr.Dir)
			assert.NotEmpty(t, verr.Error())
		})
	}
}

func TestCheckValidMetadataErrorPropagates(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.dcm", "b.dcm")
	ex := &fakeExtractor{
		slices: map[string]dicom.SliceMetadata{"a.dcm": slice("s", "x", 0)},
		errs:   map[string]error{"b.dcm": errors.Metadataf("missing ImagePositionPatient (0020|0032) in b.dcm")},
	}
	r := NewSeriesReader(ex, &fakeDecoder{}, Options{})

	_, err := r.CheckValid(context.Background(), dir)
	assert.True(t, errors.Is(err, errors.ErrMetadata))

	_, err = r.Invoke(context.Background(), dir, InvokeOptions{})
	assert.True(t, errors.Is(err, errors.ErrMetadata))
	assert.False(t, errors.Is(err, errors.ErrInvalidSeries))
}

func TestCheckValidDeterministicAcrossWorkers(t *testing.T) {
	dir := t.TempDir()
	slices := map[string]dicom.SliceMetadata{}
	for i := 0; i < 20; i++ {
		name := fmt.Sprintf("im%02d.dcm", i)
		touch(t, dir, name)
		slices[name] = slice("s", "x", float64(i%7))
	}
	ex := &fakeExtractor{slices: slices}

	one, err := NewSeriesReader(ex, &fakeDecoder{}, Options{Workers: 1}).CheckValid(context.Background(), dir)
	require.NoError(t, err)
	many, err := NewSeriesReader(ex, &fakeDecoder{}, Options{Workers: 8}).CheckValid(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, one, many)
	assert.Len(t, one.Paths, 7)
	assert.Len(t, one.Dropped, 13)
}

func TestCheckValidCancelled(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.dcm")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSeriesReader(&fakeExtractor{}, &fakeDecoder{}, Options{}).CheckValid(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSeriesInvoke(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.dcm", "b.dcm")
	ex := &fakeExtractor{slices: map[string]dicom.SliceMetadata{
		"a.dcm": slice("1.2", "3.4", 1),
		"b.dcm": slice("1.2", "3.4", 0),
	}}
	dec := &fakeDecoder{}
	r := NewSeriesReader(ex, dec, DefaultOptions())

	res, err := r.Invoke(context.Background(), dir, InvokeOptions{Normalization: &normalize.Options{Kind: normalize.MinMax}})
	require.NoError(t, err)

	assert.Equal(t, "1.2", res.StudyID)
	assert.Equal(t, "3.4", res.SeriesID)
	assert.Equal(t, []string{filepath.Join(dir, "b.dcm"), filepath.Join(dir, "a.dcm")}, res.Paths)
	assert.Equal(t, []int{2, 2, 2}, res.Volume.Shape)
	assert.Equal(t, 0.0, res.Volume.Data[0])
	assert.Equal(t, 1.0, res.Volume.Data[7])
	require.NotNil(t, res.Resampled)
	assert.Equal(t, 7.0, res.Resampled.Data[7], "resampled copy is not normalized")

	fields := res.Fields()
	for _, key := range []string{"data_array", "spacing", "origin", "direction", "affine", "study_id", "series_id", "resampled_array"} {
		assert.Contains(t, fields, key)
	}
}

func TestSeriesInvokeRejectedDirectory(t *testing.T) {
	_, err := NewSeriesReader(&fakeExtractor{}, &fakeDecoder{}, Options{}).Invoke(context.Background(), t.TempDir(), InvokeOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidSeries))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, NoSeriesFound, verr.Reason)
}

func TestSeriesRead(t *testing.T) {
	r := NewSeriesReader(&fakeExtractor{}, &fakeDecoder{}, Options{})
	_, err := r.Read(context.Background(), nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	r = NewSeriesReader(&fakeExtractor{}, &fakeDecoder{err: fmt.Errorf("rows differ")}, Options{})
	_, err = r.Read(context.Background(), []string{"a.dcm"})
	assert.True(t, errors.Is(err, errors.ErrReconstruction))
	assert.Contains(t, err.Error(), "rows differ")
}

func TestBogusKindRejectedBeforeDecoding(t *testing.T) {
	bogus := &normalize.Options{Kind: "bogus"}
	dir := t.TempDir()
	touch(t, dir, "a.dcm", "brain.nii")

	dec := &fakeDecoder{}
	ex := &fakeExtractor{slices: map[string]dicom.SliceMetadata{"a.dcm": slice("s", "x", 0)}}

	_, err := NewDicomReader(dec, Options{}).Invoke(context.Background(), filepath.Join(dir, "a.dcm"), InvokeOptions{Normalization: bogus})
	assert.True(t, errors.Is(err, errors.ErrInvalidNormalizationKind), "dicom: %v", err)

	_, err = NewNiftiReader(dec, Options{}).Invoke(context.Background(), filepath.Join(dir, "brain.nii"), InvokeOptions{Normalization: bogus})
	assert.True(t, errors.Is(err, errors.ErrInvalidNormalizationKind), "nifti: %v", err)

	_, err = NewSeriesReader(ex, dec, Options{}).Invoke(context.Background(), dir, InvokeOptions{Normalization: bogus})
	assert.True(t, errors.Is(err, errors.ErrInvalidNormalizationKind), "series: %v", err)

	assert.Zero(t, dec.calls.Load(), "nothing should be decoded")
}

func TestFileReaderInvoke(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "brain.nii.gz", "scan.dcm", "notes.txt")

	t.Run("nifti check by suffix", func(t *testing.T) {
		r := NewNiftiReader(&fakeDecoder{}, Options{})
		ok, err := r.CheckValid(filepath.Join(dir, "BRAIN.NII.GZ"))
		require.NoError(t, err)
		assert.True(t, ok)
		ok, _ = r.CheckValid(filepath.Join(dir, "scan.dcm"))
		assert.False(t, ok)
	})

	t.Run("invalid path with check", func(t *testing.T) {
		dec := &fakeDecoder{}
		_, err := NewNiftiReader(dec, Options{}).Invoke(context.Background(), filepath.Join(dir, "notes.txt"), InvokeOptions{Check: true})
		assert.True(t, errors.Is(err, errors.ErrInvalidPath))

		_, err = NewDicomReader(dec, Options{}).Invoke(context.Background(), filepath.Join(dir, "notes.txt"), InvokeOptions{Check: true})
		assert.True(t, errors.Is(err, errors.ErrInvalidPath))
		assert.Zero(t, dec.calls.Load())
	})

	t.Run("without check any path is read", func(t *testing.T) {
		res, err := NewNiftiReader(&fakeDecoder{}, Options{}).Invoke(context.Background(), filepath.Join(dir, "notes.txt"), InvokeOptions{})
		require.NoError(t, err)
		assert.Equal(t, FormatNIfTI, res.Format)
		assert.Nil(t, res.Resampled, "resampling is off in zero options")
	})

	t.Run("normalized and resampled", func(t *testing.T) {
		res, err := NewDicomReader(&fakeDecoder{}, DefaultOptions()).Invoke(context.Background(), filepath.Join(dir, "scan.dcm"), InvokeOptions{
			Check:         true,
			Normalization: &normalize.Options{Kind: normalize.MinMax},
		})
		require.NoError(t, err)
		assert.Equal(t, []float64{0, 0.125, 0.25, 0.375, 0.5, 0.625, 0.75, 0.875, 1}, res.Volume.Data)
		require.NotNil(t, res.Resampled)
		assert.Equal(t, []int{1, 3, 3}, res.Resampled.Shape)

		// Identity LPS geometry is diag(-1, -1, 1) in RAS.
		assert.Equal(t, -1.0, res.Affine.At(0, 0))
		assert.Equal(t, -1.0, res.Affine.At(1, 1))
		assert.Equal(t, 1.0, res.Affine.At(2, 2))

		fields := res.Fields()
		assert.Equal(t, filepath.Join(dir, "scan.dcm"), fields["original_path"])
		assert.Contains(t, fields, "resampled_array")
	})

	t.Run("decode failure", func(t *testing.T) {
		_, err := NewDicomReader(&fakeDecoder{err: fmt.Errorf("boom")}, Options{}).Read(context.Background(), "x.dcm")
		assert.True(t, errors.Is(err, errors.ErrDecode))
		assert.Contains(t, err.Error(), "boom")
	})

	t.Run("four dimensional volumes skip resampling", func(t *testing.T) {
		res, err := NewNiftiReader(&fakeDecoder{shape: []int{2, 1, 2, 2}}, DefaultOptions()).Read(context.Background(), "bold.nii")
		require.NoError(t, err)
		assert.Nil(t, res.Resampled)
	})
}

func TestDicomCheckValidEmptyPath(t *testing.T) {
	_, err := NewDicomReader(&fakeDecoder{}, Options{}).CheckValid("")
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

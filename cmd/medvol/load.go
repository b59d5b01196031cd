package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/mrsinham/medvol/internal/classify"
	"github.com/mrsinham/medvol/internal/dicom"
	"github.com/mrsinham/medvol/internal/nifti"
	"github.com/mrsinham/medvol/internal/normalize"
	"github.com/mrsinham/medvol/internal/preview"
	"github.com/mrsinham/medvol/internal/reader"
	"github.com/mrsinham/medvol/internal/volume"
)

// record is a loaded result, whichever reader produced it.
type record struct {
	fields map[string]any
	volume *volume.Volume
}

// load picks a reader from the path: directories are series, NIfTI suffixes
// go to the NIfTI reader and everything else is read as DICOM.
func load(ctx context.Context, path string, opts reader.Options, check bool, norm *normalize.Options) (*record, error) {
	invoke := reader.InvokeOptions{Check: check, Normalization: norm}

	info, err := os.Stat(path)
	if err == nil && info.IsDir() {
		backend := dicom.NewBackend(opts.Logger)
		res, err := reader.NewSeriesReader(backend, backend, opts).Invoke(ctx, path, invoke)
		if err != nil {
			return nil, err
		}
		return &record{fields: res.Fields(), volume: res.Volume}, nil
	}

	var r interface {
		Invoke(context.Context, string, reader.InvokeOptions) (*reader.SingleFileResult, error)
	}
	if classify.NIfTI.HasSuffix(path) {
		r = reader.NewNiftiReader(nifti.NewBackend(opts.Logger), opts)
	} else {
		r = reader.NewDicomReader(dicom.NewBackend(opts.Logger), opts)
	}
	res, err := r.Invoke(ctx, path, invoke)
	if err != nil {
		return nil, err
	}
	return &record{fields: res.Fields(), volume: res.Volume}, nil
}

// summary returns the record without voxel arrays, plus value statistics.
func (r *record) summary() map[string]any {
	out := make(map[string]any, len(r.fields)+1)
	for k, v := range r.fields {
		switch k {
		case "data_array", "resampled_array":
			continue
		}
		out[k] = v
	}
	stats := r.volume.Summary()
	out["stats"] = map[string]any{
		"min":   finite(stats.Min),
		"max":   finite(stats.Max),
		"mean":  finite(stats.Mean),
		"count": stats.Count,
	}
	return out
}

// finite maps NaN, which JSON cannot encode, to null.
func finite(x float64) any {
	if math.IsNaN(x) {
		return nil
	}
	return x
}

func (r *record) printJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r.summary()); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return nil
}

func (r *record) printSummary(w io.Writer) {
	f := r.fields
	stats := r.volume.Summary()

	fmt.Fprintf(w, "Format:     %v\n", f["format"])
	if p, ok := f["original_path"]; ok {
		fmt.Fprintf(w, "Path:       %v\n", p)
	}
	if study, ok := f["study_id"]; ok {
		fmt.Fprintf(w, "Study:      %v\n", study)
		fmt.Fprintf(w, "Series:     %v\n", f["series_id"])
		fmt.Fprintf(w, "Slices:     %d\n", len(f["paths"].([]string)))
	}
	if dropped, ok := f["dropped"].([]string); ok {
		fmt.Fprintf(w, "Dropped:    %d duplicate slice(s)\n", len(dropped))
	}
	fmt.Fprintf(w, "Shape:      %v\n", r.volume.Shape)
	fmt.Fprintf(w, "Spacing:    %v\n", r.volume.Spacing)
	fmt.Fprintf(w, "Origin:     %v\n", r.volume.Origin)
	fmt.Fprintf(w, "Values:     min=%g max=%g mean=%g\n", stats.Min, stats.Max, stats.Mean)
	if shape, ok := f["resampled_shape"]; ok {
		fmt.Fprintf(w, "Resampled:  %v\n", shape)
	}
}

func (r *record) writePreview(path string) error {
	return preview.WritePNG(path, r.volume, preview.DefaultOptions())
}

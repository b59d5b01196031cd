package reader

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/mrsinham/medvol/internal/classify"
	"github.com/mrsinham/medvol/internal/dicom"
	"github.com/mrsinham/medvol/internal/errors"
	"github.com/mrsinham/medvol/internal/volume"
)

// SeriesKey identifies a series by its study and series instance UIDs.
type SeriesKey struct {
	StudyUID  string
	SeriesUID string
}

// String returns the grouping key "{study}-{series}".
func (k SeriesKey) String() string {
	return k.StudyUID + "-" + k.SeriesUID
}

// Reason tells why a directory was rejected.
type Reason int

const (
	NotADirectory Reason = iota + 1
	NoSeriesFound
	MultipleSeriesFound
	DuplicatePosition
)

// String returns the reason name.
func (r Reason) String() string {
	switch r {
	case NotADirectory:
		return "NotADirectory"
	case NoSeriesFound:
		return "NoSeriesFound"
	case MultipleSeriesFound:
		return "MultipleSeriesFound"
	case DuplicatePosition:
		return "DuplicatePosition"
	default:
		return "Unknown"
	}
}

// ValidationError is the structured outcome of a rejected series directory.
type ValidationError struct {
	Reason Reason
	Dir    string
	Keys   []string // series keys found, for MultipleSeriesFound
	Paths  []string // colliding files, for DuplicatePosition
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case NotADirectory:
		return fmt.Sprintf("%s is not a directory", e.Dir)
	case NoSeriesFound:
		return fmt.Sprintf("no DICOM series found in %s", e.Dir)
	case MultipleSeriesFound:
		return fmt.Sprintf("%d DICOM series found in %s: %s", len(e.Keys), e.Dir, strings.Join(e.Keys, ", "))
	case DuplicatePosition:
		return fmt.Sprintf("slices share a position in %s: %s", e.Dir, strings.Join(e.Paths, ", "))
	default:
		return fmt.Sprintf("invalid series directory %s", e.Dir)
	}
}

// ValidSeries is an accepted directory: one series with its slices sorted by z.
type ValidSeries struct {
	Key       SeriesKey
	Paths     []string
	Positions []float64
	Dropped   []string
}

// SeriesReader assembles a DICOM series from a directory tree.
type SeriesReader struct {
	extractor MetadataExtractor
	decoder   SeriesDecoder
	opts      Options
}

// NewSeriesReader returns a reader using extractor to group slices and
// decoder to reconstruct them.
func NewSeriesReader(extractor MetadataExtractor, decoder SeriesDecoder, opts Options) *SeriesReader {
	return &SeriesReader{extractor: extractor, decoder: decoder, opts: opts.withDefaults()}
}

// extraction is the metadata of one enumerated file.
type extraction struct {
	index int
	md    dicom.SliceMetadata
	err   error
}

// group collects the slices of one series key.
type group struct {
	key    SeriesKey
	slices map[float64]string
}

// CheckValid scans dir recursively and accepts it when the DICOM files it
// holds form exactly one series. Two files at the same position keep the one
// enumerated last, unless strict duplicates are enabled.
func (r *SeriesReader) CheckValid(ctx context.Context, dir string) (*ValidSeries, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, r.reject(&ValidationError{Reason: NotADirectory, Dir: dir})
	}

	files, err := r.enumerate(ctx, dir)
	if err != nil {
		return nil, err
	}
	extracted, err := r.extractAll(ctx, files)
	if err != nil {
		return nil, err
	}

	groups := make(map[string]*group)
	var order []string
	var dropped []string
	for i, md := range extracted {
		key := SeriesKey{StudyUID: md.StudyUID, SeriesUID: md.SeriesUID}
		g, ok := groups[key.String()]
		if !ok {
			g = &group{key: key, slices: make(map[float64]string)}
			groups[key.String()] = g
			order = append(order, key.String())
		}
		if previous, ok := g.slices[md.Z]; ok {
			if r.opts.StrictDuplicates {
				return nil, r.reject(&ValidationError{Reason: DuplicatePosition, Dir: dir, Keys: []string{key.String()}, Paths: []string{previous, files[i]}})
			}
			r.opts.Logger.WithFields(log.Fields{
				"dir":     dir,
				"key":     key.String(),
				"z":       md.Z,
				"kept":    files[i],
				"dropped": previous,
			}).Warn("duplicate slice position")
			dropped = append(dropped, previous)
		}
		g.slices[md.Z] = files[i]
	}

	switch len(groups) {
	case 0:
		return nil, r.reject(&ValidationError{Reason: NoSeriesFound, Dir: dir})
	case 1:
	default:
		sort.Strings(order)
		return nil, r.reject(&ValidationError{Reason: MultipleSeriesFound, Dir: dir, Keys: order})
	}

	g := groups[order[0]]
	vs := &ValidSeries{Key: g.key, Dropped: dropped}
	for z := range g.slices {
		vs.Positions = append(vs.Positions, z)
	}
	sort.Float64s(vs.Positions)
	for _, z := range vs.Positions {
		vs.Paths = append(vs.Paths, g.slices[z])
	}

	r.opts.Logger.WithFields(log.Fields{
		"dir":     dir,
		"key":     g.key.String(),
		"slices":  len(vs.Paths),
		"dropped": len(dropped),
	}).Debug("series directory accepted")
	return vs, nil
}

func (r *SeriesReader) reject(e *ValidationError) error {
	fields := log.Fields{"dir": e.Dir, "reason": e.Reason.String()}
	if len(e.Keys) > 0 {
		fields["keys"] = e.Keys
	}
	r.opts.Logger.WithFields(fields).Error("series directory rejected")
	return e
}

// enumerate lists the DICOM files under dir in lexical walk order.
func (r *SeriesReader) enumerate(ctx context.Context, dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		guess, err := r.opts.Classifier.Classify(path)
		if err != nil {
			return fmt.Errorf("classify %s: %w", path, err)
		}
		if guess.Matches(classify.DICOM, r.opts.MinConfidence) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// extractAll reads the metadata of files with a bounded worker pool. Results
// keep the input order; the first failure in that order is returned.
func (r *SeriesReader) extractAll(ctx context.Context, files []string) ([]dicom.SliceMetadata, error) {
	if len(files) == 0 {
		return nil, nil
	}
	numWorkers := min(r.opts.Workers, len(files))

	taskChan := make(chan int, len(files))
	resultChan := make(chan extraction, len(files))

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range taskChan {
				if err := ctx.Err(); err != nil {
					resultChan <- extraction{index: i, err: err}
					continue
				}
				md, err := r.extractor.ExtractMetadata(files[i])
				resultChan <- extraction{index: i, md: md, err: err}
			}
		}()
	}

	for i := range files {
		taskChan <- i
	}
	close(taskChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	out := make([]dicom.SliceMetadata, len(files))
	errs := make([]error, len(files))
	for result := range resultChan {
		out[result.index] = result.md
		errs[result.index] = result.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Read reconstructs the ordered slices into a series result.
func (r *SeriesReader) Read(ctx context.Context, paths []string) (*SeriesResult, error) {
	if len(paths) == 0 {
		return nil, errors.InvalidInput("no slices to read")
	}

	v, err := r.decoder.DecodeSeries(ctx, paths)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, errors.ErrReconstruction) || errors.Is(err, errors.ErrInvalidInput) {
			return nil, err
		}
		return nil, errors.Reconstructionf("reconstruct series of %d slices", len(paths)).WithCause(err)
	}

	md, err := r.extractor.ExtractMetadata(paths[0])
	if err != nil {
		return nil, err
	}

	res := &SeriesResult{
		Volume:   v,
		Affine:   volume.Affine(v, true),
		StudyID:  md.StudyUID,
		SeriesID: md.SeriesUID,
		Paths:    append([]string(nil), paths...),
	}
	if res.Resampled, err = resample(ctx, r.opts, v); err != nil {
		return nil, err
	}
	return res, nil
}

// Invoke checks dir, reads the series and optionally normalizes it. A
// rejected directory fails with an INVALID_SERIES error.
func (r *SeriesReader) Invoke(ctx context.Context, dir string, opts InvokeOptions) (*SeriesResult, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	vs, err := r.CheckValid(ctx, dir)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return nil, errors.InvalidSeriesf("invalid DICOM series directory %s", dir).
				WithCause(err).
				WithDetails(map[string]any{"reason": verr.Reason.String(), "keys": verr.Keys})
		}
		return nil, err
	}

	res, err := r.Read(ctx, vs.Paths)
	if err != nil {
		return nil, err
	}
	res.Dropped = vs.Dropped
	if err := normalizeInPlace(res.Volume, opts.Normalization); err != nil {
		return nil, err
	}
	return res, nil
}

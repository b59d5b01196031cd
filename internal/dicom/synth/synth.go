// Package synth writes synthetic single-series DICOM directories.
package synth

import (
	"fmt"
	"hash/fnv"
	"math"
	randv2 "math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrsinham/medvol/internal/dicom/synth/modalities"
	"github.com/mrsinham/medvol/internal/logger"
)

// Pattern selects the pixel content of generated slices.
type Pattern string

const (
	// Phantom is a radial gradient with deterministic noise.
	Phantom Pattern = "phantom"
	// Ramp stores RampOffset + slice*RampStep + y*cols + x, so every voxel is predictable.
	Ramp Pattern = "ramp"
)

// DefaultFilePattern names slices IM000001.dcm, IM000002.dcm, ...
const DefaultFilePattern = "IM%06d.dcm"

// Axial is the identity image orientation.
var Axial = []float64{1, 0, 0, 0, 1, 0}

// Options configures a synthetic series.
type Options struct {
	OutputDir string
	NumImages int
	Rows      int
	Cols      int
	Modality  modalities.Modality
	Seed      uint64
	Workers   int // number of parallel writers (0 = number of CPUs)

	StudyUID  string // derived from the seed when empty
	SeriesUID string // derived from the seed when empty

	Origin       []float64 // first slice position, default (0, 0, 0)
	Orientation  []float64 // row and column cosines, default Axial
	PixelSpacing float64   // in-plane spacing, 0 = drawn from the modality
	SliceSpacing float64   // distance between slices, 0 = drawn from the modality
	Positions    []float64 // explicit offsets along the normal, one per slice

	FilePattern string // fmt pattern taking the 1-based instance number
	Pattern     Pattern
	RampOffset  float64
	RampStep    float64 // default 100
	Overlay     bool    // burn the slice number into phantom slices
	Vendor      Vendor  // manufacturer private elements, none by default

	// OmitTags drops elements from every slice, to produce incomplete files.
	OmitTags []tag.Tag

	Logger log.FieldLogger
}

// GeneratedFile describes a written slice.
type GeneratedFile struct {
	Path           string
	StudyUID       string
	SeriesUID      string
	SOPInstanceUID string
	InstanceNumber int
	Position       []float64
}

// sliceTask contains everything needed to write one slice.
type sliceTask struct {
	index     int
	filePath  string
	pixelSeed uint64
	position  []float64
	metadata  []*dicom.Element
	sopUID    string
}

// series holds values shared by all slices.
type series struct {
	opts   Options
	gen    modalities.Generator
	acq    modalities.Acquisition
	pixels modalities.PixelFormat
}

// GenerateDeterministicUID returns a "2.25." UID derived from seed.
func GenerateDeterministicUID(seed string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(seed))
	return "2.25." + strconv.FormatUint(h.Sum64(), 10)
}

func (o *Options) applyDefaults() error {
	if o.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}
	if o.NumImages <= 0 {
		return fmt.Errorf("number of images must be positive, got %d", o.NumImages)
	}
	if o.Rows <= 0 || o.Cols <= 0 {
		return fmt.Errorf("image size must be positive, got %dx%d", o.Rows, o.Cols)
	}
	if o.Positions != nil && len(o.Positions) != o.NumImages {
		return fmt.Errorf("got %d positions for %d images", len(o.Positions), o.NumImages)
	}
	if o.Modality == "" {
		o.Modality = modalities.MR
	}
	if o.Origin == nil {
		o.Origin = []float64{0, 0, 0}
	}
	if len(o.Origin) != 3 {
		return fmt.Errorf("origin must have 3 components, got %d", len(o.Origin))
	}
	if o.Orientation == nil {
		o.Orientation = Axial
	}
	if len(o.Orientation) != 6 {
		return fmt.Errorf("orientation must have 6 components, got %d", len(o.Orientation))
	}
	if o.FilePattern == "" {
		o.FilePattern = DefaultFilePattern
	}
	if o.Pattern == "" {
		o.Pattern = Phantom
	}
	if o.RampStep == 0 {
		o.RampStep = 100
	}
	if o.StudyUID == "" {
		o.StudyUID = GenerateDeterministicUID(fmt.Sprintf("%d_study", o.Seed))
	}
	if o.SeriesUID == "" {
		o.SeriesUID = GenerateDeterministicUID(fmt.Sprintf("%d_series", o.Seed))
	}
	o.Logger = logger.OrDiscard(o.Logger)
	return nil
}

// GenerateSeries writes a single series of slices into OutputDir and
// returns the written files ordered by instance number.
func GenerateSeries(opts Options) ([]GeneratedFile, error) {
	if err := opts.applyDefaults(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	rng := randv2.New(randv2.NewPCG(opts.Seed, opts.Seed))
	gen := modalities.GetGenerator(opts.Modality)
	scanners := gen.Scanners()
	acq := gen.Acquisition(scanners[rng.IntN(len(scanners))], rng)
	if opts.PixelSpacing > 0 {
		acq.PixelSpacing = opts.PixelSpacing
	}
	if opts.SliceSpacing > 0 {
		acq.SliceSpacing = opts.SliceSpacing
		acq.SliceThickness = opts.SliceSpacing
	}
	s := &series{opts: opts, gen: gen, acq: acq, pixels: gen.Pixels()}

	// Phase 1: prepare tasks sequentially so metadata is deterministic.
	tasks := make([]sliceTask, opts.NumImages)
	normal := cross(opts.Orientation[:3], opts.Orientation[3:6])
	for i := range tasks {
		offset := float64(i) * acq.SliceSpacing
		if opts.Positions != nil {
			offset = opts.Positions[i]
		}
		position := make([]float64, 3)
		for k := range position {
			position[k] = opts.Origin[k] + offset*normal[k]
		}

		pixelSeedHash := fnv.New64a()
		_, _ = fmt.Fprintf(pixelSeedHash, "%d_pixel_%d", opts.Seed, i)

		sopUID := GenerateDeterministicUID(fmt.Sprintf("%s_%d", opts.SeriesUID, i+1))
		tasks[i] = sliceTask{
			index:     i,
			filePath:  filepath.Join(opts.OutputDir, fmt.Sprintf(opts.FilePattern, i+1)),
			pixelSeed: pixelSeedHash.Sum64(),
			position:  position,
			sopUID:    sopUID,
			metadata:  s.metadata(i, position, sopUID),
		}
	}

	// Phase 2: write slices in parallel.
	numWorkers := opts.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if numWorkers > len(tasks) {
		numWorkers = len(tasks)
	}
	opts.Logger.WithFields(log.Fields{
		"dir":      opts.OutputDir,
		"images":   len(tasks),
		"modality": opts.Modality,
		"workers":  numWorkers,
	}).Debug("writing synthetic series")

	taskChan := make(chan sliceTask, len(tasks))
	resultChan := make(chan struct {
		index int
		err   error
	}, len(tasks))

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskChan {
				err := s.write(task)
				resultChan <- struct {
					index int
					err   error
				}{task.index, err}
			}
		}()
	}

	for _, task := range tasks {
		taskChan <- task
	}
	close(taskChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	var firstErr error
	for result := range resultChan {
		if result.err != nil && firstErr == nil {
			firstErr = fmt.Errorf("generate image %d: %w", result.index+1, result.err)
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}

	files := make([]GeneratedFile, len(tasks))
	for i, task := range tasks {
		files[i] = GeneratedFile{
			Path:           task.filePath,
			StudyUID:       opts.StudyUID,
			SeriesUID:      opts.SeriesUID,
			SOPInstanceUID: task.sopUID,
			InstanceNumber: i + 1,
			Position:       task.position,
		}
	}
	return files, nil
}

// metadata builds the non-pixel elements of slice i.
func (s *series) metadata(i int, position []float64, sopUID string) []*dicom.Element {
	o, acq, px := s.opts, s.acq, s.pixels
	elements := []*dicom.Element{
		mustNewElement(tag.MediaStorageSOPClassUID, []string{s.gen.SOPClassUID()}),
		mustNewElement(tag.MediaStorageSOPInstanceUID, []string{sopUID}),
		mustNewElement(tag.TransferSyntaxUID, []string{"1.2.840.10008.1.2.1"}),
		mustNewElement(tag.PatientName, []string{"SYNTHETIC^PHANTOM"}),
		mustNewElement(tag.PatientID, []string{"SYN" + strconv.FormatUint(o.Seed, 10)}),
		mustNewElement(tag.StudyInstanceUID, []string{o.StudyUID}),
		mustNewElement(tag.SeriesInstanceUID, []string{o.SeriesUID}),
		mustNewElement(tag.SeriesNumber, []string{"1"}),
		mustNewElement(tag.Modality, []string{string(o.Modality)}),
		mustNewElement(tag.SOPInstanceUID, []string{sopUID}),
		mustNewElement(tag.SOPClassUID, []string{s.gen.SOPClassUID()}),
		mustNewElement(tag.InstanceNumber, []string{strconv.Itoa(i + 1)}),
		mustNewElement(tag.Manufacturer, []string{acq.Scanner.Manufacturer}),
		mustNewElement(tag.ManufacturerModelName, []string{acq.Scanner.Model}),
		mustNewElement(tag.PixelSpacing, []string{ds(acq.PixelSpacing), ds(acq.PixelSpacing)}),
		mustNewElement(tag.SliceThickness, []string{ds(acq.SliceThickness)}),
		mustNewElement(tag.SpacingBetweenSlices, []string{ds(acq.SliceSpacing)}),
		mustNewElement(tag.ImagePositionPatient, dsList(position)),
		mustNewElement(tag.ImageOrientationPatient, dsList(o.Orientation)),
		mustNewElement(tag.SliceLocation, []string{ds(position[2])}),
		mustNewElement(tag.WindowCenter, []string{ds(acq.WindowCenter)}),
		mustNewElement(tag.WindowWidth, []string{ds(acq.WindowWidth)}),
		mustNewElement(tag.RescaleIntercept, []string{ds(acq.RescaleIntercept)}),
		mustNewElement(tag.RescaleSlope, []string{ds(acq.RescaleSlope)}),
		mustNewElement(tag.Rows, []int{o.Rows}),
		mustNewElement(tag.Columns, []int{o.Cols}),
		mustNewElement(tag.BitsAllocated, []int{px.BitsAllocated}),
		mustNewElement(tag.BitsStored, []int{px.BitsStored}),
		mustNewElement(tag.HighBit, []int{px.HighBit}),
		mustNewElement(tag.PixelRepresentation, []int{px.Representation()}),
		mustNewElement(tag.SamplesPerPixel, []int{1}),
		mustNewElement(tag.PhotometricInterpretation, []string{"MONOCHROME2"}),
	}
	elements = append(elements, s.gen.Elements(acq)...)
	if o.Vendor != NoVendor {
		rng := randv2.New(randv2.NewPCG(o.Seed, uint64(i)))
		elements = append(elements, privateElements(o.Vendor, rng)...)
	}

	if len(o.OmitTags) > 0 {
		kept := elements[:0]
		for _, e := range elements {
			if !containsTag(o.OmitTags, e.Tag) {
				kept = append(kept, e)
			}
		}
		elements = kept
	}
	return elements
}

// write renders the pixels of a task and writes the file.
func (s *series) write(task sliceTask) error {
	o := s.opts
	nativeFrame := frame.NewNativeFrame[uint16](16, o.Rows, o.Cols, o.Rows*o.Cols, 1)

	switch o.Pattern {
	case Ramp:
		for y := 0; y < o.Rows; y++ {
			for x := 0; x < o.Cols; x++ {
				v := RampValue(o, task.index, y, x)
				nativeFrame.RawData[y*o.Cols+x] = s.pixels.Encode(v, s.acq.RescaleSlope, s.acq.RescaleIntercept)
			}
		}
	default:
		s.phantom(nativeFrame.RawData, task.pixelSeed)
		if o.Overlay {
			drawText(nativeFrame.RawData, o.Cols, o.Rows, strconv.Itoa(task.index+1))
		}
	}

	pixelDataInfo := dicom.PixelDataInfo{
		Frames: []*frame.Frame{
			{
				Encapsulated: false,
				NativeData:   nativeFrame,
			},
		},
	}

	elements := append(append([]*dicom.Element(nil), task.metadata...), mustNewElement(tag.PixelData, pixelDataInfo))
	sort.SliceStable(elements, func(i, j int) bool {
		if elements[i].Tag.Group != elements[j].Tag.Group {
			return elements[i].Tag.Group < elements[j].Tag.Group
		}
		return elements[i].Tag.Element < elements[j].Tag.Element
	})

	if err := writeDatasetToFile(task.filePath, dicom.Dataset{Elements: elements}); err != nil {
		return fmt.Errorf("write %s: %w", task.filePath, err)
	}
	return nil
}

// RampValue returns the rescaled value a Ramp series stores at (slice, y, x).
func RampValue(o Options, slice, y, x int) float64 {
	step := o.RampStep
	if step == 0 {
		step = 100
	}
	return o.RampOffset + float64(slice)*step + float64(y*o.Cols+x)
}

// phantom fills raw with a radial gradient plus noise drawn from seed.
func (s *series) phantom(raw []uint16, seed uint64) {
	o, px := s.opts, s.pixels
	rng := randv2.New(randv2.NewPCG(seed, seed))

	valueRange := px.MaxValue - px.MinValue
	centerX, centerY := float64(o.Cols)/2, float64(o.Rows)/2
	maxDist := math.Sqrt(centerX*centerX + centerY*centerY)

	for y := 0; y < o.Rows; y++ {
		for x := 0; x < o.Cols; x++ {
			dx := float64(x) - centerX
			dy := float64(y) - centerY
			normalizedDist := math.Sqrt(dx*dx+dy*dy) / maxDist

			intensity := px.BaseValue + (1.0-normalizedDist)*valueRange*0.3
			intensity += (rng.Float64() - 0.5) * valueRange * 0.15
			intensity = math.Max(px.MinValue, math.Min(px.MaxValue, intensity))
			raw[y*o.Cols+x] = px.Encode(intensity, s.acq.RescaleSlope, s.acq.RescaleIntercept)
		}
	}
}

// writeDatasetToFile writes a DICOM dataset to a file
func writeDatasetToFile(filename string, ds dicom.Dataset, opts ...dicom.WriteOption) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return dicom.Write(f, ds, opts...)
}

func mustNewElement(t tag.Tag, value any) *dicom.Element {
	elem, err := dicom.NewElement(t, value)
	if err != nil {
		panic(fmt.Sprintf("new element %s: %v", t, err))
	}
	return elem
}

func ds(f float64) string {
	return strconv.FormatFloat(f, 'g', 10, 64)
}

func dsList(values []float64) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = ds(v)
	}
	return out
}

func containsTag(tags []tag.Tag, t tag.Tag) bool {
	for _, candidate := range tags {
		if candidate == t {
			return true
		}
	}
	return false
}

func cross(a, b []float64) []float64 {
	return []float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

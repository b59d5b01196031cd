package dicom

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrsinham/medvol/internal/errors"
	"github.com/mrsinham/medvol/internal/volume"
)

var defaultOrientation = []float64{1, 0, 0, 0, 1, 0}

// image is a decoded file: rescaled frames plus the geometry tags.
type image struct {
	path        string
	rows, cols  int
	frames      [][]float64
	rowSpacing  float64
	colSpacing  float64
	sliceGap    float64
	position    []float64
	orientation []float64
}

// normal returns the cross product of the row and column cosines.
func (im *image) normal() []float64 {
	r, c := im.orientation[:3], im.orientation[3:6]
	return []float64{
		r[1]*c[2] - r[2]*c[1],
		r[2]*c[0] - r[0]*c[2],
		r[0]*c[1] - r[1]*c[0],
	}
}

// sameGeometry reports whether two images can be stacked.
func (im *image) sameGeometry(other *image) error {
	if im.rows != other.rows || im.cols != other.cols {
		return fmt.Errorf("size %dx%d differs from %dx%d", other.rows, other.cols, im.rows, im.cols)
	}
	if math.Abs(im.rowSpacing-other.rowSpacing) > geometryTolerance || math.Abs(im.colSpacing-other.colSpacing) > geometryTolerance {
		return fmt.Errorf("pixel spacing %g\\%g differs from %g\\%g", other.rowSpacing, other.colSpacing, im.rowSpacing, im.colSpacing)
	}
	for i := range im.orientation {
		if math.Abs(im.orientation[i]-other.orientation[i]) > geometryTolerance {
			return fmt.Errorf("orientation %v differs from %v", other.orientation, im.orientation)
		}
	}
	return nil
}

// DecodeFile decodes every frame of a single file into a [frames, rows, cols] volume.
func (b *Backend) DecodeFile(ctx context.Context, path string) (*volume.Volume, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	im, err := decodeImage(path)
	if err != nil {
		return nil, errors.Decodef("decode %s", path).WithCause(err)
	}

	v := volume.New(len(im.frames), im.rows, im.cols)
	for i, fr := range im.frames {
		copy(v.Data[i*im.rows*im.cols:], fr)
	}
	setGeometry(v, im, im.normal(), im.sliceGap)

	b.logger.WithFields(log.Fields{
		"path":     path,
		"shape":    v.Shape,
		"duration": time.Since(start),
	}).Debug("decoded file")
	return v, nil
}

// DecodeSeries stacks single-frame files in the given order into a [slices, rows, cols] volume.
// Every file must share size, pixel spacing and orientation.
func (b *Backend) DecodeSeries(ctx context.Context, paths []string) (*volume.Volume, error) {
	if len(paths) == 0 {
		return nil, errors.InvalidInput("no slices to reconstruct")
	}
	start := time.Now()

	images := make([]*image, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		im, err := decodeImage(path)
		if err != nil {
			return nil, errors.Reconstructionf("decode slice %s", path).WithCause(err)
		}
		if len(im.frames) != 1 {
			return nil, errors.Reconstructionf("slice %s has %d frames, want 1", path, len(im.frames))
		}
		if len(images) > 0 {
			if err := images[0].sameGeometry(im); err != nil {
				return nil, errors.Reconstructionf("slice %s does not match %s", path, images[0].path).WithCause(err)
			}
		}
		images = append(images, im)
	}

	first := images[0]
	normal := first.normal()
	gap := first.sliceGap
	if len(images) > 1 {
		d := projectedDistance(first.position, images[1].position, normal)
		if d < 0 {
			for i := range normal {
				normal[i] = -normal[i]
			}
			d = -d
		}
		if d < geometryTolerance {
			return nil, errors.Reconstructionf("slices %s and %s share the same position", first.path, images[1].path)
		}
		gap = d
		b.checkUniformSpacing(images, normal, gap)
	}

	plane := first.rows * first.cols
	v := volume.New(len(images), first.rows, first.cols)
	for i, im := range images {
		copy(v.Data[i*plane:], im.frames[0])
	}
	setGeometry(v, first, normal, gap)

	b.logger.WithFields(log.Fields{
		"slices":   len(images),
		"shape":    v.Shape,
		"spacing":  v.Spacing,
		"duration": time.Since(start),
	}).Debug("reconstructed series")
	return v, nil
}

func (b *Backend) checkUniformSpacing(images []*image, normal []float64, gap float64) {
	for i := 2; i < len(images); i++ {
		d := projectedDistance(images[i-1].position, images[i].position, normal)
		if math.Abs(d-gap) > spacingTolerance*math.Max(1, gap) {
			b.logger.WithFields(log.Fields{
				"expected": gap,
				"found":    d,
				"slice":    images[i].path,
			}).Warn("non-uniform slice spacing")
			return
		}
	}
}

func projectedDistance(from, to, normal []float64) float64 {
	var d float64
	for i := range normal {
		d += (to[i] - from[i]) * normal[i]
	}
	return d
}

// setGeometry fills spacing, origin and direction of a [z, y, x] volume.
func setGeometry(v *volume.Volume, im *image, normal []float64, gap float64) {
	r, c := im.orientation[:3], im.orientation[3:6]
	v.Spacing = []float64{im.colSpacing, im.rowSpacing, gap}
	v.Origin = append([]float64(nil), im.position...)
	v.Direction = []float64{
		r[0], c[0], normal[0],
		r[1], c[1], normal[1],
		r[2], c[2], normal[2],
	}
}

// decodeImage fully parses a file and converts its native frames to float64.
func decodeImage(path string) (*image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	ds, err := dicom.Parse(f, info.Size(), nil)
	if err != nil {
		return nil, fmt.Errorf("parse dataset: %w", err)
	}

	im := &image{path: path, orientation: defaultOrientation}

	var ok bool
	if im.rows, ok = intValue(ds, tag.Rows); !ok {
		return nil, fmt.Errorf("missing %s (%s)", Rows.Name, Rows.Key())
	}
	if im.cols, ok = intValue(ds, tag.Columns); !ok {
		return nil, fmt.Errorf("missing %s (%s)", Columns.Name, Columns.Key())
	}
	if spp, ok := intValue(ds, tag.SamplesPerPixel); ok && spp != 1 {
		return nil, fmt.Errorf("%d samples per pixel not supported", spp)
	}

	im.rowSpacing, im.colSpacing = 1, 1
	if ps, ok := floatValues(ds, tag.PixelSpacing); ok && len(ps) >= 2 {
		im.rowSpacing, im.colSpacing = ps[0], ps[1]
	}
	im.sliceGap = 1
	if gap, ok := floatValues(ds, tag.SpacingBetweenSlices); ok && gap[0] > 0 {
		im.sliceGap = gap[0]
	} else if thick, ok := floatValues(ds, tag.SliceThickness); ok && thick[0] > 0 {
		im.sliceGap = thick[0]
	}
	im.position = []float64{0, 0, 0}
	if ipp, ok := floatValues(ds, tag.ImagePositionPatient); ok && len(ipp) >= 3 {
		im.position = ipp[:3]
	}
	if iop, ok := floatValues(ds, tag.ImageOrientationPatient); ok && len(iop) >= 6 {
		im.orientation = iop[:6]
	}

	slope, intercept := 1.0, 0.0
	if s, ok := floatValues(ds, tag.RescaleSlope); ok && s[0] != 0 {
		slope = s[0]
	}
	if i, ok := floatValues(ds, tag.RescaleIntercept); ok {
		intercept = i[0]
	}
	signed := false
	if pr, ok := intValue(ds, tag.PixelRepresentation); ok {
		signed = pr == 1
	}
	bitsStored, _ := intValue(ds, tag.BitsStored)

	elem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("missing pixel data: %w", err)
	}
	pixels, ok := elem.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		return nil, fmt.Errorf("unexpected pixel data value %T", elem.Value.GetValue())
	}
	if pixels.IsEncapsulated {
		return nil, fmt.Errorf("encapsulated (compressed) pixel data not supported")
	}
	if len(pixels.Frames) == 0 {
		return nil, fmt.Errorf("no frames")
	}

	plane := im.rows * im.cols
	for i, fr := range pixels.Frames {
		if fr == nil || fr.Encapsulated || fr.NativeData == nil {
			return nil, fmt.Errorf("frame %d is not native pixel data", i)
		}
		values, err := nativeValues(fr.NativeData, signed, bitsStored)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		if len(values) != plane {
			return nil, fmt.Errorf("frame %d has %d samples, want %d", i, len(values), plane)
		}
		for j := range values {
			values[j] = values[j]*slope + intercept
		}
		im.frames = append(im.frames, values)
	}
	return im, nil
}

// nativeValues converts stored samples, reinterpreting unsigned storage as
// two's complement on BitsStored bits when the pixel representation is signed.
func nativeValues(nf frame.INativeFrame, signed bool, bitsStored int) ([]float64, error) {
	switch f := nf.(type) {
	case *frame.NativeFrame[uint8]:
		return convertUnsigned(f.RawData, signed, bitsStored, 8), nil
	case *frame.NativeFrame[uint16]:
		return convertUnsigned(f.RawData, signed, bitsStored, 16), nil
	case *frame.NativeFrame[uint32]:
		return convertUnsigned(f.RawData, signed, bitsStored, 32), nil
	case *frame.NativeFrame[int8]:
		return convertSigned(f.RawData), nil
	case *frame.NativeFrame[int16]:
		return convertSigned(f.RawData), nil
	case *frame.NativeFrame[int32]:
		return convertSigned(f.RawData), nil
	default:
		return nil, fmt.Errorf("unsupported native frame %T", nf)
	}
}

func convertUnsigned[T uint8 | uint16 | uint32](raw []T, signed bool, bitsStored, bitsAllocated int) []float64 {
	if bitsStored <= 0 || bitsStored > bitsAllocated {
		bitsStored = bitsAllocated
	}
	mask := uint64(1)<<bitsStored - 1
	sign := uint64(1) << (bitsStored - 1)
	out := make([]float64, len(raw))
	for i, r := range raw {
		u := uint64(r) & mask
		if signed && u&sign != 0 {
			out[i] = float64(int64(u) - int64(mask) - 1)
			continue
		}
		out[i] = float64(u)
	}
	return out
}

func convertSigned[T int8 | int16 | int32](raw []T) []float64 {
	out := make([]float64, len(raw))
	for i, r := range raw {
		out[i] = float64(r)
	}
	return out
}

package nifti

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	log "github.com/sirupsen/logrus"

	"github.com/mrsinham/medvol/internal/errors"
	"github.com/mrsinham/medvol/internal/logger"
	"github.com/mrsinham/medvol/internal/volume"
)

// Backend decodes NIfTI-1 files, gzip-compressed or not.
type Backend struct {
	logger log.FieldLogger
}

// NewBackend returns a Backend logging to l. A nil logger discards output.
func NewBackend(l log.FieldLogger) *Backend {
	return &Backend{logger: logger.OrDiscard(l)}
}

// ReadHeader reads and validates the header of path.
func (b *Backend) ReadHeader(path string) (*Header, binary.ByteOrder, error) {
	content, err := b.readBytes(path)
	if err != nil {
		return nil, nil, err
	}
	h, order, err := ParseHeader(content)
	if err != nil {
		return nil, nil, fmt.Errorf("parse header of %s: %w", path, err)
	}
	return h, order, nil
}

// DecodeFile reads a .nii, .nii.gz or .hdr/.img image into a volume whose
// shape lists the axes slowest first ([z, y, x], or [t, z, y, x]).
func (b *Backend) DecodeFile(ctx context.Context, path string) (*volume.Volume, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	v, err := b.decode(path)
	if err != nil {
		return nil, errors.Decodef("decode %s", path).WithCause(err)
	}

	b.logger.WithFields(log.Fields{
		"path":     path,
		"shape":    v.Shape,
		"duration": time.Since(start),
	}).Debug("decoded file")
	return v, nil
}

func (b *Backend) decode(path string) (*volume.Volume, error) {
	headerPath := path
	if pair, ok := headerFor(path); ok {
		headerPath = pair
	}

	content, err := b.readBytes(headerPath)
	if err != nil {
		return nil, err
	}
	h, order, err := ParseHeader(content)
	if err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}
	b.logger.WithFields(log.Fields{
		"byteOrder": order,
		"datatype":  h.DataType,
		"dims":      h.Sizes(),
	}).Debug("Found byte order")

	data := content
	if h.Paired() {
		imagePath, err := imageFor(headerPath)
		if err != nil {
			return nil, err
		}
		if data, err = b.readBytes(imagePath); err != nil {
			return nil, err
		}
	}

	bpv, _ := bytesPerVoxel(h.DataType)
	offset := h.DataOffset()
	n, err := h.NumVoxels()
	if err != nil {
		return nil, err
	}
	if offset < 0 || offset > len(data) || n > (len(data)-offset)/bpv {
		return nil, fmt.Errorf("image data truncated: need %d voxels of %d bytes at offset %d, have %d bytes", n, bpv, offset, len(data))
	}
	size := n * bpv

	values := convert(data[offset:offset+size], h.DataType, order)
	if slope, inter, ok := h.Scaling(); ok {
		for i := range values {
			values[i] = values[i]*slope + inter
		}
	}

	sizes := h.Sizes()
	shape := make([]int, len(sizes))
	for i, s := range sizes {
		shape[len(sizes)-1-i] = s
	}
	if len(shape) == 1 {
		shape = []int{1, shape[0]}
	}

	v := &volume.Volume{Data: values, Shape: shape}
	h.setGeometry(v)
	return v, v.Validate()
}

// readBytes returns the content of a file, inflating it when it starts with
// the gzip magic bytes.
func (b *Backend) readBytes(path string) ([]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(content) < 2 || content[0] != 0x1f || content[1] != 0x8b {
		return content, nil
	}

	b.logger.WithFields(log.Fields{
		"decompression": "gzip",
		"path":          path,
	}).Debug("Decompressing ...")

	g, err := gzip.NewReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	defer func() { _ = g.Close() }()

	inflated, err := io.ReadAll(g)
	if err != nil {
		return nil, fmt.Errorf("inflate %s: %w", path, err)
	}
	return inflated, nil
}

// headerFor maps an .img image to the header next to it.
func headerFor(path string) (string, bool) {
	lower := strings.ToLower(path)
	for _, ext := range []string{".img.gz", ".img"} {
		if strings.HasSuffix(lower, ext) {
			base := path[:len(path)-len(ext)]
			for _, candidate := range []string{".hdr", ".hdr.gz", ".HDR"} {
				if _, err := os.Stat(base + candidate); err == nil {
					return base + candidate, true
				}
			}
		}
	}
	return "", false
}

// imageFor maps a paired header to its .img or .img.gz file.
func imageFor(headerPath string) (string, error) {
	lower := strings.ToLower(headerPath)
	base := headerPath
	for _, ext := range []string{".hdr.gz", ".hdr"} {
		if strings.HasSuffix(lower, ext) {
			base = headerPath[:len(headerPath)-len(ext)]
			break
		}
	}
	for _, candidate := range []string{".img", ".img.gz", ".IMG"} {
		if _, err := os.Stat(base + candidate); err == nil {
			return base + candidate, nil
		}
	}
	return "", fmt.Errorf("no image file found for header %s", headerPath)
}

// convert decodes raw voxels of a supported datatype.
func convert(raw []byte, dt int16, order binary.ByteOrder) []float64 {
	bpv, _ := bytesPerVoxel(dt)
	out := make([]float64, len(raw)/bpv)
	for i := range out {
		p := raw[i*bpv : (i+1)*bpv]
		switch dt {
		case DTUint8:
			out[i] = float64(p[0])
		case DTInt8:
			out[i] = float64(int8(p[0]))
		case DTInt16:
			out[i] = float64(int16(order.Uint16(p)))
		case DTUint16:
			out[i] = float64(order.Uint16(p))
		case DTInt32:
			out[i] = float64(int32(order.Uint32(p)))
		case DTUint32:
			out[i] = float64(order.Uint32(p))
		case DTFloat32:
			out[i] = float64(math.Float32frombits(order.Uint32(p)))
		case DTInt64:
			out[i] = float64(int64(order.Uint64(p)))
		case DTUint64:
			out[i] = float64(order.Uint64(p))
		case DTFloat64:
			out[i] = math.Float64frombits(order.Uint64(p))
		}
	}
	return out
}

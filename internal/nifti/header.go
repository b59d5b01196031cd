// Package nifti reads NIfTI-1 images.
//
// Based on the official definition of the nifti1 header,
// https://nifti.nimh.nih.gov/pub/dist/src/niftilib/nifti1.h
package nifti

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Header defines the on-disk layout of the NIfTI-1 header.
//
// Type translation from nifti1 C header to Go:
//
//	C     Go
//	-------------
//	int   int32
//	float float32
//	short int16
//	char  int8 (byte for text)
type Header struct {
	SizeOfHdr          int32    // Must be 348
	UnusedDataType     [10]byte // Unused
	UnusedDbName       [18]byte // Unused
	UnusedExtents      int32    // Unused
	UnusedSessionError int16    // Unused
	UnusedRegular      int8     // Unused
	DimInfo            int8     // MRI slice ordering

	Dim           [8]int16   // Data array dimensions
	IntentP1      float32    // 1st intent parameter
	IntentP2      float32    // 2nd intent parameter
	IntentP3      float32    // 3rd intent parameter
	IntentCode    int16      // NIFTI_INTENT_* code
	DataType      int16      // Defines data type
	BitPix        int16      // Number bits/voxel
	SliceStart    int16      // First slice index
	PixDim        [8]float32 // Grid spacing, PixDim[0] is qfac
	VoxOffset     float32    // Offset into .nii file
	SclSlope      float32    // Data scaling: slope
	SclInter      float32    // Data scaling: offset
	SliceEnd      int16      // Last slice index
	SliceCode     int8       // Slice timing order
	XYZTUnits     int8       // Units of pixdim[1..4]
	CalMax        float32    // Max display intensity
	CalMin        float32    // Min display intensity
	SliceDuration float32    // Time for 1 slice
	TOffset       float32    // Time axis shift
	UnusedGlmax   int32      // Unused
	UnusedGlmin   int32      // Unused

	Descrip [80]byte // Any text you like
	AuxFile [24]byte // Auxiliary filename

	QFormCode int16 // NIFTI_XFORM_* code
	SFormCode int16 // NIFTI_XFORM_* code

	QuaternB float32 // Quaternion b params
	QuaternC float32 // Quaternion c params
	QuaternD float32 // Quaternion d params
	QOffsetX float32 // Quaternion x shift
	QOffsetY float32 // Quaternion y shift
	QOffsetZ float32 // Quaternion z shift

	SRowX [4]float32 // 1st row affine transform
	SRowY [4]float32 // 2nd row affine transform
	SRowZ [4]float32 // 3rd row affine transform

	IntentName [16]byte // 'name' or meaning of data

	Magic [4]byte // Must be "ni1\0" or "n+1\0"
}

const (
	minHeaderSize = 348
	headerSize    = 352
)

// Magic values.
var (
	MagicSingle = [4]byte{'n', '+', '1', 0}
	MagicPair   = [4]byte{'n', 'i', '1', 0}
)

// Datatype codes (NIFTI_TYPE_*).
const (
	DTUint8   int16 = 2
	DTInt16   int16 = 4
	DTInt32   int16 = 8
	DTFloat32 int16 = 16
	DTFloat64 int16 = 64
	DTInt8    int16 = 256
	DTUint16  int16 = 512
	DTUint32  int16 = 768
	DTInt64   int16 = 1024
	DTUint64  int16 = 1280
)

// bytesPerVoxel returns the storage size of a supported datatype.
func bytesPerVoxel(dt int16) (int, bool) {
	switch dt {
	case DTUint8, DTInt8:
		return 1, true
	case DTInt16, DTUint16:
		return 2, true
	case DTInt32, DTUint32, DTFloat32:
		return 4, true
	case DTInt64, DTUint64, DTFloat64:
		return 8, true
	default:
		return 0, false
	}
}

// ParseHeader decodes a header and returns the byte order of the file.
// The order is inferred from SizeOfHdr and Dim[0], which must lie in [1, 7].
func ParseHeader(b []byte) (*Header, binary.ByteOrder, error) {
	if len(b) < minHeaderSize {
		return nil, nil, fmt.Errorf("header has %d bytes, want at least %d", len(b), minHeaderSize)
	}
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		h := &Header{}
		if err := binary.Read(bytes.NewReader(b[:minHeaderSize]), order, h); err != nil {
			return nil, nil, fmt.Errorf("read header: %w", err)
		}
		if h.SizeOfHdr == minHeaderSize && h.Dim[0] >= 1 && h.Dim[0] <= 7 {
			if err := h.Validate(); err != nil {
				return nil, nil, err
			}
			return h, order, nil
		}
	}
	return nil, nil, fmt.Errorf("cannot infer byte order: header size or dim[0] out of range")
}

// Validate checks the magic, the dimensions and the datatype.
func (h *Header) Validate() error {
	if h.Magic != MagicSingle && h.Magic != MagicPair {
		return fmt.Errorf("invalid file magic %q", strings.TrimRight(string(h.Magic[:]), "\x00"))
	}
	for i := 1; i <= int(h.Dim[0]); i++ {
		if h.Dim[i] < 0 {
			return fmt.Errorf("negative dimension dim[%d] = %d", i, h.Dim[i])
		}
	}
	n, ok := bytesPerVoxel(h.DataType)
	if !ok {
		return fmt.Errorf("unsupported datatype %d", h.DataType)
	}
	if h.BitPix != 0 && int(h.BitPix) != 8*n {
		return fmt.Errorf("bitpix %d does not match datatype %d", h.BitPix, h.DataType)
	}
	return nil
}

// Paired reports whether the voxels live in a separate .img file.
func (h *Header) Paired() bool {
	return h.Magic == MagicPair
}

// Sizes returns the size of every axis, fastest (x) first. Zero sizes count as 1
// and trailing singleton axes beyond the third are dropped.
func (h *Header) Sizes() []int {
	n := int(h.Dim[0])
	sizes := make([]int, n)
	for i := range sizes {
		sizes[i] = max(1, int(h.Dim[i+1]))
	}
	for len(sizes) > 3 && sizes[len(sizes)-1] == 1 {
		sizes = sizes[:len(sizes)-1]
	}
	return sizes
}

// NumVoxels returns the number of voxels described by the header. It fails
// when the product of the dimensions does not fit in an int.
func (h *Header) NumVoxels() (int, error) {
	sizes := h.Sizes()
	total := 1
	for _, s := range sizes {
		if total > math.MaxInt/s {
			return 0, fmt.Errorf("image dimensions %v overflow", sizes)
		}
		total *= s
	}
	return total, nil
}

// DataOffset returns the byte offset of the voxels in a single-file image.
func (h *Header) DataOffset() int {
	if h.Paired() {
		return int(h.VoxOffset)
	}
	if h.VoxOffset < headerSize {
		return headerSize
	}
	return int(h.VoxOffset)
}

// Scaling returns the slope and intercept to apply to stored values. ok is
// false when the header asks for no scaling.
func (h *Header) Scaling() (slope, inter float64, ok bool) {
	slope, inter = float64(h.SclSlope), float64(h.SclInter)
	if slope == 0 || math.IsNaN(slope) || math.IsInf(slope, 0) {
		return 1, 0, false
	}
	if math.IsNaN(inter) || math.IsInf(inter, 0) {
		inter = 0
	}
	return slope, inter, slope != 1 || inter != 0
}

// Description returns the descrip field as text.
func (h *Header) Description() string {
	return strings.TrimRight(string(h.Descrip[:]), "\x00 ")
}

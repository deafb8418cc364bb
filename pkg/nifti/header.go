// Package nifti reads and writes single-file NIfTI-1 volumes (.nii and
// .nii.gz), the format BraTS images and segmentations are distributed in.
package nifti

import (
	"math"

	"github.com/pkg/errors"
)

const (
	headerSize = 348
	// voxOffset is where data starts in files written by this package:
	// the header plus the 4-byte extension flag.
	voxOffset = 352
)

// Datatype codes from the NIfTI-1 standard.
const (
	DTUint8   = 2
	DTInt16   = 4
	DTInt32   = 8
	DTFloat32 = 16
	DTFloat64 = 64
	DTInt8    = 256
	DTUint16  = 512
	DTUint32  = 768
	DTInt64   = 1024
	DTUint64  = 1280
)

// Header is the 348-byte NIfTI-1 header, in on-disk field order.
type Header struct {
	SizeofHdr     int32
	DataType      [10]byte
	DbName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XyztUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

// bytesPerVoxel returns the storage size of a datatype, or 0 if unsupported.
func bytesPerVoxel(datatype int16) int {
	switch datatype {
	case DTUint8, DTInt8:
		return 1
	case DTInt16, DTUint16:
		return 2
	case DTInt32, DTUint32, DTFloat32:
		return 4
	case DTFloat64, DTInt64, DTUint64:
		return 8
	}
	return 0
}

// maxVoxels bounds the voxel count a header may declare.
const maxVoxels = 1 << 30

// dims returns the spatial size and the number of stacked volumes (dim4*dim5...).
func (h *Header) dims() (width, height, depth, channels int, err error) {
	n := int(h.Dim[0])
	get := func(i int) int {
		if i > n || h.Dim[i] <= 0 {
			return 1
		}
		return int(h.Dim[i])
	}
	total := 1
	for i := 1; i <= 7; i++ {
		d := get(i)
		if total > maxVoxels/d {
			return 0, 0, 0, 0, errors.Errorf("header dimensions %v exceed %d voxels", h.Dim[1:], maxVoxels)
		}
		total *= d
	}
	width, height, depth = get(1), get(2), get(3)
	channels = total / (width * height * depth)
	return width, height, depth, channels, nil
}

// affine builds the voxel-to-world matrix, preferring sform over qform and
// falling back to the voxel sizes.
func (h *Header) affine() [16]float64 {
	switch {
	case h.SformCode > 0:
		var a [16]float64
		for i := 0; i < 4; i++ {
			a[i] = float64(h.SrowX[i])
			a[4+i] = float64(h.SrowY[i])
			a[8+i] = float64(h.SrowZ[i])
		}
		a[15] = 1
		return a
	case h.QformCode > 0:
		return h.qformAffine()
	}
	var a [16]float64
	for i := 0; i < 3; i++ {
		p := float64(h.Pixdim[i+1])
		if p == 0 {
			p = 1
		}
		a[i*4+i] = p
	}
	a[15] = 1
	return a
}

func (h *Header) qformAffine() [16]float64 {
	b, c, d := float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD)
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		// 180 degree rotation; renormalise b, c, d
		s := 1 / math.Sqrt(b*b+c*c+d*d)
		b, c, d = b*s, c*s, d*s
		a = 0
	} else {
		a = math.Sqrt(a)
	}

	r := [3][3]float64{
		{a*a + b*b - c*c - d*d, 2 * (b*c - a*d), 2 * (b*d + a*c)},
		{2 * (b*c + a*d), a*a + c*c - b*b - d*d, 2 * (c*d - a*b)},
		{2 * (b*d - a*c), 2 * (c*d + a*b), a*a + d*d - b*b - c*c},
	}

	qfac := float64(h.Pixdim[0])
	if qfac == 0 {
		qfac = 1
	}
	scale := [3]float64{float64(h.Pixdim[1]), float64(h.Pixdim[2]), float64(h.Pixdim[3]) * qfac}
	for i := range scale {
		if scale[i] == 0 {
			scale[i] = 1
		}
	}

	var m [16]float64
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			m[row*4+col] = r[row][col] * scale[col]
		}
	}
	m[3] = float64(h.QoffsetX)
	m[7] = float64(h.QoffsetY)
	m[11] = float64(h.QoffsetZ)
	m[15] = 1
	return m
}

// cString trims a NUL-padded header string.
func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

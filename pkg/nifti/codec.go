package nifti

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"bratsprep/internal/models"
)

// Read loads a NIfTI-1 file. Gzip compression is detected from the content.
func Read(path string) (*models.Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q", path)
	}
	defer f.Close()

	v, err := Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %q", path)
	}
	v.Source = path
	klog.V(2).Infof("loaded %s: %dx%dx%d, %d channel(s), spacing %v",
		path, v.Width, v.Height, v.Depth, v.Channels, v.Spacing())
	return v, nil
}

// Decode reads a NIfTI-1 volume from r, which may be gzip compressed.
func Decode(r io.Reader) (*models.Volume, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil {
		return nil, errors.Wrap(err, "reading header")
	}
	var src io.Reader = br
	if magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, errors.Wrap(err, "opening gzip stream")
		}
		defer zr.Close()
		src = zr
	}

	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(src, raw); err != nil {
		return nil, errors.Wrap(err, "reading header")
	}

	order, err := byteOrder(raw)
	if err != nil {
		return nil, err
	}
	var h Header
	if err := binary.Read(bytes.NewReader(raw), order, &h); err != nil {
		return nil, errors.Wrap(err, "decoding header")
	}
	if m := cString(h.Magic[:]); m != "n+1" {
		return nil, errors.Errorf("unsupported NIfTI magic %q (only single-file n+1 is supported)", m)
	}

	size := bytesPerVoxel(h.Datatype)
	if size == 0 {
		return nil, errors.Errorf("unsupported NIfTI datatype %d", h.Datatype)
	}

	// Skip extensions up to the data offset
	offset := int64(h.VoxOffset)
	if offset < headerSize {
		offset = headerSize
	}
	if _, err := io.CopyN(io.Discard, src, offset-headerSize); err != nil {
		return nil, errors.Wrap(err, "skipping header extensions")
	}

	width, height, depth, channels, err := h.dims()
	if err != nil {
		return nil, err
	}

	// Read before allocating the volume so that a header promising more
	// data than the file holds fails with an error
	need := int64(channels*width*height*depth) * int64(size)
	buf, err := io.ReadAll(io.LimitReader(src, need))
	if err != nil {
		return nil, errors.Wrap(err, "reading voxels")
	}
	if int64(len(buf)) != need {
		return nil, errors.Wrapf(io.ErrUnexpectedEOF, "header declares %d bytes of voxels, found %d", need, len(buf))
	}
	v := models.NewVolume(channels, width, height, depth)
	decodeVoxels(buf, h.Datatype, order, v.Data)

	if slope := float64(h.SclSlope); slope != 0 && !math.IsNaN(slope) && (slope != 1 || h.SclInter != 0) {
		inter := float64(h.SclInter)
		for i := range v.Data {
			v.Data[i] = v.Data[i]*slope + inter
		}
	}

	v.Affine = h.affine()
	v.Meta["descrip"] = cString(h.Descrip[:])
	v.Meta["datatype"] = strconv.Itoa(int(h.Datatype))
	v.Meta["ndim"] = strconv.Itoa(int(h.Dim[0]))
	return v, nil
}

func byteOrder(raw []byte) (binary.ByteOrder, error) {
	switch {
	case binary.LittleEndian.Uint32(raw) == headerSize:
		return binary.LittleEndian, nil
	case binary.BigEndian.Uint32(raw) == headerSize:
		return binary.BigEndian, nil
	}
	return nil, errors.New("not a NIfTI-1 file: bad sizeof_hdr")
}

func decodeVoxels(buf []byte, datatype int16, order binary.ByteOrder, out []float64) {
	for i := range out {
		switch datatype {
		case DTUint8:
			out[i] = float64(buf[i])
		case DTInt8:
			out[i] = float64(int8(buf[i]))
		case DTInt16:
			out[i] = float64(int16(order.Uint16(buf[i*2:])))
		case DTUint16:
			out[i] = float64(order.Uint16(buf[i*2:]))
		case DTInt32:
			out[i] = float64(int32(order.Uint32(buf[i*4:])))
		case DTUint32:
			out[i] = float64(order.Uint32(buf[i*4:]))
		case DTFloat32:
			out[i] = float64(math.Float32frombits(order.Uint32(buf[i*4:])))
		case DTFloat64:
			out[i] = math.Float64frombits(order.Uint64(buf[i*8:]))
		case DTInt64:
			out[i] = float64(int64(order.Uint64(buf[i*8:])))
		case DTUint64:
			out[i] = float64(order.Uint64(buf[i*8:]))
		}
	}
}

// Write saves v as a float32 NIfTI-1 file, gzip compressed when path ends in ".gz".
func Write(path string, v *models.Volume) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "creating directory for %q", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %q", path)
	}

	var w io.Writer = f
	var zw *gzip.Writer
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		zw = gzip.NewWriter(f)
		w = zw
	}
	err = Encode(w, v)
	if zw != nil {
		if cerr := zw.Close(); err == nil {
			err = cerr
		}
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrapf(err, "writing %q", path)
	}
	klog.V(2).Infof("saved %s", path)
	return nil
}

// Encode writes v to w as an uncompressed float32 NIfTI-1 stream with the
// volume affine stored as the sform.
func Encode(w io.Writer, v *models.Volume) error {
	if err := v.Validate(); err != nil {
		return err
	}
	for _, d := range []int{v.Width, v.Height, v.Depth, v.Channels} {
		if d > math.MaxInt16 {
			return errors.Wrapf(models.ErrShape, "dimension %d does not fit a NIfTI-1 header (max %d)", d, math.MaxInt16)
		}
	}

	var h Header
	h.SizeofHdr = headerSize
	h.Dim[0] = 3
	h.Dim[1], h.Dim[2], h.Dim[3] = int16(v.Width), int16(v.Height), int16(v.Depth)
	h.Dim[4], h.Dim[5], h.Dim[6], h.Dim[7] = 1, 1, 1, 1
	if v.Channels > 1 {
		h.Dim[0] = 4
		h.Dim[4] = int16(v.Channels)
	}
	h.Datatype = DTFloat32
	h.Bitpix = 32
	h.VoxOffset = voxOffset
	h.SclSlope = 1
	h.XyztUnits = 2 // mm

	spacing := v.Spacing()
	h.Pixdim[0] = 1
	for i, s := range spacing {
		h.Pixdim[i+1] = float32(s)
	}
	h.SformCode = 2
	for i := 0; i < 4; i++ {
		h.SrowX[i] = float32(v.Affine[i])
		h.SrowY[i] = float32(v.Affine[4+i])
		h.SrowZ[i] = float32(v.Affine[8+i])
	}
	copy(h.Descrip[:], v.Meta["descrip"])
	copy(h.Magic[:], "n+1\x00")

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, &h); err != nil {
		return errors.Wrap(err, "writing header")
	}
	// No extensions
	if _, err := bw.Write([]byte{0, 0, 0, 0}); err != nil {
		return errors.Wrap(err, "writing extension flag")
	}
	var word [4]byte
	for _, val := range v.Data {
		binary.LittleEndian.PutUint32(word[:], math.Float32bits(float32(val)))
		if _, err := bw.Write(word[:]); err != nil {
			return errors.Wrap(err, "writing voxels")
		}
	}
	return bw.Flush()
}

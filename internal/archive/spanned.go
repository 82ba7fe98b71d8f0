package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
)

// Multi-part items use the PKWARE spanned layout that zip4j and Info-ZIP
// write: the first part starts with the spanning signature, and the central
// directory stores the part ("disk") each local header starts on together
// with an offset relative to that part. Offsets on disk 0 count the
// signature.

var (
	spanSig     = []byte{'P', 'K', 0x07, 0x08}
	spanTempSig = []byte{'P', 'K', '0', '0'} // single-segment marker
)

const (
	centralSig    = 0x02014b50
	directoryEnd  = 0x06054b50
	endLen        = 22
	centralLen    = 46
	maxCommentLen = 0xffff
)

var errZip64 = fmt.Errorf("zip64 split archives are not supported")

// endRecord is the end of central directory record.
type endRecord struct {
	pos       int64 // offset of the signature
	disk      uint16
	dirDisk   uint16
	diskCount uint16 // directory records on this disk
	count     uint16
	dirSize   uint32
	dirOffset uint32
}

func readEndRecord(r io.ReaderAt, size int64) (*endRecord, error) {
	n := int64(endLen + maxCommentLen)
	if n > size {
		n = size
	}
	buf := make([]byte, n)
	if _, err := r.ReadAt(buf, size-n); err != nil && err != io.EOF {
		return nil, err
	}
	le := binary.LittleEndian
	for i := len(buf) - endLen; i >= 0; i-- {
		if le.Uint32(buf[i:]) != directoryEnd {
			continue
		}
		if i+endLen+int(le.Uint16(buf[i+20:])) != len(buf) {
			continue
		}
		b := buf[i:]
		e := &endRecord{
			pos:       size - n + int64(i),
			disk:      le.Uint16(b[4:]),
			dirDisk:   le.Uint16(b[6:]),
			diskCount: le.Uint16(b[8:]),
			count:     le.Uint16(b[10:]),
			dirSize:   le.Uint32(b[12:]),
			dirOffset: le.Uint32(b[16:]),
		}
		if e.count == math.MaxUint16 || e.dirSize == math.MaxUint32 || e.dirOffset == math.MaxUint32 {
			return nil, errZip64
		}
		return e, nil
	}
	return nil, fmt.Errorf("end of central directory not found")
}

func (e *endRecord) writeTo(w io.WriterAt) error {
	b := make([]byte, 16)
	le := binary.LittleEndian
	le.PutUint16(b[0:], e.disk)
	le.PutUint16(b[2:], e.dirDisk)
	le.PutUint16(b[4:], e.diskCount)
	le.PutUint16(b[6:], e.count)
	le.PutUint32(b[8:], e.dirSize)
	le.PutUint32(b[12:], e.dirOffset)
	_, err := w.WriteAt(b, e.pos+4)
	return err
}

type readerWriterAt interface {
	io.ReaderAt
	io.WriterAt
}

// rewriteDirectory maps the (disk, local header offset) pair of every
// central directory record starting at dirPos through fn and writes the
// records back. It returns the offset of each record.
func rewriteDirectory(f readerWriterAt, e *endRecord, dirPos int64, fn func(disk uint16, off uint32) (uint16, uint32, error)) ([]int64, error) {
	if dirPos < 0 || dirPos+int64(e.dirSize) > e.pos {
		return nil, fmt.Errorf("central directory outside archive")
	}
	buf := make([]byte, e.dirSize)
	if _, err := f.ReadAt(buf, dirPos); err != nil {
		return nil, err
	}

	le := binary.LittleEndian
	at := make([]int64, 0, e.count)
	p := 0
	for i := 0; i < int(e.count); i++ {
		if p+centralLen > len(buf) || le.Uint32(buf[p:]) != centralSig {
			return nil, fmt.Errorf("central directory record %d is malformed", i)
		}
		rec := buf[p:]
		if le.Uint32(rec[42:]) == math.MaxUint32 {
			return nil, errZip64
		}
		disk, off, err := fn(le.Uint16(rec[34:]), le.Uint32(rec[42:]))
		if err != nil {
			return nil, err
		}
		le.PutUint16(rec[34:], disk)
		le.PutUint32(rec[42:], off)
		at = append(at, dirPos+int64(p))
		p += centralLen + int(le.Uint16(rec[28:])) + int(le.Uint16(rec[30:])) + int(le.Uint16(rec[32:]))
	}
	_, err := f.WriteAt(buf, dirPos)
	return at, err
}

// spanLayout returns the stream offset of every part for a zip of size
// bytes whose end record sits at endPos. The stream is the spanning
// signature followed by the zip. The end record never straddles two parts.
func spanLayout(size, endPos, partSize int64) []int64 {
	shift := int64(len(spanSig))
	total, endAt := size+shift, endPos+shift
	var starts []int64
	for s := int64(0); s < total && s <= endAt; s += partSize {
		starts = append(starts, s)
	}
	if last := starts[len(starts)-1]; total-last > partSize && last != endAt {
		starts = append(starts, endAt)
	}
	return starts
}

// writeSpanned cuts the plain zip f into parts under dir. A zip that fits in
// one part is written unchanged as <base>.zip. f is patched in place.
func writeSpanned(f *os.File, dir, base string, partSize int64) (int, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := info.Size()
	if size <= partSize {
		pw := &partWriter{dir: dir, base: base, size: partSize}
		return copyParts(pw, io.NewSectionReader(f, 0, size), nil)
	}

	e, err := readEndRecord(f, size)
	if err != nil {
		return 0, err
	}
	starts := spanLayout(size, e.pos, partSize)
	if len(starts) > math.MaxUint16 {
		return 0, fmt.Errorf("%d parts exceed the disk limit", len(starts))
	}
	shift := int64(len(spanSig))
	locate := func(p int64) (uint16, uint32) {
		d := sort.Search(len(starts), func(i int) bool { return starts[i] > p }) - 1
		return uint16(d), uint32(p - starts[d])
	}

	records, err := rewriteDirectory(f, e, int64(e.dirOffset), func(_ uint16, off uint32) (uint16, uint32, error) {
		d, rel := locate(int64(off) + shift)
		return d, rel, nil
	})
	if err != nil {
		return 0, err
	}
	last := len(starts) - 1
	e.disk = uint16(last)
	e.dirDisk, e.dirOffset = locate(int64(e.dirOffset) + shift)
	e.diskCount = 0
	for _, p := range records {
		if p+shift >= starts[last] {
			e.diskCount++
		}
	}
	if err := e.writeTo(f); err != nil {
		return 0, err
	}

	sizes := make([]int64, len(starts))
	for i, s := range starts {
		next := size + shift
		if i < last {
			next = starts[i+1]
		}
		sizes[i] = next - s
	}
	pw := &partWriter{dir: dir, base: base, size: partSize, sizes: sizes}
	return copyParts(pw, io.NewSectionReader(f, 0, size), spanSig)
}

func copyParts(pw *partWriter, r io.Reader, head []byte) (int, error) {
	if _, err := pw.Write(head); err != nil {
		_ = pw.Close()
		return 0, err
	}
	if _, err := io.Copy(pw, r); err != nil {
		_ = pw.Close()
		return 0, err
	}
	if err := pw.Close(); err != nil {
		return 0, err
	}
	return pw.parts, nil
}

// isSpanned reports whether the part at path starts with a spanning marker.
func isSpanned(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	head := make([]byte, len(spanSig))
	if _, err := io.ReadFull(f, head); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(head, spanSig) || bytes.Equal(head, spanTempSig), nil
}

// unspan rewrites the directory of a concatenated spanned archive so every
// offset is absolute on a single disk. bases[d] is the merged offset that
// disk d's relative offsets are counted from.
func unspan(f readerWriterAt, size int64, bases []int64) error {
	e, err := readEndRecord(f, size)
	if err != nil {
		return err
	}
	abs := func(disk uint16, off uint32) (int64, error) {
		if int(disk) >= len(bases) {
			return 0, fmt.Errorf("disk %d out of range (%d parts)", disk, len(bases))
		}
		p := bases[disk] + int64(off)
		if p < 0 || p >= size {
			return 0, fmt.Errorf("offset %d on disk %d outside archive", off, disk)
		}
		if p > math.MaxUint32 {
			return 0, errZip64
		}
		return p, nil
	}

	dirPos, err := abs(e.dirDisk, e.dirOffset)
	if err != nil {
		return err
	}
	_, err = rewriteDirectory(f, e, dirPos, func(disk uint16, off uint32) (uint16, uint32, error) {
		p, err := abs(disk, off)
		return 0, uint32(p), err
	})
	if err != nil {
		return err
	}
	e.disk, e.dirDisk, e.diskCount, e.dirOffset = 0, 0, e.count, uint32(dirPos)
	return e.writeTo(f)
}

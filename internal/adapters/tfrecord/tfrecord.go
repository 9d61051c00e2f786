// Package tfrecord writes and reads TFRecord containers.
//
// Each record is framed as
//
//	uint64 length | uint32 masked crc32c(length) | data | uint32 masked crc32c(data)
//
// with every integer little endian.
package tfrecord

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

const maskDelta = 0xa282ead8

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// MaskedCRC returns the masked crc32c of b.
func MaskedCRC(b []byte) uint32 {
	c := crc32.Checksum(b, castagnoli)
	return ((c >> 15) | (c << 17)) + maskDelta
}

// Writer appends framed records to a stream.
type Writer struct {
	w      *bufio.Writer
	closer io.Closer
	count  int
}

// NewWriter frames records onto w.
func NewWriter(w io.Writer) *Writer {
	tw := &Writer{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		tw.closer = c
	}
	return tw
}

// Create truncates or creates the file at path.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return NewWriter(f), nil
}

// Write appends one record.
func (w *Writer) Write(data []byte) error {
	if w.w == nil {
		return ErrClosed
	}
	var hdr [12]byte
	binary.LittleEndian.PutUint64(hdr[:8], uint64(len(data)))
	binary.LittleEndian.PutUint32(hdr[8:], MaskedCRC(hdr[:8]))
	var ftr [4]byte
	binary.LittleEndian.PutUint32(ftr[:], MaskedCRC(data))

	if _, err := w.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.w.Write(data); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	if _, err := w.w.Write(ftr[:]); err != nil {
		return fmt.Errorf("write footer: %w", err)
	}
	w.count++
	return nil
}

// Count returns how many records were written.
func (w *Writer) Count() int { return w.count }

// Close flushes buffered records and closes the underlying file.
func (w *Writer) Close() error {
	if w.w == nil {
		return nil
	}
	err := w.w.Flush()
	w.w = nil
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

// Reader reads framed records and verifies both checksums.
type Reader struct {
	r *bufio.Reader
}

// NewReader reads records from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next record, or io.EOF at a clean end of stream.
func (r *Reader) Next() ([]byte, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r.r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read header: %w: %w", ErrCorrupt, err)
	}
	if got, want := binary.LittleEndian.Uint32(hdr[8:]), MaskedCRC(hdr[:8]); got != want {
		return nil, fmt.Errorf("length crc %08x, want %08x: %w", got, want, ErrCorrupt)
	}
	n := binary.LittleEndian.Uint64(hdr[:8])
	data := make([]byte, n)
	if _, err := io.ReadFull(r.r, data); err != nil {
		return nil, fmt.Errorf("read data: %w: %w", ErrCorrupt, err)
	}
	var ftr [4]byte
	if _, err := io.ReadFull(r.r, ftr[:]); err != nil {
		return nil, fmt.Errorf("read footer: %w: %w", ErrCorrupt, err)
	}
	if got, want := binary.LittleEndian.Uint32(ftr[:]), MaskedCRC(data); got != want {
		return nil, fmt.Errorf("data crc %08x, want %08x: %w", got, want, ErrCorrupt)
	}
	return data, nil
}

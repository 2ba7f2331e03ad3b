// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package exif

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"
)

type bytesAndReader struct {
	b []byte
	r *bytes.Reader
}

var bytesAndReaderPool = &sync.Pool{
	New: func() any {
		return &bytesAndReader{
			b: make([]byte, 1024),
			r: bytes.NewReader(nil),
		}
	},
}

func getBytesAndReader(length int) *bytesAndReader {
	b := bytesAndReaderPool.Get().(*bytesAndReader)
	if length > cap(b.b) {
		b.b = make([]byte, length)
	}
	b.b = b.b[:length]
	return b
}

func putBytesAndReader(br *bytesAndReader) {
	br.b = br.b[:0]
	bytesAndReaderPool.Put(br)
}

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}

var noopCloser closerFunc = func() error {
	return nil
}

type readerCloser interface {
	io.ReadSeeker
	io.Closer
}

func newStreamReader(r io.ReadSeeker, byteOrder binary.ByteOrder) *streamReader {
	return &streamReader{
		r:         r,
		byteOrder: byteOrder,
	}
}

// streamReader is a wrapper around a ReadSeeker that provides methods
// to read binary data. One instance serves one decode session; it is
// not safe for concurrent use.
type streamReader struct {
	// The current Reader.
	r         io.ReadSeeker
	byteOrder binary.ByteOrder

	buf []byte

	readErr error
}

// An APP1 segment length field is 16 bits, so this guard can only
// trip on lengths that no valid caller computes.
const maxBufSize = 1 << 16

// bufferedReader reads up to length bytes from the stream and returns
// a ReaderCloser over them. A source that ends early yields a shorter
// buffer rather than an error, so that directories located before the
// truncation point still decode. It's important to call Close on the
// ReaderCloser when done.
func (e *streamReader) bufferedReader(length int64) (readerCloser, error) {
	if length > maxBufSize {
		return nil, newInvalidFormatErrorf("length %d exceeds max %d", length, maxBufSize)
	}
	if length < 0 {
		return nil, newInvalidFormatErrorf("negative length")
	}
	if length == 0 {
		return struct {
			io.ReadSeeker
			io.Closer
		}{
			bytes.NewReader(nil),
			noopCloser,
		}, nil
	}

	br := getBytesAndReader(int(length))

	n, err := io.ReadFull(e.r, br.b)
	if err != nil && err != io.ErrUnexpectedEOF {
		putBytesAndReader(br)
		return nil, err
	}
	br.b = br.b[:n]

	var closer closerFunc = func() error {
		putBytesAndReader(br)
		return nil
	}

	br.r.Reset(br.b)

	return struct {
		io.ReadSeeker
		io.Closer
	}{
		br.r,
		closer,
	}, nil
}

func (e *streamReader) allocateBuf(length int) {
	if length > cap(e.buf) {
		e.buf = make([]byte, length)
	}
}

func (e *streamReader) streamErr() error {
	return e.readErr
}

func (e *streamReader) pos() int64 {
	n, _ := e.r.Seek(0, io.SeekCurrent)
	return n
}

func (e *streamReader) read1() uint8 {
	const n = 1
	e.readNIntoBuf(n)
	return e.buf[0]
}

func (e *streamReader) read2() uint16 {
	const n = 2
	e.readNIntoBuf(n)
	return e.byteOrder.Uint16(e.buf[:n])
}

func (e *streamReader) read4() uint32 {
	const n = 4
	e.readNIntoBuf(n)
	return e.byteOrder.Uint32(e.buf[:n])
}

// readBytesVolatile reads a slice of bytes from the stream
// which is not guaranteed to be valid after the next read.
func (e *streamReader) readBytesVolatile(n int) []byte {
	e.readNIntoBuf(n)
	return e.buf[:n]
}

func (e *streamReader) readBytesVolatileE(n int) ([]byte, error) {
	if err := e.readNIntoBufE(n); err != nil {
		return nil, err
	}
	return e.buf[:n], nil
}

func (e *streamReader) readNIntoBuf(n int) {
	if err := e.readNIntoBufE(n); err != nil {
		e.stop(err)
	}
}

func (e *streamReader) readNIntoBufE(n int) error {
	e.allocateBuf(n)
	n2, err := io.ReadFull(e.r, e.buf[:n])
	if err != nil {
		return err
	}
	if n != n2 {
		return errShortRead
	}
	return nil
}

func (e *streamReader) preservePos(f func() error) error {
	pos := e.pos()
	err := f()
	e.seek(pos)
	return err
}

func (e *streamReader) seek(pos int64) {
	_, err := e.r.Seek(pos, io.SeekStart)
	if err != nil {
		e.stop(err)
	}
}

func (e *streamReader) skip(n int64) {
	e.r.Seek(n, io.SeekCurrent)
}

func (e *streamReader) stop(err error) {
	if err != nil {
		e.readErr = err
	}
	panic(errStop)
}

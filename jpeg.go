package exif

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const (
	markerSOI   = 0xffd8
	markerDQT   = 0xffdb
	markerAPP0  = 0xffe0
	markerAPP1  = 0xffe1
	markerAPP15 = 0xffef
)

// The Exif identifier that opens an APP1 payload. A sixth pad byte
// follows it on the wire.
var exifIdentifier = []byte("Exif\x00")

// segmentLocation describes the Exif APP1 segment of a JPEG stream.
type segmentLocation struct {
	// offset is the absolute position of the APP1 marker.
	offset int64
	// length is the declared segment length. Per JPEG framing it
	// includes the 2-byte length field itself but not the marker.
	length uint16
}

// jpegScanner walks the marker stream of a JPEG source.
type jpegScanner struct {
	*streamReader
}

func newJPEGScanner(r io.ReadSeeker) *jpegScanner {
	// JPEG framing is big-endian regardless of the Exif payload order.
	return &jpegScanner{streamReader: newStreamReader(r, binary.BigEndian)}
}

// locate finds the first APP1 segment whose payload begins with the
// Exif identifier and returns the location of its marker. found=false
// means the stream has no such segment, which is not an error.
func (s *jpegScanner) locate() (loc segmentLocation, found bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			if r != errStop {
				panic(r)
			}
			err = s.streamErr()
		}
	}()

	if soi := s.read2(); soi != markerSOI {
		return loc, false, fmt.Errorf("%w: missing SOI marker", ErrInvalidJPEG)
	}

	marker := s.read2()
	// DQT directly after SOI means the file carries no application
	// segments at all.
	if marker == markerDQT {
		return loc, false, nil
	}

	pos := s.pos()
	for marker >= markerAPP0 && marker <= markerAPP15 {
		length := s.read2()
		if length < 2 {
			return loc, false, fmt.Errorf("%w: segment length %d", ErrInvalidJPEG, length)
		}

		if marker == markerAPP1 {
			id := s.readBytesVolatile(len(exifIdentifier))
			if bytes.Equal(id, exifIdentifier) {
				return segmentLocation{offset: pos - 2, length: length}, true, nil
			}
		}

		// Not the Exif segment; move to the next marker.
		s.seek(pos + int64(length))
		marker = s.read2()
		pos = s.pos()
	}

	// First marker outside the application range; no Exif segment.
	return loc, false, nil
}

// Strip copies the JPEG in r to w with its Exif APP1 segment elided.
// It reports whether a segment was found; when none is, nothing is
// written to w. All bytes outside the segment are copied verbatim.
func Strip(w io.Writer, r io.ReadSeeker) (bool, error) {
	loc, found, err := newJPEGScanner(r).locate()
	if err != nil || !found {
		return false, normalizeErr(err)
	}
	if err := stripTo(w, r, loc); err != nil {
		return true, err
	}
	return true, nil
}

// StripFile writes a copy of the JPEG file src to dst with the Exif
// segment removed. dst is only created once an Exif segment has been
// found in src.
func StripFile(dst, src string) (found bool, err error) {
	in, err := os.Open(src)
	if err != nil {
		return false, err
	}
	defer in.Close()

	loc, found, err := newJPEGScanner(in).locate()
	if err != nil || !found {
		return false, normalizeErr(err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return true, err
	}
	defer func() {
		cerr := out.Close()
		if err == nil {
			err = cerr
		}
	}()

	err = stripTo(out, in, loc)
	return true, err
}

// stripTo streams r to w, skipping the marker and the declared length
// of the located segment.
func stripTo(w io.Writer, r io.ReadSeeker, loc segmentLocation) error {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := io.CopyN(w, r, loc.offset); err != nil {
		return fmt.Errorf("copy leading bytes: %w", err)
	}
	if _, err := r.Seek(loc.offset+2+int64(loc.length), io.SeekStart); err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copy trailing bytes: %w", err)
	}
	return nil
}

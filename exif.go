// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package exif

import (
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-multierror"
)

// Options contains the options for Decode.
type Options struct {
	// R is the JPEG stream to read from.
	R io.ReadSeeker

	// Warnf will be called for each warning.
	Warnf func(string, ...any)

	// LimitNumTags is the maximum number of tags one directory may
	// declare before its decode is aborted.
	// Default value is 5000.
	LimitNumTags uint32

	// LimitTagSize is the maximum size in bytes of a tag value to
	// read. Larger values yield a tag with Err set.
	// Default value is 10000.
	LimitTagSize uint32
}

// Decode reads the Exif metadata of the JPEG stream in opts.R and
// returns its directories in decode order.
//
// A JPEG without an Exif segment returns nil Directories and a nil
// error. When a dependent directory fails to decode, the directories
// that did resolve are returned together with an error wrapping
// ErrInvalidIFD, so both return values can be non-nil. Only a failure
// of the primary directory, the TIFF header or the JPEG framing
// itself returns no directories at all.
func Decode(opts Options) (dirs Directories, err error) {
	if opts.R == nil {
		return nil, fmt.Errorf("no reader provided")
	}

	const (
		defaultLimitNumTags = 5000
		defaultLimitTagSize = 10000
	)

	if opts.LimitNumTags == 0 {
		opts.LimitNumTags = defaultLimitNumTags
	}
	if opts.LimitTagSize == 0 {
		opts.LimitTagSize = defaultLimitTagSize
	}
	if opts.Warnf == nil {
		opts.Warnf = func(string, ...any) {}
	}

	s := newJPEGScanner(opts.R)

	errFinal := func(err2 error) error {
		if err2 == nil {
			return nil
		}
		if err2 == errStop {
			if err2 = s.streamErr(); err2 == nil {
				err2 = errShortRead
			}
		}
		return normalizeErr(err2)
	}

	defer func() {
		err = errFinal(err)
	}()

	defer func() {
		if r := recover(); r != nil {
			err2, ok := r.(error)
			if !ok {
				err2 = fmt.Errorf("unknown panic: %v", r)
			}
			if err == nil {
				err = err2
			}
		}
	}()

	loc, found, err := s.locate()
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	if loc.length < 8 {
		return nil, fmt.Errorf("%w: segment length %d", ErrInvalidHeader, loc.length)
	}

	// The TIFF block starts after the marker, the length field and the
	// six identifier bytes; the offsets inside it are relative to its
	// start.
	s.seek(loc.offset + 10)
	block, err := s.bufferedReader(int64(loc.length) - 8)
	if err != nil {
		return nil, err
	}
	defer block.Close()

	d := newTIFFDecoder(block, loc.length, opts)
	ifd0Offset, err := d.decodeHeader()
	if err != nil {
		return nil, err
	}

	primary, err := d.decodeIFD(IfdPrimary, ifd0Offset)
	if err != nil {
		// The graph is unusable without its root.
		return nil, fmt.Errorf("%w: decode %s IFD: %w", ErrInvalidIFD, IfdPrimary, err)
	}
	dirs = Directories{primary}

	var decodeErr error
	branchErr := func(kind IfdKind, err2 error) {
		opts.Warnf("exif: decode %s IFD: %v", kind, err2)
		decodeErr = multierror.Append(decodeErr, fmt.Errorf("%w: decode %s IFD: %w", ErrInvalidIFD, kind, err2))
	}

	if off, ok := pointerValue(primary.Tag(TagExifIFDPointer)); ok {
		exifIFD, err2 := d.decodeIFD(IfdExif, off)
		if err2 != nil {
			branchErr(IfdExif, err2)
		} else {
			dirs = append(dirs, exifIFD)
			if off, ok := pointerValue(exifIFD.Tag(TagInteropIFDPointer)); ok {
				interop, err2 := d.decodeIFD(IfdInterop, off)
				if err2 != nil {
					branchErr(IfdInterop, err2)
				} else {
					dirs = append(dirs, interop)
				}
			}
		}
	}

	if off, ok := pointerValue(primary.Tag(TagGPSInfoIFDPointer)); ok {
		gps, err2 := d.decodeIFD(IfdGPS, off)
		if err2 != nil {
			branchErr(IfdGPS, err2)
		} else {
			dirs = append(dirs, gps)
		}
	}

	if primary.NextOffset != 0 {
		thumb, err2 := d.decodeIFD(IfdThumbnail, primary.NextOffset)
		if err2 != nil {
			branchErr(IfdThumbnail, err2)
		} else {
			dirs = append(dirs, thumb)
			d.captureThumbnail(thumb)
		}
	}

	return dirs, decodeErr
}

// DecodeFile reads the Exif metadata of the named JPEG file.
func DecodeFile(filename string) (Directories, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(Options{R: f})
}

// pointerValue returns the offset payload of an IFD pointer tag.
func pointerValue(t *Tag) (uint32, bool) {
	if t == nil || t.Err != nil || len(t.Num) == 0 {
		return 0, false
	}
	return t.Num[0], true
}

// captureThumbnail copies the embedded thumbnail image out of the
// segment when the thumbnail directory locates one.
func (d *tiffDecoder) captureThumbnail(dir *Directory) {
	off, ok := pointerValue(dir.Tag(TagJPEGInterchangeFormat))
	if !ok {
		return
	}
	length, ok := pointerValue(dir.Tag(TagJPEGInterchangeFormatLength))
	if !ok || length == 0 {
		return
	}
	if err := d.checkSize(uint64(length)); err != nil {
		d.opts.Warnf("exif: thumbnail: %v, skipping", err)
		return
	}
	data := make([]byte, length)
	if err := d.fetch(off, data); err != nil {
		d.opts.Warnf("exif: read thumbnail: %v, skipping", err)
		return
	}
	dir.ThumbnailData = data
}

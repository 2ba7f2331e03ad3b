// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package exif

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

const tiffHeaderSize = 8

// The pointer tags and the directory kind each one links, in emission
// order.
var pointerSlots = []struct {
	parent IfdKind
	id     uint16
	target IfdKind
}{
	{IfdPrimary, TagExifIFDPointer, IfdExif},
	{IfdPrimary, TagGPSInfoIFDPointer, IfdGPS},
	{IfdExif, TagInteropIFDPointer, IfdInterop},
}

func pointerSlot(parent IfdKind, id uint16) (IfdKind, bool) {
	for _, slot := range pointerSlots {
		if slot.parent == parent && slot.id == id {
			return slot.target, true
		}
	}
	return 0, false
}

// encIFD pairs a directory with the record list and the layout
// computed for one Encode call.
type encIFD struct {
	dir    *Directory
	tags   []*Tag
	offset uint32
}

// blockWriter accumulates the TIFF block in the chosen byte order.
type blockWriter struct {
	order binary.ByteOrder
	buf   []byte
}

func (b *blockWriter) put1(v uint8) {
	b.buf = append(b.buf, v)
}

func (b *blockWriter) put2(v uint16) {
	var s [2]byte
	b.order.PutUint16(s[:], v)
	b.buf = append(b.buf, s[:]...)
}

func (b *blockWriter) put4(v uint32) {
	var s [4]byte
	b.order.PutUint32(s[:], v)
	b.buf = append(b.buf, s[:]...)
}

func (b *blockWriter) pad(n int) {
	for i := 0; i < n; i++ {
		b.buf = append(b.buf, 0)
	}
}

// Encode serializes the directory graph as one TIFF block in the given
// byte order: the header, then the directories in Primary, Exif,
// Interoperability, GPS, Thumbnail order, each followed by its
// out-of-line values, with the thumbnail image bytes at the very end.
//
// The pointer tags and the thumbnail locator tags are rewritten as
// LONG values against the new layout; ones referencing a directory the
// graph does not contain are dropped, and missing ones are added when
// their target exists. Tags with Err set are omitted.
func (ds Directories) Encode(w io.Writer, order binary.ByteOrder) error {
	if order == nil {
		order = binary.BigEndian
	}
	if ds.Find(IfdPrimary) == nil {
		return fmt.Errorf("encode: no primary directory")
	}

	ifds := make([]*encIFD, 0, len(ds))
	for _, kind := range []IfdKind{IfdPrimary, IfdExif, IfdInterop, IfdGPS, IfdThumbnail} {
		if d := ds.Find(kind); d != nil {
			ifds = append(ifds, &encIFD{dir: d})
		}
	}

	type patch struct {
		tag    *Tag
		target IfdKind
	}
	var patches []patch
	var thumbLoc, thumbLen *Tag

	for _, ifd := range ifds {
		kind := ifd.dir.Kind
		seen := map[uint16]bool{}
		for _, t := range ifd.dir.Tags {
			if target, ok := pointerSlot(kind, t.ID); ok {
				seen[t.ID] = true
				if ds.Find(target) == nil {
					continue
				}
				p := newPointerTag(t.ID)
				ifd.tags = append(ifd.tags, p)
				patches = append(patches, patch{tag: p, target: target})
				continue
			}
			if kind == IfdThumbnail &&
				(t.ID == TagJPEGInterchangeFormat || t.ID == TagJPEGInterchangeFormatLength) {
				// A locator is only meaningful against the image bytes
				// that follow the block; without them its old offset
				// points nowhere.
				if ifd.dir.ThumbnailData == nil {
					continue
				}
				p := newPointerTag(t.ID)
				ifd.tags = append(ifd.tags, p)
				if t.ID == TagJPEGInterchangeFormat {
					thumbLoc = p
				} else {
					thumbLen = p
				}
				continue
			}
			if t.Err != nil {
				continue
			}
			if err := validateTag(t); err != nil {
				return fmt.Errorf("encode %s IFD: %w", kind, err)
			}
			ifd.tags = append(ifd.tags, t)
		}

		for _, slot := range pointerSlots {
			if slot.parent != kind || seen[slot.id] || ds.Find(slot.target) == nil {
				continue
			}
			p := newPointerTag(slot.id)
			ifd.tags = append(ifd.tags, p)
			patches = append(patches, patch{tag: p, target: slot.target})
		}
		if kind == IfdThumbnail && ifd.dir.ThumbnailData != nil {
			if thumbLoc == nil {
				thumbLoc = newPointerTag(TagJPEGInterchangeFormat)
				ifd.tags = append(ifd.tags, thumbLoc)
			}
			if thumbLen == nil {
				thumbLen = newPointerTag(TagJPEGInterchangeFormatLength)
				ifd.tags = append(ifd.tags, thumbLen)
			}
		}
	}

	// Lay out every directory before any offset lands in a record.
	total := uint64(tiffHeaderSize)
	for _, ifd := range ifds {
		if len(ifd.tags) > math.MaxUint16 {
			return fmt.Errorf("encode %s IFD: %d tags do not fit a directory", ifd.dir.Kind, len(ifd.tags))
		}
		ifd.offset = uint32(total)
		total += 2 + ifdRecordSize*uint64(len(ifd.tags)) + 4
		for _, t := range ifd.tags {
			if n := wireSize(t); n > 4 {
				total += (n + 1) &^ 1
			}
		}
		if total > math.MaxUint32 {
			return fmt.Errorf("encode %s IFD: block too large", ifd.dir.Kind)
		}
	}

	var thumbnailData []byte
	if td := ds.Find(IfdThumbnail); td != nil {
		thumbnailData = td.ThumbnailData
	}
	thumbOffset := uint32(total)
	if total += uint64(len(thumbnailData)); total > math.MaxUint32 {
		return fmt.Errorf("encode: block too large")
	}

	offsets := map[IfdKind]uint32{}
	for _, ifd := range ifds {
		offsets[ifd.dir.Kind] = ifd.offset
	}
	for _, p := range patches {
		p.tag.Num[0] = offsets[p.target]
	}
	if thumbLoc != nil {
		thumbLoc.Num[0] = thumbOffset
	}
	if thumbLen != nil {
		thumbLen.Num[0] = uint32(len(thumbnailData))
	}

	bw := &blockWriter{order: order, buf: make([]byte, 0, total)}
	bom := uint16(byteOrderBigEndian)
	if order == binary.LittleEndian {
		bom = byteOrderLittleEndian
	}
	bw.put2(bom)
	bw.put2(tiffVersion)
	bw.put4(ifds[0].offset)

	for _, ifd := range ifds {
		bw.put2(uint16(len(ifd.tags)))
		data := ifd.offset + 2 + uint32(len(ifd.tags))*ifdRecordSize + 4
		for _, t := range ifd.tags {
			bw.put2(t.ID)
			bw.put2(uint16(t.Type))
			bw.put4(t.Count)
			if n := wireSize(t); n <= 4 {
				// Short values live in the record itself,
				// left-justified and zero-padded.
				start := len(bw.buf)
				writeValue(bw, t)
				bw.pad(start + 4 - len(bw.buf))
			} else {
				bw.put4(data)
				data += uint32((n + 1) &^ 1)
			}
		}
		var next uint32
		if ifd.dir.Kind == IfdPrimary {
			next = offsets[IfdThumbnail]
		}
		bw.put4(next)

		for _, t := range ifd.tags {
			if n := wireSize(t); n > 4 {
				writeValue(bw, t)
				if n&1 == 1 {
					bw.put1(0)
				}
			}
		}
	}

	bw.buf = append(bw.buf, thumbnailData...)

	_, err := w.Write(bw.buf)
	return err
}

// WriteExif copies the JPEG in r to w with its Exif segment replaced
// by the encoded form of ds. A JPEG without an Exif segment gets the
// segment inserted directly after SOI. The byte order follows the
// session ds was decoded from, or big-endian for a graph built by
// hand.
func WriteExif(w io.Writer, r io.ReadSeeker, ds Directories) error {
	primary := ds.Find(IfdPrimary)
	if primary == nil {
		return fmt.Errorf("encode: no primary directory")
	}
	order := primary.order
	if order == nil {
		order = binary.BigEndian
	}

	var block bytes.Buffer
	if err := ds.Encode(&block, order); err != nil {
		return err
	}
	segmentLen := block.Len() + 8
	if segmentLen > math.MaxUint16 {
		return fmt.Errorf("encode: segment length %d exceeds the JPEG limit", segmentLen)
	}

	loc, found, err := newJPEGScanner(r).locate()
	if err != nil {
		return normalizeErr(err)
	}
	insertAt, skip := int64(2), int64(0)
	if found {
		insertAt, skip = loc.offset, 2+int64(loc.length)
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := io.CopyN(w, r, insertAt); err != nil {
		return fmt.Errorf("copy leading bytes: %w", err)
	}

	var header [10]byte
	binary.BigEndian.PutUint16(header[0:2], markerAPP1)
	binary.BigEndian.PutUint16(header[2:4], uint16(segmentLen))
	copy(header[4:], "Exif\x00\x00")
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.Write(block.Bytes()); err != nil {
		return err
	}

	if _, err := r.Seek(insertAt+skip, io.SeekStart); err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copy trailing bytes: %w", err)
	}
	return nil
}

func newPointerTag(id uint16) *Tag {
	return &Tag{ID: id, Type: TypeLong, Count: 1, Num: []uint32{0}}
}

// wireSize returns the number of bytes a tag's value occupies on the
// wire.
func wireSize(t *Tag) uint64 {
	if t.Type == TypeRational || t.Type == TypeSRational {
		return uint64(t.Count) * 8
	}
	return uint64(t.Count) * uint64(t.Type.Size())
}

func writeValue(b *blockWriter, t *Tag) {
	switch t.Type {
	case TypeASCII, TypeUndefined:
		b.buf = append(b.buf, t.Data...)
	case TypeRational, TypeSRational:
		for _, n := range t.Num {
			b.put4(n)
		}
	default:
		switch t.Type.Size() {
		case 1:
			for _, n := range t.Num {
				b.put1(uint8(n))
			}
		case 2:
			for _, n := range t.Num {
				b.put2(uint16(n))
			}
		default:
			for _, n := range t.Num {
				b.put4(n)
			}
		}
	}
}

// validateTag rejects tags whose payload cannot produce a well-formed
// record.
func validateTag(t *Tag) error {
	if t.Count == 0 {
		return fmt.Errorf("tag 0x%04x: zero count", t.ID)
	}
	if !t.Type.valid() {
		return fmt.Errorf("tag 0x%04x: invalid type %d", t.ID, t.Type)
	}
	switch t.Type {
	case TypeASCII, TypeUndefined:
		if uint64(len(t.Data)) != uint64(t.Count) {
			return fmt.Errorf("tag 0x%04x: count %d does not match %d payload bytes", t.ID, t.Count, len(t.Data))
		}
	case TypeRational, TypeSRational:
		if uint64(len(t.Num)) != 2*uint64(t.Count) {
			return fmt.Errorf("tag 0x%04x: count %d needs %d value slots, have %d", t.ID, t.Count, 2*uint64(t.Count), len(t.Num))
		}
	default:
		if uint64(len(t.Num)) != uint64(t.Count) {
			return fmt.Errorf("tag 0x%04x: count %d does not match %d value slots", t.ID, t.Count, len(t.Num))
		}
		var max uint32 = math.MaxUint32
		switch t.Type.Size() {
		case 1:
			max = math.MaxUint8
		case 2:
			max = math.MaxUint16
		}
		for i, n := range t.Num {
			if n > max {
				return fmt.Errorf("tag 0x%04x: value %d at index %d overflows %s", t.ID, n, i, t.Type)
			}
		}
	}
	return nil
}

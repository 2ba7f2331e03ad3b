// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package exif

import (
	"encoding/binary"
	"fmt"
	"slices"
)

// IfdKind identifies which of the five directories a Directory is.
type IfdKind uint8

const (
	// IfdPrimary is the 0th IFD, describing the main image.
	IfdPrimary IfdKind = iota
	// IfdExif is the Exif sub-IFD, reached through tag 0x8769 in the
	// Primary directory.
	IfdExif
	// IfdGPS is the GPS sub-IFD, reached through tag 0x8825 in the
	// Primary directory.
	IfdGPS
	// IfdInterop is the Interoperability sub-IFD, reached through tag
	// 0xA005 in the Exif directory.
	IfdInterop
	// IfdThumbnail is the 1st IFD, describing the thumbnail image,
	// reached through the Primary directory's chained offset.
	IfdThumbnail
)

func (k IfdKind) String() string {
	switch k {
	case IfdPrimary:
		return "0th"
	case IfdExif:
		return "Exif"
	case IfdGPS:
		return "GPS"
	case IfdInterop:
		return "Interoperability"
	case IfdThumbnail:
		return "1st"
	}
	return fmt.Sprintf("IfdKind(%d)", uint8(k))
}

// Tags with structural meaning to the assembler and the encoder.
const (
	TagExifIFDPointer              uint16 = 0x8769
	TagGPSInfoIFDPointer           uint16 = 0x8825
	TagInteropIFDPointer           uint16 = 0xa005
	TagJPEGInterchangeFormat       uint16 = 0x0201
	TagJPEGInterchangeFormatLength uint16 = 0x0202
)

// Directory is one IFD: an insertion-ordered sequence of tags.
// A Directory exclusively owns its Tags.
type Directory struct {
	Kind IfdKind

	// Tags in on-disk order. Records that failed to decode are kept
	// with Err set rather than dropped, so len(Tags) matches the
	// on-disk tag count.
	Tags []*Tag

	// NextOffset is the chained offset of the next IFD, relative to
	// the TIFF header start. Only the Primary directory carries one;
	// 0 means none.
	NextOffset uint32

	// ThumbnailData holds the embedded thumbnail bytes of a Thumbnail
	// directory, when tags 0x0201/0x0202 resolve within the segment.
	ThumbnailData []byte

	// order is the byte order of the decode session the directory
	// came from; nil for directories built by hand.
	order binary.ByteOrder
}

// Tag returns the live tag with the given id, or nil if the directory
// has none. Use Clone on the result before mutating it independently.
func (d *Directory) Tag(id uint16) *Tag {
	if d == nil {
		return nil
	}
	for _, t := range d.Tags {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// AddTag appends t to the directory.
func (d *Directory) AddTag(t *Tag) {
	d.Tags = append(d.Tags, t)
}

// RemoveTag removes the tag with the given id and reports whether it
// was present.
func (d *Directory) RemoveTag(id uint16) bool {
	for i, t := range d.Tags {
		if t.ID == id {
			d.Tags = slices.Delete(d.Tags, i, i+1)
			return true
		}
	}
	return false
}

// Directories is an assembled directory graph in decode order. The
// Primary directory is always first.
type Directories []*Directory

// Find returns the directory of the given kind, or nil.
func (ds Directories) Find(kind IfdKind) *Directory {
	for _, d := range ds {
		if d.Kind == kind {
			return d
		}
	}
	return nil
}

// Lookup returns a deep copy of the tag with the given id in the
// directory of the given kind, or nil if either is absent. The copy
// has an independent lifetime; mutating it does not affect the graph.
func (ds Directories) Lookup(kind IfdKind, id uint16) *Tag {
	return ds.Find(kind).Tag(id).Clone()
}

// Thumbnail returns the embedded thumbnail bytes, or nil if the graph
// has no Thumbnail directory or its image did not resolve.
func (ds Directories) Thumbnail() []byte {
	if d := ds.Find(IfdThumbnail); d != nil {
		return d.ThumbnailData
	}
	return nil
}

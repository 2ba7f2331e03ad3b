// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package exif

import (
	"fmt"
	"slices"
)

// TagType is the wire data type of a tag value.
type TagType uint16

const (
	TypeByte      TagType = 1
	TypeASCII     TagType = 2
	TypeShort     TagType = 3
	TypeLong      TagType = 4
	TypeRational  TagType = 5
	TypeSByte     TagType = 6
	TypeUndefined TagType = 7
	TypeSShort    TagType = 8
	TypeSLong     TagType = 9
	TypeSRational TagType = 10
)

// Size in bytes of one element of each type.
var tagTypeSizes = map[TagType]uint32{
	TypeByte:      1,
	TypeASCII:     1,
	TypeShort:     2,
	TypeLong:      4,
	TypeRational:  8,
	TypeSByte:     1,
	TypeUndefined: 1,
	TypeSShort:    2,
	TypeSLong:     4,
	TypeSRational: 8,
}

// Size returns the width in bytes of one element of t, or 0 if t is
// not a recognized type code.
func (t TagType) Size() uint32 {
	return tagTypeSizes[t]
}

func (t TagType) valid() bool {
	_, ok := tagTypeSizes[t]
	return ok
}

func (t TagType) String() string {
	switch t {
	case TypeByte:
		return "Byte"
	case TypeASCII:
		return "ASCII"
	case TypeShort:
		return "Short"
	case TypeLong:
		return "Long"
	case TypeRational:
		return "Rational"
	case TypeSByte:
		return "SByte"
	case TypeUndefined:
		return "Undefined"
	case TypeSShort:
		return "SShort"
	case TypeSLong:
		return "SLong"
	case TypeSRational:
		return "SRational"
	}
	return fmt.Sprintf("TagType(%d)", uint16(t))
}

// Tag is one (id, type, count, value) record within a directory.
//
// Exactly one of Num and Data carries the payload. Num holds all
// integer and rational values widened into uint32 slots in on-disk
// order; rationals occupy two slots per value, numerator then
// denominator. Signed types are stored zero-extended and reinterpreted
// by the accessors. Data holds ASCII and undefined bytes.
type Tag struct {
	ID    uint16
	Type  TagType
	Count uint32

	Num  []uint32
	Data []byte

	// Err marks a tag whose value could not be retrieved (zero count,
	// oversized count, truncated source). An errored tag carries no
	// payload.
	Err error
}

// Clone returns a deep copy of t. The copy owns its payload; mutating
// it never affects the directory the source tag belongs to.
func (t *Tag) Clone() *Tag {
	if t == nil {
		return nil
	}
	dup := *t
	dup.Num = slices.Clone(t.Num)
	dup.Data = slices.Clone(t.Data)
	return &dup
}

// NewASCIITag returns an ASCII tag holding s. The payload gets the
// trailing NUL the wire format requires, and Count includes it.
func NewASCIITag(id uint16, s string) *Tag {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return &Tag{ID: id, Type: TypeASCII, Count: uint32(len(b)), Data: b}
}

// Uint returns the i-th value of an unsigned integer tag
// (Byte, Short or Long).
func (t *Tag) Uint(i int) (uint32, error) {
	switch t.Type {
	case TypeByte, TypeShort, TypeLong:
	default:
		return 0, fmt.Errorf("tag 0x%04x: type %s is not an unsigned integer", t.ID, t.Type)
	}
	if err := t.checkIndex(i, t.Num); err != nil {
		return 0, err
	}
	return t.Num[i], nil
}

// Int returns the i-th value of a signed integer tag (SByte, SShort or
// SLong), sign-extended from its natural width.
func (t *Tag) Int(i int) (int32, error) {
	var width uint32
	switch t.Type {
	case TypeSByte, TypeSShort, TypeSLong:
		width = t.Type.Size()
	default:
		return 0, fmt.Errorf("tag 0x%04x: type %s is not a signed integer", t.ID, t.Type)
	}
	if err := t.checkIndex(i, t.Num); err != nil {
		return 0, err
	}
	v := t.Num[i]
	switch width {
	case 1:
		return int32(int8(uint8(v))), nil
	case 2:
		return int32(int16(uint16(v))), nil
	default:
		return int32(v), nil
	}
}

// Rat returns the i-th value of a Rational tag.
func (t *Tag) Rat(i int) (Rat[uint32], error) {
	if t.Type != TypeRational {
		return nil, fmt.Errorf("tag 0x%04x: type %s is not Rational", t.ID, t.Type)
	}
	if err := t.checkRatIndex(i); err != nil {
		return nil, err
	}
	return NewRat[uint32](t.Num[i*2], t.Num[i*2+1])
}

// SRat returns the i-th value of an SRational tag.
func (t *Tag) SRat(i int) (Rat[int32], error) {
	if t.Type != TypeSRational {
		return nil, fmt.Errorf("tag 0x%04x: type %s is not SRational", t.ID, t.Type)
	}
	if err := t.checkRatIndex(i); err != nil {
		return nil, err
	}
	return NewRat[int32](int32(t.Num[i*2]), int32(t.Num[i*2+1]))
}

// StringVal returns the value of an ASCII tag with any NUL padding
// removed.
func (t *Tag) StringVal() (string, error) {
	if t.Type != TypeASCII {
		return "", fmt.Errorf("tag 0x%04x: type %s is not ASCII", t.ID, t.Type)
	}
	if t.Err != nil {
		return "", fmt.Errorf("tag 0x%04x has no value: %w", t.ID, t.Err)
	}
	return string(trimBytesNulls(t.Data)), nil
}

func (t *Tag) checkIndex(i int, payload []uint32) error {
	if t.Err != nil {
		return fmt.Errorf("tag 0x%04x has no value: %w", t.ID, t.Err)
	}
	if i < 0 || i >= len(payload) {
		return fmt.Errorf("tag 0x%04x: index %d out of range (count %d)", t.ID, i, t.Count)
	}
	return nil
}

func (t *Tag) checkRatIndex(i int) error {
	if t.Err != nil {
		return fmt.Errorf("tag 0x%04x has no value: %w", t.ID, t.Err)
	}
	if i < 0 || i*2+1 >= len(t.Num) {
		return fmt.Errorf("tag 0x%04x: index %d out of range (count %d)", t.ID, i, t.Count)
	}
	return nil
}

package exif

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	byteOrderBigEndian    = 0x4d4d
	byteOrderLittleEndian = 0x4949

	tiffVersion   = 0x002a
	ifdRecordSize = 12
)

// tiffDecoder decodes the IFD tree of one Exif segment. It operates on
// an in-memory copy of the segment's TIFF block, so the offsets stored
// in the records map directly to reader positions.
type tiffDecoder struct {
	*streamReader
	opts Options

	// app1Length is the declared segment length from the JPEG framing.
	// Tag values cannot be larger than the segment that holds them, so
	// declared sizes are rejected against it before any allocation.
	app1Length uint16
}

func newTIFFDecoder(r io.ReadSeeker, app1Length uint16, opts Options) *tiffDecoder {
	// The byte order is a placeholder until the header resolves it.
	return &tiffDecoder{
		streamReader: newStreamReader(r, binary.BigEndian),
		opts:         opts,
		app1Length:   app1Length,
	}
}

// decodeHeader validates the TIFF header at the start of the block,
// resolves the byte order for everything that follows and returns the
// offset of the primary IFD.
func (d *tiffDecoder) decodeHeader() (uint32, error) {
	b, err := d.readBytesVolatileE(8)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidHeader, err)
	}

	// Both byte-order marks read the same under either order.
	bom := binary.BigEndian.Uint16(b[:2])
	switch bom {
	case byteOrderBigEndian:
		d.byteOrder = binary.BigEndian
	case byteOrderLittleEndian:
		d.byteOrder = binary.LittleEndian
	default:
		return 0, fmt.Errorf("%w: unknown byte order 0x%04x", ErrInvalidHeader, bom)
	}

	if v := d.byteOrder.Uint16(b[2:4]); v != tiffVersion {
		return 0, fmt.Errorf("%w: TIFF version 0x%04x", ErrInvalidHeader, v)
	}

	return d.byteOrder.Uint32(b[4:8]), nil
}

// decodeIFD decodes the directory at the given offset. A failure to
// read the tag count, a tag record or the next-IFD pointer aborts the
// whole directory; a failure to resolve a single tag's value does not.
func (d *tiffDecoder) decodeIFD(kind IfdKind, offset uint32) (dir *Directory, err error) {
	defer func() {
		if r := recover(); r != nil {
			if r != errStop {
				panic(r)
			}
			if err = d.streamErr(); err == nil {
				err = errShortRead
			}
			d.readErr = nil
			dir = nil
		}
	}()

	d.seek(int64(offset))
	tagCount := d.read2()
	if uint32(tagCount) > d.opts.LimitNumTags {
		return nil, fmt.Errorf("tag count %d exceeds limit %d", tagCount, d.opts.LimitNumTags)
	}

	dir = &Directory{Kind: kind, Tags: make([]*Tag, 0, tagCount), order: d.byteOrder}

	// The pointer to the next directory sits after the tag records.
	// Only the primary IFD's value is used, to find the thumbnail
	// directory.
	if kind == IfdPrimary {
		pos := d.pos()
		d.seek(int64(offset) + 2 + int64(tagCount)*ifdRecordSize)
		dir.NextOffset = d.read4()
		d.seek(pos)
	}

	for i := 0; i < int(tagCount); i++ {
		dir.Tags = append(dir.Tags, d.decodeTag())
	}

	return dir, nil
}

// decodeTag decodes the 12-byte record at the current position. Tags
// whose value cannot be retrieved are returned with Err set rather
// than dropped, so a directory always holds as many tags as its count
// declared. A failed record read panics via the stream reader.
func (d *tiffDecoder) decodeTag() *Tag {
	id := d.read2()
	typ := TagType(d.read2())
	count := d.read4()

	// Keep the raw value field; inline payloads are decoded from it
	// once the element width is known.
	var raw [4]byte
	copy(raw[:], d.readBytesVolatile(4))
	valueOffset := d.byteOrder.Uint32(raw[:])

	tag := &Tag{ID: id, Type: typ, Count: count}

	fail := func(err error) *Tag {
		d.opts.Warnf("exif: tag 0x%04x: %v", id, err)
		tag.Err = err
		tag.Num, tag.Data = nil, nil
		return tag
	}

	if !typ.valid() {
		return fail(fmt.Errorf("unknown tag type %d", typ))
	}
	if count == 0 {
		return fail(errors.New("zero count"))
	}

	switch typ {
	case TypeASCII, TypeUndefined:
		// Values of four bytes or fewer live in the value field
		// itself, longer ones at the stored offset.
		if count <= 4 {
			tag.Data = append([]byte(nil), raw[:count]...)
			return tag
		}
		if err := d.checkSize(uint64(count)); err != nil {
			return fail(err)
		}
		data := make([]byte, count)
		if err := d.fetch(valueOffset, data); err != nil {
			return fail(err)
		}
		tag.Data = data
		return tag

	case TypeRational, TypeSRational:
		// Rationals never fit inline. Each is a numerator and a
		// denominator, stored as consecutive uint32 slots.
		size := uint64(count) * 8
		if err := d.checkSize(size); err != nil {
			return fail(err)
		}
		buf := make([]byte, size)
		if err := d.fetch(valueOffset, buf); err != nil {
			return fail(err)
		}
		nums := make([]uint32, 2*count)
		for i := range nums {
			nums[i] = d.byteOrder.Uint32(buf[i*4:])
		}
		tag.Num = nums
		return tag

	default:
		elemSize := uint32(typ.Size())
		if count == 1 {
			var val uint32
			switch elemSize {
			case 1:
				val = uint32(raw[0])
			case 2:
				val = uint32(d.byteOrder.Uint16(raw[:2]))
			default:
				val = valueOffset
			}
			tag.Num = []uint32{val}
			return tag
		}

		// Every element widens to a uint32 slot, so the size guard
		// uses the widened length.
		if err := d.checkSize(uint64(count) * 4); err != nil {
			return fail(err)
		}
		nums := make([]uint32, count)
		wireLen := elemSize * count
		if wireLen <= 4 {
			for i := range nums {
				if elemSize == 1 {
					nums[i] = uint32(raw[i])
				} else {
					nums[i] = uint32(d.byteOrder.Uint16(raw[i*2:]))
				}
			}
		} else {
			buf := make([]byte, wireLen)
			if err := d.fetch(valueOffset, buf); err != nil {
				return fail(err)
			}
			for i := range nums {
				switch elemSize {
				case 1:
					nums[i] = uint32(buf[i])
				case 2:
					nums[i] = uint32(d.byteOrder.Uint16(buf[i*2:]))
				default:
					nums[i] = d.byteOrder.Uint32(buf[i*4:])
				}
			}
		}
		tag.Num = nums
		return tag
	}
}

// checkSize rejects value sizes that cannot fit inside the declared
// segment or that exceed the configured per-tag limit.
func (d *tiffDecoder) checkSize(n uint64) error {
	if n >= uint64(d.app1Length) {
		return fmt.Errorf("value size %d exceeds segment length %d", n, d.app1Length)
	}
	if n > uint64(d.opts.LimitTagSize) {
		return fmt.Errorf("value size %d exceeds limit %d", n, d.opts.LimitTagSize)
	}
	return nil
}

// fetch reads len(dst) bytes at the given TIFF-relative offset and
// restores the stream position afterwards.
func (d *tiffDecoder) fetch(offset uint32, dst []byte) error {
	return d.preservePos(func() error {
		d.seek(int64(offset))
		_, err := io.ReadFull(d.r, dst)
		return err
	})
}

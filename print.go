package exif

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	textunicode "golang.org/x/text/encoding/unicode"
)

const (
	tagUserComment = 0x9286
	tagXPTitle     = 0x9c9b
	tagXPSubject   = 0x9c9f
)

// The first eight bytes of a UserComment value name its character
// code.
var (
	userCommentASCII   = []byte("ASCII\x00\x00\x00")
	userCommentUnicode = []byte("UNICODE\x00")
)

// dumpNames maps directory kinds to the header labels used by Dump.
var dumpNames = map[IfdKind]string{
	IfdPrimary:   "0TH",
	IfdThumbnail: "1ST",
	IfdExif:      "EXIF",
	IfdGPS:       "GPS",
	IfdInterop:   "Interoperability",
}

// Dump writes a human-readable listing of every directory to w.
func (ds Directories) Dump(w io.Writer) {
	for _, d := range ds {
		d.Dump(w)
	}
}

// Dump writes the directory header and one block per tag to w, every
// element of each value rendered in its declared type. Tags whose
// value could not be retrieved show "(error)".
func (d *Directory) Dump(w io.Writer) {
	if d == nil {
		return
	}
	fmt.Fprintf(w, "\n{%s IFD} tags=%d\n", dumpNames[d.Kind], len(d.Tags))
	for i, t := range d.Tags {
		fmt.Fprintf(w, "tag[%02d] 0x%04X %s\n", i, t.ID, TagName(d.Kind, t.ID))
		fmt.Fprintf(w, "\ttype=%d count=%d val=", t.Type, t.Count)
		d.dumpValue(w, t)
		fmt.Fprintln(w)
	}
}

func (d *Directory) dumpValue(w io.Writer, t *Tag) {
	if t.Err != nil {
		fmt.Fprint(w, "(error)")
		return
	}

	if t.ID >= tagXPTitle && t.ID <= tagXPSubject {
		if s, ok := xpText(t); ok {
			fmt.Fprintf(w, "[%s]", s)
			return
		}
	}
	if t.ID == tagUserComment && t.Type == TypeUndefined {
		if s, ok := userCommentText(t.Data, d.order); ok {
			fmt.Fprintf(w, "[%s]", s)
			return
		}
	}

	switch t.Type {
	case TypeByte, TypeShort, TypeLong:
		for _, n := range t.Num {
			fmt.Fprintf(w, "%d ", n)
		}
	case TypeSByte:
		for _, n := range t.Num {
			fmt.Fprintf(w, "%d ", int8(uint8(n)))
		}
	case TypeSShort:
		for _, n := range t.Num {
			fmt.Fprintf(w, "%d ", int16(uint16(n)))
		}
	case TypeSLong:
		for _, n := range t.Num {
			fmt.Fprintf(w, "%d ", int32(n))
		}
	case TypeASCII:
		s, _, _ := bytes.Cut(t.Data, []byte{0})
		fmt.Fprintf(w, "[%s]", s)
	case TypeRational:
		for i := 0; i+1 < len(t.Num); i += 2 {
			fmt.Fprintf(w, "%d/%d ", t.Num[i], t.Num[i+1])
		}
	case TypeSRational:
		for i := 0; i+1 < len(t.Num); i += 2 {
			fmt.Fprintf(w, "%d/%d ", int32(t.Num[i]), int32(t.Num[i+1]))
		}
	case TypeUndefined:
		data := t.Data
		if len(data) > 16 {
			data = data[:16]
		}
		for _, c := range data {
			if c >= '!' && c <= '~' {
				fmt.Fprintf(w, "%c ", c)
			} else {
				fmt.Fprintf(w, "0x%02x ", c)
			}
		}
		if len(data) < len(t.Data) {
			fmt.Fprint(w, "(omitted)")
		}
	}
}

// xpText decodes the UTF-16LE payload Windows stores in the XP* tags.
func xpText(t *Tag) (string, bool) {
	var b []byte
	switch t.Type {
	case TypeUndefined:
		b = t.Data
	case TypeByte:
		b = make([]byte, len(t.Num))
		for i, n := range t.Num {
			b[i] = byte(n)
		}
	default:
		return "", false
	}
	if len(b) < 2 {
		return "", false
	}
	s, err := textunicode.UTF16(textunicode.LittleEndian, textunicode.IgnoreBOM).NewDecoder().Bytes(b)
	if err != nil {
		return "", false
	}
	return printableString(string(s)), true
}

// userCommentText resolves a UserComment against its declared
// character code. JIS and undeclared codes keep the raw rendering.
func userCommentText(data []byte, order binary.ByteOrder) (string, bool) {
	if len(data) < 8 {
		return "", false
	}
	prefix, rest := data[:8], data[8:]
	switch {
	case bytes.Equal(prefix, userCommentASCII):
		return printableString(string(trimBytesNulls(rest))), true
	case bytes.Equal(prefix, userCommentUnicode):
		endianness := textunicode.BigEndian
		if order == binary.LittleEndian {
			endianness = textunicode.LittleEndian
		}
		s, err := textunicode.UTF16(endianness, textunicode.IgnoreBOM).NewDecoder().Bytes(rest)
		if err != nil {
			return "", false
		}
		return printableString(string(s)), true
	}
	return "", false
}

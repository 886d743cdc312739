package frame

import (
	"strconv"
	"unicode/utf16"
	"unicode/utf8"
)

// Encoding selects how string fields are written to the wire.
type Encoding int

const (
	// Latin1 maps every UTF-16 code unit to a single byte by keeping its low
	// 8 bits, so characters outside the BMP take two bytes. Characters above
	// U+00FF are corrupted, but the bytes match what existing browser peers
	// produce.
	Latin1 Encoding = iota

	// UTF8 writes strings as raw UTF-8. Not understood by Latin-1 peers for
	// anything outside ASCII.
	UTF8
)

func (e Encoding) valid() bool {
	return e == Latin1 || e == UTF8
}

func (e Encoding) len(s string) int {
	if e == UTF8 {
		return len(s)
	}
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

func (e Encoding) append(dst []byte, s string) []byte {
	if e == UTF8 {
		return append(dst, s...)
	}
	for _, r := range s {
		if r1, r2 := utf16.EncodeRune(r); r1 != utf8.RuneError {
			dst = append(dst, byte(r1&0xff), byte(r2&0xff))
			continue
		}
		dst = append(dst, byte(r&0xff))
	}
	return dst
}

func (e Encoding) decode(b []byte) string {
	if e == UTF8 {
		return string(b)
	}
	return Latin1String(b)
}

// String returns the encoding name.
func (e Encoding) String() string {
	switch e {
	case Latin1:
		return "latin1"
	case UTF8:
		return "utf8"
	default:
		return "unknown(" + strconv.Itoa(int(e)) + ")"
	}
}

// ParseEncoding parses an encoding name as accepted in configuration files.
func ParseEncoding(name string) (Encoding, bool) {
	switch name {
	case "", "latin1", "latin-1", "binary":
		return Latin1, true
	case "utf8", "utf-8":
		return UTF8, true
	}
	return 0, false
}

// Latin1Bytes converts s to one byte per character.
func Latin1Bytes(s string) []byte {
	return Latin1.append(make([]byte, 0, len(s)), s)
}

// Latin1String converts bytes to a string holding one character per byte.
func Latin1String(b []byte) string {
	ascii := true
	for _, c := range b {
		if c >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	if ascii {
		return string(b)
	}

	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}

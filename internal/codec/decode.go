package codec

import (
	"bytes"

	"github.com/tala-robotics/sentinel/internal/sentinelerr"
)

// Decode parses the canonical encoding of a Value from b. It rejects any
// input that is not itself a canonical encoding: non-shortest-form integers
// or length headers, indefinite length, simple values other than true/false,
// map keys out of sorted order, and duplicate map keys all produce a
// *sentinelerr.Error with KindNonCanonical. Trailing bytes after the value
// also fail — Decode consumes exactly one value.
func Decode(b []byte) (Value, error) {
	d := &decoder{buf: b}
	v, err := d.readValue()
	if err != nil {
		return nil, err
	}
	if d.pos != len(d.buf) {
		return nil, sentinelerr.New(sentinelerr.KindNonCanonical, "trailing bytes after value")
	}
	return v, nil
}

// IsCanonical reports whether b is exactly the canonical encoding of some
// Value: decode must succeed and re-encoding the result must reproduce b
// byte-for-byte.
func IsCanonical(b []byte) bool {
	v, err := Decode(b)
	if err != nil {
		return false
	}
	return bytes.Equal(Encode(v), b)
}

type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) readByte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, sentinelerr.New(sentinelerr.KindDecodeError, "unexpected end of input")
	}
	c := d.buf[d.pos]
	d.pos++
	return c, nil
}

func (d *decoder) readN(n int) ([]byte, error) {
	if d.pos+n > len(d.buf) {
		return nil, sentinelerr.New(sentinelerr.KindDecodeError, "unexpected end of input")
	}
	out := d.buf[d.pos : d.pos+n]
	d.pos += n
	return out, nil
}

// readHeader parses a major/additional-info byte and returns the major
// type and the decoded length/value n, rejecting any non-minimal encoding
// of n (additional info 24-27 used when a smaller form would have sufficed)
// and any indefinite-length marker (additional info 31).
func (d *decoder) readHeader() (Major, uint64, error) {
	first, err := d.readByte()
	if err != nil {
		return 0, 0, err
	}
	major := Major(first >> 5)
	ai := first & 0x1F

	switch {
	case ai < 24:
		return major, uint64(ai), nil
	case ai == 24:
		b, err := d.readN(1)
		if err != nil {
			return 0, 0, err
		}
		n := uint64(b[0])
		if n < 24 {
			return 0, 0, sentinelerr.New(sentinelerr.KindNonCanonical, "non-minimal 1-byte length")
		}
		return major, n, nil
	case ai == 25:
		b, err := d.readN(2)
		if err != nil {
			return 0, 0, err
		}
		n := uint64(b[0])<<8 | uint64(b[1])
		if n <= 0xFF {
			return 0, 0, sentinelerr.New(sentinelerr.KindNonCanonical, "non-minimal 2-byte length")
		}
		return major, n, nil
	case ai == 26:
		b, err := d.readN(4)
		if err != nil {
			return 0, 0, err
		}
		n := uint64(b[0])<<24 | uint64(b[1])<<16 | uint64(b[2])<<8 | uint64(b[3])
		if n <= 0xFFFF {
			return 0, 0, sentinelerr.New(sentinelerr.KindNonCanonical, "non-minimal 4-byte length")
		}
		return major, n, nil
	case ai == 27:
		b, err := d.readN(8)
		if err != nil {
			return 0, 0, err
		}
		var n uint64
		for _, c := range b {
			n = n<<8 | uint64(c)
		}
		if n <= 0xFFFFFFFF {
			return 0, 0, sentinelerr.New(sentinelerr.KindNonCanonical, "non-minimal 8-byte length")
		}
		return major, n, nil
	default:
		return 0, 0, sentinelerr.New(sentinelerr.KindNonCanonical, "indefinite-length or reserved additional info")
	}
}

func (d *decoder) readValue() (Value, error) {
	major, n, err := d.readHeader()
	if err != nil {
		return nil, err
	}
	switch major {
	case MajorUint:
		return Uint(n), nil
	case MajorBytes:
		b, err := d.readN(int(n))
		if err != nil {
			return nil, err
		}
		return Bytes(append([]byte{}, b...)), nil
	case MajorText:
		b, err := d.readN(int(n))
		if err != nil {
			return nil, err
		}
		return Text(string(b)), nil
	case MajorSimple:
		switch n {
		case 20:
			return Bool(false), nil
		case 21:
			return Bool(true), nil
		default:
			return nil, sentinelerr.New(sentinelerr.KindNonCanonical, "unsupported simple value")
		}
	case MajorArray:
		arr := make(Array, 0, n)
		for i := uint64(0); i < n; i++ {
			v, err := d.readValue()
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		return arr, nil
	case MajorMap:
		m := make(Map, 0, n)
		var prevKeyBytes []byte
		for i := uint64(0); i < n; i++ {
			keyStart := d.pos
			key, err := d.readValue()
			if err != nil {
				return nil, err
			}
			switch key.(type) {
			case Uint, Text:
			default:
				return nil, sentinelerr.New(sentinelerr.KindNonCanonical, "map key must be uint or text")
			}
			keyBytes := d.buf[keyStart:d.pos]
			val, err := d.readValue()
			if err != nil {
				return nil, err
			}
			if prevKeyBytes != nil {
				cmp := bytes.Compare(keyBytes, prevKeyBytes)
				if cmp == 0 {
					return nil, sentinelerr.New(sentinelerr.KindNonCanonical, "duplicate map key")
				}
				if cmp < 0 {
					return nil, sentinelerr.New(sentinelerr.KindNonCanonical, "map keys out of canonical order")
				}
			}
			prevKeyBytes = append([]byte{}, keyBytes...)
			m = append(m, MapEntry{Key: key, Val: val})
		}
		return m, nil
	default:
		return nil, sentinelerr.New(sentinelerr.KindNonCanonical, "unsupported major type")
	}
}

package codec

import (
	"bytes"
	"sort"
)

// Encode writes the canonical encoding of v. Map entries are sorted by the
// canonical encoding of their Key before being written, so callers never
// need to pre-sort a Map themselves.
func Encode(v Value) []byte {
	var buf bytes.Buffer
	encodeValue(&buf, v)
	return buf.Bytes()
}

func encodeValue(buf *bytes.Buffer, v Value) {
	switch t := v.(type) {
	case Uint:
		buf.Write(encodeHeader(MajorUint, uint64(t)))
	case Bytes:
		buf.Write(encodeHeader(MajorBytes, uint64(len(t))))
		buf.Write(t)
	case Text:
		buf.Write(encodeHeader(MajorText, uint64(len(t))))
		buf.WriteString(string(t))
	case Bool:
		if t {
			buf.Write(encodeHeader(MajorSimple, 21))
		} else {
			buf.Write(encodeHeader(MajorSimple, 20))
		}
	case Array:
		buf.Write(encodeHeader(MajorArray, uint64(len(t))))
		for _, e := range t {
			encodeValue(buf, e)
		}
	case Map:
		keys := make([][]byte, len(t))
		entries := make([][]byte, len(t))
		for i, e := range t {
			var kbuf, vbuf bytes.Buffer
			encodeValue(&kbuf, e.Key)
			encodeValue(&vbuf, e.Val)
			keys[i] = kbuf.Bytes()
			entries[i] = append(kbuf.Bytes(), vbuf.Bytes()...)
		}
		order := make([]int, len(t))
		for i := range order {
			order[i] = i
		}
		sort.Slice(order, func(i, j int) bool {
			return bytes.Compare(keys[order[i]], keys[order[j]]) < 0
		})
		buf.Write(encodeHeader(MajorMap, uint64(len(t))))
		for _, i := range order {
			buf.Write(entries[i])
		}
	default:
		panic("codec: unknown Value type")
	}
}

// encodeHeader writes the major/additional-info byte plus any extra length
// bytes, always choosing the shortest representation of n (spec.md §4.1:
// "integers and length prefixes use the minimal number of bytes that can
// represent the value").
func encodeHeader(major Major, n uint64) []byte {
	m := byte(major) << 5
	switch {
	case n < 24:
		return []byte{m | byte(n)}
	case n <= 0xFF:
		return []byte{m | 24, byte(n)}
	case n <= 0xFFFF:
		return []byte{m | 25, byte(n >> 8), byte(n)}
	case n <= 0xFFFFFFFF:
		return []byte{
			m | 26,
			byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n),
		}
	default:
		return []byte{
			m | 27,
			byte(n >> 56), byte(n >> 48), byte(n >> 40), byte(n >> 32),
			byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n),
		}
	}
}

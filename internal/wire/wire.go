// Package wire defines the storage framing for cached entries.
//
// Every payload written through the orchestrator is framed with a magic,
// version and kind byte so that foreign writes and truncated bytes are
// detected on read (callers delete such entries and treat them as misses).
// The "null" kind is the cached-absent sentinel: it marks a key that was
// looked up and confirmed missing, and is distinguishable from any real
// payload — including payloads that happen to be empty or string-typed.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version   byte = 1
	kindValue byte = 1
	kindNull  byte = 2
)

var (
	ErrCorrupt = errors.New("surgecache: corrupt entry")
	magic4     = [...]byte{'S', 'R', 'G', 'C'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// EncodeValue frames a real payload:
// magic(4) | ver(1) | kind(1=value) | vlen(u32 be) | payload(vlen)
func EncodeValue(payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 4 + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindValue)

	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// EncodeNull frames the cached-absent sentinel:
// magic(4) | ver(1) | kind(1=null)
func EncodeNull() []byte {
	out := make([]byte, 0, 6)
	out = append(out, magic4[:]...)
	out = append(out, version, kindNull)
	return out
}

// Decode parses a framed entry. For a value entry it returns the payload
// with isNull=false; for the sentinel it returns (nil, true, nil).
func Decode(b []byte) (payload []byte, isNull bool, err error) {
	if len(b) < 6 || !hasMagic(b) || b[4] != version {
		return nil, false, ErrCorrupt
	}
	switch b[5] {
	case kindNull:
		if len(b) != 6 {
			return nil, false, ErrCorrupt
		}
		return nil, true, nil
	case kindValue:
		const hdr = 4 + 1 + 1 + 4
		if len(b) < hdr {
			return nil, false, ErrCorrupt
		}
		vlen := int(binary.BigEndian.Uint32(b[6:hdr]))
		if vlen != len(b)-hdr {
			return nil, false, ErrCorrupt
		}
		return b[hdr:], false, nil
	default:
		return nil, false, ErrCorrupt
	}
}

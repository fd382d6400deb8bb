package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const version byte = 1

var (
	ErrCorrupt = errors.New("respcache: corrupt entry")
	magic4     = [...]byte{'R', 'S', 'P', 'C'}
)

const hdrLen = 4 + 1 + 1 + 8 + 4 // magic | ver | flags | storedAt(u64 be) | vlen(u32 be)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Encode frames an encoded payload:
// magic(4) | ver(1) | flags(1, reserved 0) | storedAt unix-nanos(u64 be) | vlen(u32 be) | payload(vlen)
func Encode(storedAt time.Time, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(hdrLen + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(0)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], uint64(storedAt.UnixNano()))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// Decode validates the frame strictly: wrong magic/version, short buffers and
// trailing bytes are all ErrCorrupt.
func Decode(b []byte) (storedAt time.Time, payload []byte, err error) {
	if len(b) < hdrLen || !hasMagic(b) || b[4] != version {
		return time.Time{}, nil, ErrCorrupt
	}

	off := 6

	nanos := binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off {
		return time.Time{}, nil, ErrCorrupt
	}

	return time.Unix(0, int64(nanos)), b[off : off+vlen], nil
}

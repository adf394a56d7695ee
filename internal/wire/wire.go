package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
)

const (
	version byte = 1

	flagCompressed byte = 1 << 0
)

var (
	ErrCorrupt = errors.New("tiercache: corrupt entry")
	magic4     = [...]byte{'T', 'C', 'H', 'E'}
)

// Entry is the stored shape of a cached value: the serialized payload plus the
// metadata the engine needs to reason about it after a read (age, lifetime,
// tag memberships).
type Entry struct {
	CreatedAt time.Time
	TTL       time.Duration
	Tags      []string
	Payload   []byte
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// EncodeEntry frames an entry for storage:
//
//	magic(4) | ver(1) | flags(1) | createdAt unix(8 be) | ttlSecs(4 be) |
//	nTags(2 be) | { tagLen(2 be) | tag }*n | vlen(4 be) | payload(vlen)
//
// When compressMin > 0 and the payload is at least that many bytes, the
// payload is gzip-compressed and the compressed flag is set. Payloads below
// the threshold are stored as-is since compressing them would not pay for
// its own overhead.
//
// The frame uses 16-bit tag fields, so entries with empty tags, tags over
// 65535 bytes or more than 65535 tags are rejected rather than framed into
// something DecodeEntry would report as corrupt.
func EncodeEntry(e Entry, compressMin int) ([]byte, error) {
	if len(e.Tags) > 0xFFFF {
		return nil, fmt.Errorf("tiercache: entry has %d tags, frame limit is %d", len(e.Tags), 0xFFFF)
	}
	for _, t := range e.Tags {
		if l := len(t); l == 0 || l > 0xFFFF {
			return nil, fmt.Errorf("tiercache: tag length %d outside frame range [1, %d]", l, 0xFFFF)
		}
	}

	payload := e.Payload
	var flags byte
	if compressMin > 0 && len(payload) >= compressMin {
		if gz, ok := compress(payload); ok {
			payload = gz
			flags |= flagCompressed
		}
	}

	total := 4 + 1 + 1 + 8 + 4 + 2
	for _, t := range e.Tags {
		total += 2 + len(t)
	}
	total += 4 + len(payload)

	var buf bytes.Buffer
	buf.Grow(total)

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(flags)

	var u8 [8]byte
	var u4 [4]byte
	var u2 [2]byte

	binary.BigEndian.PutUint64(u8[:], uint64(e.CreatedAt.Unix()))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(e.TTL/time.Second))
	buf.Write(u4[:])

	binary.BigEndian.PutUint16(u2[:], uint16(len(e.Tags)))
	buf.Write(u2[:])

	for _, t := range e.Tags {
		binary.BigEndian.PutUint16(u2[:], uint16(len(t)))
		buf.Write(u2[:])
		buf.WriteString(t)
	}

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])
	buf.Write(payload)

	return buf.Bytes(), nil
}

// DecodeEntry parses a stored frame. Any structural violation returns
// ErrCorrupt; callers are expected to self-heal by deleting the entry.
func DecodeEntry(b []byte) (Entry, error) {
	const hdr = 4 + 1 + 1 + 8 + 4 + 2
	if len(b) < hdr || !hasMagic(b) || b[4] != version {
		return Entry{}, ErrCorrupt
	}
	flags := b[5]

	off := 6

	created := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	ttlSecs := binary.BigEndian.Uint32(b[off : off+4])
	off += 4

	nTags := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2

	var tags []string
	if nTags > 0 {
		tags = make([]string, 0, nTags)
	}
	for i := 0; i < nTags; i++ {
		if off+2 > len(b) {
			return Entry{}, ErrCorrupt
		}
		tlen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if tlen <= 0 || tlen > len(b)-off {
			return Entry{}, ErrCorrupt
		}
		tags = append(tags, string(b[off:off+tlen]))
		off += tlen
	}

	if off+4 > len(b) {
		return Entry{}, ErrCorrupt
	}
	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen > len(b)-off { // overflow-safe bound check
		return Entry{}, ErrCorrupt
	}
	payload := b[off : off+vlen]

	if flags&flagCompressed != 0 {
		raw, err := decompress(payload)
		if err != nil {
			return Entry{}, ErrCorrupt
		}
		payload = raw
	}

	return Entry{
		CreatedAt: time.Unix(created, 0),
		TTL:       time.Duration(ttlSecs) * time.Second,
		Tags:      tags,
		Payload:   payload,
	}, nil
}

// compress returns (compressed, true) only when gzip actually shrank the
// payload; otherwise the original is stored uncompressed.
func compress(b []byte) ([]byte, bool) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(b); err != nil {
		return nil, false
	}
	if err := w.Close(); err != nil {
		return nil, false
	}
	if buf.Len() >= len(b) {
		return nil, false
	}
	return buf.Bytes(), true
}

func decompress(b []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

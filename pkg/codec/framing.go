package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/golang/snappy"
	"google.golang.org/protobuf/encoding/protowire"
)

// Framing selects how record lengths are delimited on the wire.
type Framing int

const (
	// FramingBase128 prefixes each record with its length as a varint.
	FramingBase128 Framing = iota
	// FramingFixed32 prefixes each record with a 4-byte little-endian length.
	FramingFixed32
	// FramingFixed32BigEndian prefixes each record with a 4-byte big-endian length.
	FramingFixed32BigEndian
)

func (f Framing) String() string {
	switch f {
	case FramingBase128:
		return "base128"
	case FramingFixed32:
		return "fixed32"
	case FramingFixed32BigEndian:
		return "fixed32be"
	}
	return fmt.Sprintf("Framing(%d)", int(f))
}

// ParseFraming maps a configured framing name to a Framing.
func ParseFraming(s string) (Framing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "base128", "varint":
		return FramingBase128, nil
	case "fixed32":
		return FramingFixed32, nil
	case "fixed32be", "fixed32_big_endian":
		return FramingFixed32BigEndian, nil
	}
	return FramingBase128, fmt.Errorf("unknown framing %q", s)
}

// Compression selects the per-frame payload compression.
type Compression int

const (
	CompressionNone Compression = iota
	// CompressionSnappy stores each frame payload as a snappy block.
	CompressionSnappy
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	}
	return fmt.Sprintf("Compression(%d)", int(c))
}

// ParseCompression maps a configured compression name to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "snappy":
		return CompressionSnappy, nil
	}
	return CompressionNone, fmt.Errorf("unknown compression %q", s)
}

// DefaultMaxFrameSize bounds a single frame when no limit is configured.
const DefaultMaxFrameSize = 64 << 20

// Options configures framing for readers and writers.
type Options struct {
	Framing      Framing
	Compression  Compression
	MaxFrameSize int
}

func (o Options) maxFrameSize() int {
	if o.MaxFrameSize <= 0 {
		return DefaultMaxFrameSize
	}
	return o.MaxFrameSize
}

var (
	// ErrFrameTooLarge is returned when a frame exceeds the configured maximum,
	// either on the wire or once decompressed.
	ErrFrameTooLarge = errors.New("codec: frame exceeds maximum size")
	// ErrUnknownFraming is returned for an unsupported Framing value.
	ErrUnknownFraming = errors.New("codec: unknown framing")
)

// byteReader adapts an io.Reader to io.ByteReader one byte at a time, so the
// varint prefix never reads ahead of the frame.
type byteReader struct {
	r   io.Reader
	buf [1]byte
}

func (b *byteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(b.r, b.buf[:]); err != nil {
		return 0, err
	}
	return b.buf[0], nil
}

// readPrefix reads one length prefix. io.EOF is returned only when the
// stream ends cleanly before the first prefix byte.
func readPrefix(r io.Reader, br io.ByteReader, framing Framing, scratch []byte) (uint64, error) {
	switch framing {
	case FramingBase128:
		n, err := binary.ReadUvarint(br)
		if err != nil {
			return 0, err
		}
		return n, nil
	case FramingFixed32:
		if _, err := io.ReadFull(r, scratch[:4]); err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint32(scratch[:4])), nil
	case FramingFixed32BigEndian:
		if _, err := io.ReadFull(r, scratch[:4]); err != nil {
			return 0, err
		}
		return uint64(binary.BigEndian.Uint32(scratch[:4])), nil
	}
	return 0, ErrUnknownFraming
}

func appendPrefix(b []byte, framing Framing, n int) ([]byte, error) {
	switch framing {
	case FramingBase128:
		return protowire.AppendVarint(b, uint64(n)), nil
	case FramingFixed32:
		return binary.LittleEndian.AppendUint32(b, uint32(n)), nil
	case FramingFixed32BigEndian:
		return binary.BigEndian.AppendUint32(b, uint32(n)), nil
	}
	return nil, ErrUnknownFraming
}

func compress(dst, payload []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		return payload, nil
	case CompressionSnappy:
		return snappy.Encode(dst[:cap(dst)], payload), nil
	}
	return nil, fmt.Errorf("codec: unknown compression %v", c)
}

// decompress expands frame, refusing payloads that would decode to more
// than limit bytes.
func decompress(dst, frame []byte, c Compression, limit int) ([]byte, error) {
	switch c {
	case CompressionNone:
		return frame, nil
	case CompressionSnappy:
		n, err := snappy.DecodedLen(frame)
		if err != nil {
			return nil, fmt.Errorf("codec: snappy: %w", err)
		}
		if n > limit {
			return nil, fmt.Errorf("%w: decompressed %d > %d", ErrFrameTooLarge, n, limit)
		}
		out, err := snappy.Decode(dst[:cap(dst)], frame)
		if err != nil {
			return nil, fmt.Errorf("codec: snappy: %w", err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("codec: unknown compression %v", c)
}

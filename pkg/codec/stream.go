package codec

import (
	"errors"
	"fmt"
	"io"

	"github.com/arkilian/protoq/pkg/schema"
)

// Reader decodes length-framed records from a stream. It consumes exactly
// one frame per call and never reads ahead, so the underlying stream is
// positioned right after the last frame returned.
type Reader struct {
	r       io.Reader
	br      io.ByteReader
	opts    Options
	scratch [4]byte
	frame   []byte
	payload []byte

	frames int64
	bytes  int64
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader, opts Options) *Reader {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = &byteReader{r: r}
	}
	return &Reader{r: r, br: br, opts: opts}
}

// Options returns the reader's framing options.
func (r *Reader) Options() Options { return r.opts }

// Frames returns the number of frames read so far.
func (r *Reader) Frames() int64 { return r.frames }

// BytesRead returns the number of stream bytes consumed so far.
func (r *Reader) BytesRead() int64 { return r.bytes }

// next reads one frame and returns its decompressed payload, valid until the
// following call. io.EOF means the stream ended on a frame boundary.
func (r *Reader) next() ([]byte, error) {
	size, err := readPrefix(r.r, r.br, r.opts.Framing, r.scratch[:])
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("codec: read length prefix: %w", err)
	}
	if size > uint64(r.opts.maxFrameSize()) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, size, r.opts.maxFrameSize())
	}

	if cap(r.frame) < int(size) {
		r.frame = make([]byte, size)
	}
	r.frame = r.frame[:size]
	if _, err := io.ReadFull(r.r, r.frame); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("codec: read frame of %d bytes: %w", size, err)
	}
	r.frames++
	r.bytes += int64(size) + prefixLen(r.opts.Framing, size)

	payload, err := decompress(r.payload, r.frame, r.opts.Compression, r.opts.maxFrameSize())
	if err != nil {
		return nil, err
	}
	if r.opts.Compression != CompressionNone {
		r.payload = payload
	}
	return payload, nil
}

// Read decodes the next record as an instance of root's hierarchy. When
// reuse is non-nil the record is decoded into it; callers reset it first.
// Read returns io.EOF when the stream ends on a frame boundary.
func (r *Reader) Read(root *schema.Type, reuse *Record) (*Record, error) {
	payload, err := r.next()
	if err != nil {
		return nil, err
	}
	return Unmarshal(payload, root, reuse)
}

// ReadType consumes the next record and returns only its runtime type.
func (r *Reader) ReadType(root *schema.Type) (*schema.Type, error) {
	payload, err := r.next()
	if err != nil {
		return nil, err
	}
	return UnmarshalType(payload, root)
}

// Skip consumes the next frame without decoding it.
func (r *Reader) Skip() error {
	_, err := r.next()
	return err
}

func prefixLen(f Framing, size uint64) int64 {
	if f == FramingBase128 {
		n := int64(1)
		for size >= 0x80 {
			size >>= 7
			n++
		}
		return n
	}
	return 4
}

// Writer encodes records with length framing.
type Writer struct {
	w    io.Writer
	opts Options
	buf  []byte
	comp []byte
}

// NewWriter creates a Writer over w.
func NewWriter(w io.Writer, opts Options) *Writer {
	return &Writer{w: w, opts: opts}
}

// Write encodes rec as one frame.
func (w *Writer) Write(rec *Record) error {
	payload, err := appendRecord(w.buf[:0], rec)
	if err != nil {
		return err
	}
	w.buf = payload
	if len(payload) > w.opts.maxFrameSize() {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(payload), w.opts.maxFrameSize())
	}

	body, err := compress(w.comp, payload, w.opts.Compression)
	if err != nil {
		return err
	}
	if w.opts.Compression != CompressionNone {
		w.comp = body
	}
	if len(body) > w.opts.maxFrameSize() {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(body), w.opts.maxFrameSize())
	}

	var prefix [binaryMaxPrefix]byte
	head, err := appendPrefix(prefix[:0], w.opts.Framing, len(body))
	if err != nil {
		return err
	}
	if _, err := w.w.Write(head); err != nil {
		return fmt.Errorf("codec: write prefix: %w", err)
	}
	if _, err := w.w.Write(body); err != nil {
		return fmt.Errorf("codec: write frame: %w", err)
	}
	return nil
}

const binaryMaxPrefix = 10

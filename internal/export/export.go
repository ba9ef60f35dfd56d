// Package export encodes buffered frames with MsgPack.
//
// Streams use length-prefix framing: 4 bytes big-endian length followed by
// one MsgPack record, so readers can find record boundaries without a schema.
package export

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/delaycam/framebuffer"
)

// MaxRecordSize bounds a single record (a 4K RGBA frame plus metadata).
const MaxRecordSize = 64 << 20

// ErrRecordTooLarge is returned for records above MaxRecordSize.
var ErrRecordTooLarge = errors.New("export: record too large")

// Record is the wire form of a frame.
type Record struct {
	Seq         uint64 `msgpack:"seq"`
	TimestampNS int64  `msgpack:"ts_ns"`
	Width       int    `msgpack:"width"`
	Height      int    `msgpack:"height"`
	Format      string `msgpack:"format"`
	Source      string `msgpack:"source"`
	TraceID     string `msgpack:"trace_id"`
	Data        []byte `msgpack:"data"`
}

// Header precedes the frames of a snapshot.
type Header struct {
	SnapshotID string `msgpack:"snapshot_id"`
	Frames     int    `msgpack:"frames"`
	// Span is newest minus oldest timestamp in nanoseconds
	SpanNS    int64  `msgpack:"span_ns"`
	Window    string `msgpack:"window"`
	CreatedAt int64  `msgpack:"created_at"`
}

// NewRecord converts a frame. Data is shared, not copied.
func NewRecord(f framebuffer.Frame) Record {
	return Record{
		Seq:         f.Seq,
		TimestampNS: int64(f.Timestamp),
		Width:       f.Width,
		Height:      f.Height,
		Format:      f.Format,
		Source:      f.Source,
		TraceID:     f.TraceID,
		Data:        f.Data,
	}
}

// Frame converts the record back.
func (r Record) Frame() framebuffer.Frame {
	return framebuffer.Frame{
		Timestamp: time.Duration(r.TimestampNS),
		Data:      r.Data,
		Seq:       r.Seq,
		Width:     r.Width,
		Height:    r.Height,
		Format:    r.Format,
		Source:    r.Source,
		TraceID:   r.TraceID,
	}
}

// NewHeader describes a snapshot.
func NewHeader(id string, frames []framebuffer.Frame, window time.Duration) Header {
	h := Header{
		SnapshotID: id,
		Frames:     len(frames),
		Window:     window.String(),
		CreatedAt:  time.Now().UnixMilli(),
	}
	if len(frames) > 1 {
		h.SpanNS = int64(frames[len(frames)-1].Timestamp - frames[0].Timestamp)
	}
	return h
}

// MarshalFrame encodes one frame as a single MsgPack record.
func MarshalFrame(f framebuffer.Frame) ([]byte, error) {
	b, err := msgpack.Marshal(NewRecord(f))
	if err != nil {
		return nil, fmt.Errorf("export: marshal frame %d: %w", f.Seq, err)
	}
	return b, nil
}

// UnmarshalFrame decodes a record produced by MarshalFrame.
func UnmarshalFrame(b []byte) (framebuffer.Frame, error) {
	var r Record
	if err := msgpack.Unmarshal(b, &r); err != nil {
		return framebuffer.Frame{}, fmt.Errorf("export: unmarshal frame: %w", err)
	}
	return r.Frame(), nil
}

// MarshalHeader encodes a snapshot header as a single MsgPack record.
func MarshalHeader(h Header) ([]byte, error) {
	b, err := msgpack.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("export: marshal header: %w", err)
	}
	return b, nil
}

// UnmarshalHeader decodes a record produced by MarshalHeader.
func UnmarshalHeader(b []byte) (Header, error) {
	var h Header
	if err := msgpack.Unmarshal(b, &h); err != nil {
		return h, fmt.Errorf("export: unmarshal header: %w", err)
	}
	return h, nil
}

// Writer writes length-prefixed records.
type Writer struct {
	w      io.Writer
	prefix [4]byte
	count  int
}

// NewWriter returns a Writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteHeader writes a snapshot header record.
func (w *Writer) WriteHeader(h Header) error {
	b, err := MarshalHeader(h)
	if err != nil {
		return err
	}
	return w.writeRecord(b)
}

// WriteFrame writes one frame record.
func (w *Writer) WriteFrame(f framebuffer.Frame) error {
	b, err := MarshalFrame(f)
	if err != nil {
		return err
	}
	return w.writeRecord(b)
}

// WriteSnapshot writes a header followed by every frame.
func (w *Writer) WriteSnapshot(id string, frames []framebuffer.Frame, window time.Duration) error {
	if err := w.WriteHeader(NewHeader(id, frames, window)); err != nil {
		return err
	}
	for _, f := range frames {
		if err := w.WriteFrame(f); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of records written.
func (w *Writer) Count() int {
	return w.count
}

func (w *Writer) writeRecord(b []byte) error {
	if len(b) > MaxRecordSize {
		return fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, len(b))
	}
	binary.BigEndian.PutUint32(w.prefix[:], uint32(len(b)))
	if _, err := w.w.Write(w.prefix[:]); err != nil {
		return fmt.Errorf("export: write length prefix: %w", err)
	}
	if _, err := w.w.Write(b); err != nil {
		return fmt.Errorf("export: write record: %w", err)
	}
	w.count++
	return nil
}

// Reader reads length-prefixed records.
type Reader struct {
	r      io.Reader
	prefix [4]byte
}

// NewReader returns a Reader on r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// next returns the raw bytes of the next record. io.EOF means a clean end of
// stream; a partial record yields io.ErrUnexpectedEOF.
func (r *Reader) next() ([]byte, error) {
	if _, err := io.ReadFull(r.r, r.prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("export: read length prefix: %w", err)
	}

	n := binary.BigEndian.Uint32(r.prefix[:])
	if n > MaxRecordSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, n)
	}

	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("export: read record (%d bytes): %w", n, err)
	}
	return b, nil
}

// ReadHeader reads a snapshot header record.
func (r *Reader) ReadHeader() (Header, error) {
	b, err := r.next()
	if err != nil {
		return Header{}, err
	}
	return UnmarshalHeader(b)
}

// ReadFrame reads one frame record.
func (r *Reader) ReadFrame() (framebuffer.Frame, error) {
	b, err := r.next()
	if err != nil {
		return framebuffer.Frame{}, err
	}
	return UnmarshalFrame(b)
}

// ReadSnapshot reads a header and the frames it announces.
func (r *Reader) ReadSnapshot() (Header, []framebuffer.Frame, error) {
	h, err := r.ReadHeader()
	if err != nil {
		return h, nil, err
	}
	frames := make([]framebuffer.Frame, 0, h.Frames)
	for i := 0; i < h.Frames; i++ {
		f, err := r.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return h, frames, fmt.Errorf("export: snapshot %s frame %d/%d: %w", h.SnapshotID, i+1, h.Frames, err)
		}
		frames = append(frames, f)
	}
	return h, frames, nil
}

package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/hoedur/hoedur/internal/errs"
)

// Writer frames records as <kind byte><varint length><payload> and
// compresses the whole stream with zstd: a framed concatenation of
// length-prefixed records.
type Writer struct {
	enc *zstd.Encoder
}

// NewWriter wraps w, taking ownership: Close flushes and closes the
// zstd frame but does not close w itself.
func NewWriter(w io.Writer) (*Writer, error) {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return nil, errs.New(errs.ArchiveIO, "archive.NewWriter", err)
	}
	return &Writer{enc: enc}, nil
}

func (w *Writer) writeFrame(kind Kind, payload []byte) error {
	frame := make([]byte, 0, len(payload)+9)
	frame = append(frame, byte(kind))
	frame = protowire.AppendVarint(frame, uint64(len(payload)))
	frame = append(frame, payload...)
	if _, err := w.enc.Write(frame); err != nil {
		return errs.New(errs.ArchiveIO, "archive.Writer", fmt.Errorf("write %s record: %w", kind, err))
	}
	return nil
}

func (w *Writer) WriteHeader(h Header) error          { return w.writeFrame(KindHeader, encodeHeader(h)) }
func (w *Writer) WriteInput(r InputRecord) error       { return w.writeFrame(KindInput, encodeInput(r)) }
func (w *Writer) WriteCoverage(r CoverageRecord) error { return w.writeFrame(KindCoverage, encodeCoverage(r)) }
func (w *Writer) WriteCrash(r CrashRecord) error       { return w.writeFrame(KindCrash, encodeCrash(r)) }
func (w *Writer) WriteStats(r StatsRecord) error       { return w.writeFrame(KindStats, encodeStats(r)) }
func (w *Writer) WriteStreamTable(r StreamDefRecord) error {
	return w.writeFrame(KindStreamTable, encodeStreamDef(r))
}

// Close flushes and closes the zstd encoder.
func (w *Writer) Close() error {
	if err := w.enc.Close(); err != nil {
		return errs.New(errs.ArchiveIO, "archive.Writer.Close", err)
	}
	return nil
}

// Reader decodes frames written by Writer, one record at a time.
type Reader struct {
	dec *zstd.Decoder
	buf []byte
}

// NewReader wraps r, decompressing the whole zstd stream into memory
// up front; Next then walks the decompressed frames.
func NewReader(r io.Reader) (*Reader, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, errs.New(errs.ArchiveIO, "archive.NewReader", err)
	}
	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, errs.New(errs.ArchiveIO, "archive.NewReader", fmt.Errorf("decompress: %w", err))
	}
	return &Reader{dec: dec, buf: data}, nil
}

// Next returns the next record's kind and raw (still-encoded) payload.
// Callers dispatch to the matching decode* helper via the exported
// Decode* functions below. Returns io.EOF once the archive is exhausted.
func (r *Reader) Next() (Kind, []byte, error) {
	if len(r.buf) == 0 {
		return 0, nil, io.EOF
	}
	if len(r.buf) < 1 {
		return 0, nil, errs.New(errs.ArchiveIO, "archive.Reader.Next", fmt.Errorf("truncated record tag"))
	}
	kind := Kind(r.buf[0])
	rest := r.buf[1:]

	length, n := protowire.ConsumeVarint(rest)
	if n < 0 {
		return 0, nil, errs.New(errs.ArchiveIO, "archive.Reader.Next", fmt.Errorf("truncated record length"))
	}
	rest = rest[n:]

	if uint64(len(rest)) < length {
		return 0, nil, errs.New(errs.ArchiveIO, "archive.Reader.Next", fmt.Errorf("truncated record payload"))
	}
	payload := rest[:length]
	r.buf = rest[length:]
	return kind, payload, nil
}

// Close releases the zstd decoder.
func (r *Reader) Close() error {
	r.dec.Close()
	return nil
}

// DecodeHeader, DecodeInput, DecodeCoverage, DecodeCrash, and
// DecodeStats parse a record payload returned by Next once its Kind
// has been checked.
func DecodeHeader(payload []byte) (Header, error)     { return decodeHeader(payload) }
func DecodeInput(payload []byte) (InputRecord, error)  { return decodeInput(payload) }
func DecodeCoverage(payload []byte) (CoverageRecord, error) {
	return decodeCoverage(payload)
}
func DecodeCrash(payload []byte) (CrashRecord, error) { return decodeCrash(payload) }
func DecodeStats(payload []byte) (StatsRecord, error) { return decodeStats(payload) }
func DecodeStreamTable(payload []byte) (StreamDefRecord, error) {
	return decodeStreamDef(payload)
}

// ContentHash returns the SHA-256 of data, as hex. Archived Input
// records are keyed by their UUID; no record written by this package
// carries this hash.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

package commands

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/nfsstream/internal/cli/output"
	"github.com/marmos91/nfsstream/internal/cli/timeutil"
	"github.com/marmos91/nfsstream/internal/compress"
	"github.com/marmos91/nfsstream/internal/telemetry"
	"github.com/marmos91/nfsstream/pkg/stream"
)

// copyChunks is how many transfers one copy buffer spans.
const copyChunks = 4

// fileIO binds a stream.File to ctx so io.Copy stops when the command is
// interrupted.
type fileIO struct {
	ctx context.Context
	f   *stream.File
}

func (r fileIO) Read(p []byte) (int, error)  { return r.f.ReadContext(r.ctx, p) }
func (r fileIO) Write(p []byte) (int, error) { return r.f.WriteContext(r.ctx, p) }

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// transferResult summarizes one put or get.
type transferResult struct {
	Source      string         `json:"source" yaml:"source"`
	Destination string         `json:"destination" yaml:"destination"`
	Bytes       int64          `json:"bytes" yaml:"bytes"`
	WireBytes   int64          `json:"wire_bytes" yaml:"wire_bytes"`
	Compression compress.Codec `json:"compression" yaml:"compression"`
	DurationMs  int64          `json:"duration_ms" yaml:"duration_ms"`

	elapsed time.Duration
}

func newTransferResult(src, dst string, codec compress.Codec, bytes, wire int64, elapsed time.Duration) *transferResult {
	return &transferResult{
		Source:      src,
		Destination: dst,
		Bytes:       bytes,
		WireBytes:   wire,
		Compression: codec,
		DurationMs:  elapsed.Milliseconds(),
		elapsed:     elapsed,
	}
}

func (r *transferResult) Headers() []string { return nil }

func (r *transferResult) Rows() [][]string {
	kv := output.KeyValues{}.
		Add("Source", r.Source).
		Add("Destination", r.Destination).
		Add("Bytes", fmt.Sprintf("%d (%s)", r.Bytes, timeutil.FormatBytes(float64(r.Bytes))))
	if r.Compression != compress.None {
		kv = kv.Add("Compression", string(r.Compression)).
			Add("Wire bytes", fmt.Sprintf("%d (%s)", r.WireBytes, timeutil.FormatBytes(float64(r.WireBytes))))
	}
	kv = kv.Add("Duration", timeutil.FormatDuration(r.elapsed)).
		Add("Rate", timeutil.FormatRate(r.Bytes, r.elapsed))
	return kv.Rows()
}

func copyBuffer(f *stream.File) []byte {
	return make([]byte, f.MaxTransfer()*copyChunks)
}

// parseMode parses an octal permission string such as "0644".
func parseMode(s string) (uint32, error) {
	m, err := strconv.ParseUint(s, 8, 32)
	if err != nil || m > 0o7777 {
		return 0, fmt.Errorf("invalid mode %q: want octal permissions such as 0644", s)
	}
	return uint32(m), nil
}

// startTransfer opens the span that parents every RPC of one put, get or
// cat. Files opened under the returned context log its trace ID.
func startTransfer(ctx context.Context, op, remote string) (context.Context, trace.Span) {
	return telemetry.StartSpan(ctx, telemetry.SpanCLITransfer, trace.WithAttributes(
		telemetry.StreamOperation(op),
		telemetry.NFSPath(remote),
	))
}

// endTransfer records the outcome on span and ends it.
func endTransfer(ctx context.Context, span trace.Span, bytes int64, err error) {
	telemetry.SetAttributes(ctx, telemetry.StreamBytes(bytes))
	telemetry.RecordError(ctx, err)
	span.End()
}

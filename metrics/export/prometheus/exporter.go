package prometheus

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/metrics/export/internaldefs"
)

// Source is what the exporter reads on every scrape. *goGate.Engine
// satisfies it.
type Source interface {
	MetricsSnapshot() goGate.MetricsSnapshot
	AuditDropped() uint64
}

// Exporter renders engine metrics in the Prometheus text exposition format.
type Exporter struct {
	source Source
}

func New(source Source) *Exporter {
	return &Exporter{source: source}
}

// Handler serves the current metrics. It answers 204 when metrics are off.
func (e *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		var buf bytes.Buffer
		if n, _ := e.WriteTo(&buf); n == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = buf.WriteTo(w)
	})
}

// Render returns the exposition text, or "" when there is nothing to report.
func (e *Exporter) Render() string {
	var b strings.Builder
	_, _ = e.WriteTo(&b)
	return b.String()
}

// WriteTo writes the exposition text to w.
func (e *Exporter) WriteTo(w io.Writer) (int64, error) {
	if e == nil || e.source == nil {
		return 0, nil
	}
	snap := e.source.MetricsSnapshot()
	dropped := e.source.AuditDropped()
	if len(snap.Counters) == 0 && len(snap.Histograms) == 0 && dropped == 0 {
		return 0, nil
	}

	cw := &countingWriter{w: bufio.NewWriterSize(w, 4096)}
	for _, def := range internaldefs.CounterDefs {
		writeCounter(cw, def.Name, def.Help, snap.Counters[def.ID])
	}
	for _, def := range internaldefs.HistogramDefs {
		raw, ok := snap.Histograms[def.ID]
		if !ok {
			continue
		}
		writeHistogram(cw, def.Name, def.Help, internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw)))
	}
	writeCounter(cw, internaldefs.AuditDropped.Name, internaldefs.AuditDropped.Help, dropped)

	if cw.err == nil {
		cw.err = cw.w.Flush()
	}
	return cw.n, cw.err
}

type countingWriter struct {
	w   *bufio.Writer
	n   int64
	err error
}

func (c *countingWriter) str(parts ...string) {
	for _, p := range parts {
		if c.err != nil {
			return
		}
		n, err := c.w.WriteString(p)
		c.n += int64(n)
		c.err = err
	}
}

func writeHeader(c *countingWriter, name, help, kind string) {
	c.str("# HELP ", name, " ", escapeHelp(help), "\n")
	c.str("# TYPE ", name, " ", kind, "\n")
}

func writeCounter(c *countingWriter, name, help string, value uint64) {
	writeHeader(c, name, help, "counter")
	c.str(name, " ", strconv.FormatUint(value, 10), "\n")
}

func writeHistogram(c *countingWriter, name, help string, cumulative [8]uint64) {
	writeHeader(c, name, help, "histogram")
	for i, le := range internaldefs.HistogramBounds {
		c.str(name, `_bucket{le="`, le, `"} `, strconv.FormatUint(cumulative[i], 10), "\n")
	}
	// Bucket counts are all the engine keeps; the sum is reported as zero.
	c.str(name, "_sum 0\n")
	c.str(name, "_count ", strconv.FormatUint(cumulative[len(cumulative)-1], 10), "\n")
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, `\`, `\\`)
	return strings.ReplaceAll(help, "\n", `\n`)
}

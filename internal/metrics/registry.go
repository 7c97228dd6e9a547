// Package metrics holds the relay's counters and renders them in the
// Prometheus text exposition format.
package metrics

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Default is the registry the relay metrics below are registered on.
var Default = NewRegistry()

var (
	events     = Default.CounterVec("warelay_session_events_total", "Session events received", "kind")
	deliveries = Default.CounterVec("warelay_deliveries_total", "Sink delivery attempts", "sink", "result")

	EventsDropped    = Default.Counter("warelay_events_dropped_total", "Session events dropped before delivery")
	MessagesFiltered = Default.Counter("warelay_messages_filtered_total", "Group messages rejected by the whitelist")
	SessionConnected = Default.Gauge("warelay_session_connected", "1 while the chat session is authenticated")
	DeliveryLatency  = Default.Histogram("warelay_delivery_seconds", "Sink POST latency in seconds",
		[]float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15})
)

// Event counts session events by kind (qr, ready, message).
func Event(kind string) *Counter { return events.With(kind) }

// Delivery counts delivery attempts by sink (ingest, qr) and result (ok, failed).
func Delivery(sink, result string) *Counter { return deliveries.With(sink, result) }

type family interface {
	write(w io.Writer)
}

// Registry renders its metric families in registration order.
type Registry struct {
	mu       sync.Mutex
	names    map[string]bool
	families []family
}

func NewRegistry() *Registry {
	return &Registry{names: make(map[string]bool)}
}

func (r *Registry) register(name string, f family) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.names[name] {
		panic("metrics: duplicate family " + name)
	}
	r.names[name] = true
	r.families = append(r.families, f)
}

type desc struct {
	name, help, kind string
}

func (d desc) header(w io.Writer) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", d.name, d.help, d.name, d.kind)
}

// Counter only goes up.
type Counter struct {
	value atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Value() int64 { return c.value.Load() }

type counterFamily struct {
	desc
	c Counter
}

func (f *counterFamily) write(w io.Writer) {
	f.header(w)
	fmt.Fprintf(w, "%s %d\n", f.name, f.c.Value())
}

func (r *Registry) Counter(name, help string) *Counter {
	f := &counterFamily{desc: desc{name, help, "counter"}}
	r.register(name, f)
	return &f.c
}

// CounterVec is a counter family partitioned by label values.
type CounterVec struct {
	desc
	labels []string

	mu     sync.Mutex
	series map[string]*Counter
}

func (r *Registry) CounterVec(name, help string, labels ...string) *CounterVec {
	v := &CounterVec{desc: desc{name, help, "counter"}, labels: labels, series: make(map[string]*Counter)}
	r.register(name, v)
	return v
}

// With returns the counter for values, given in label order.
func (v *CounterVec) With(values ...string) *Counter {
	if len(values) != len(v.labels) {
		panic(fmt.Sprintf("metrics: %s takes %d label values, got %d", v.name, len(v.labels), len(values)))
	}
	key := labelString(v.labels, values)
	v.mu.Lock()
	defer v.mu.Unlock()
	c, ok := v.series[key]
	if !ok {
		c = &Counter{}
		v.series[key] = c
	}
	return c
}

func (v *CounterVec) write(w io.Writer) {
	v.mu.Lock()
	keys := make([]string, 0, len(v.series))
	for k := range v.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]int64, len(keys))
	for i, k := range keys {
		values[i] = v.series[k].Value()
	}
	v.mu.Unlock()

	if len(keys) == 0 {
		return
	}
	v.header(w)
	for i, k := range keys {
		fmt.Fprintf(w, "%s{%s} %d\n", v.name, k, values[i])
	}
}

// Gauge holds the last value set.
type Gauge struct {
	desc
	value atomic.Int64
}

func (r *Registry) Gauge(name, help string) *Gauge {
	g := &Gauge{desc: desc{name, help, "gauge"}}
	r.register(name, g)
	return g
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Value() int64 { return g.value.Load() }

func (g *Gauge) write(w io.Writer) {
	g.header(w)
	fmt.Fprintf(w, "%s %d\n", g.name, g.Value())
}

// Histogram counts observations into fixed upper bounds.
type Histogram struct {
	desc
	bounds []float64

	mu     sync.Mutex
	counts []int64 // per bound, not cumulative
	count  int64
	sum    float64
}

func (r *Registry) Histogram(name, help string, bounds []float64) *Histogram {
	bounds = append([]float64(nil), bounds...)
	sort.Float64s(bounds)
	h := &Histogram{desc: desc{name, help, "histogram"}, bounds: bounds, counts: make([]int64, len(bounds))}
	r.register(name, h)
	return h
}

func (h *Histogram) Observe(v float64) {
	i := sort.SearchFloat64s(h.bounds, v)
	h.mu.Lock()
	defer h.mu.Unlock()
	if i < len(h.counts) {
		h.counts[i]++
	}
	h.count++
	h.sum += v
}

func (h *Histogram) write(w io.Writer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.header(w)
	var cumulative int64
	for i, le := range h.bounds {
		cumulative += h.counts[i]
		fmt.Fprintf(w, "%s_bucket{le=%q} %d\n", h.name, strconv.FormatFloat(le, 'g', -1, 64), cumulative)
	}
	fmt.Fprintf(w, "%s_bucket{le=\"+Inf\"} %d\n", h.name, h.count)
	fmt.Fprintf(w, "%s_sum %s\n", h.name, strconv.FormatFloat(h.sum, 'g', -1, 64))
	fmt.Fprintf(w, "%s_count %d\n", h.name, h.count)
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func labelString(names, values []string) string {
	var sb strings.Builder
	for i, n := range names {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(n)
		sb.WriteString(`="`)
		sb.WriteString(labelEscaper.Replace(values[i]))
		sb.WriteByte('"')
	}
	return sb.String()
}

// WriteTo renders every family in the text exposition format.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	r.mu.Lock()
	families := append([]family(nil), r.families...)
	r.mu.Unlock()

	cw := &countingWriter{w: bufio.NewWriter(w)}
	for _, f := range families {
		f.write(cw)
	}
	if err := cw.w.Flush(); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WriteTo(rw)
	})
}

type countingWriter struct {
	w *bufio.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

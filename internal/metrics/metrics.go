// Package metrics exposes prometheus instrumentation for storage drivers.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/starford/timedline/internal/models"
	"github.com/starford/timedline/internal/storage"
)

// Metrics owns a registry and the driver collectors registered in it.
type Metrics struct {
	reg        *prometheus.Registry
	ops        *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	generation prometheus.Gauge
}

// New creates a registry with process and Go runtime collectors plus the
// driver metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timedline_driver_operations_total",
			Help: "Storage driver operations by driver, operation and result.",
		}, []string{"driver", "op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "timedline_driver_operation_duration_seconds",
			Help:    "Storage driver operation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"driver", "op"}),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timedline_driver_generation",
			Help: "Generation of the active storage driver binding.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ops, m.duration, m.generation,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// ObserveSwap records the active binding's generation.
func (m *Metrics) ObserveSwap(b storage.Binding) {
	m.generation.Set(float64(b.Generation))
}

func (m *Metrics) observe(driver, op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ops.WithLabelValues(driver, op, result).Inc()
	m.duration.WithLabelValues(driver, op).Observe(time.Since(start).Seconds())
}

// Driver wraps a storage.Driver and records every call.
type Driver struct {
	next storage.Driver
	m    *Metrics
}

var _ storage.Driver = (*Driver)(nil)

// Instrument wraps d.
func (m *Metrics) Instrument(d storage.Driver) *Driver {
	return &Driver{next: d, m: m}
}

// Unwrap returns the wrapped driver.
func (d *Driver) Unwrap() storage.Driver { return d.next }

func (d *Driver) Name() string { return d.next.Name() }

func (d *Driver) CurrentUser(ctx context.Context) (*models.User, error) {
	return d.next.CurrentUser(ctx)
}

func (d *Driver) UploadFile(ctx context.Context, f storage.File) (*models.Attachment, error) {
	start := time.Now()
	a, err := d.next.UploadFile(ctx, f)
	d.m.observe(d.Name(), "upload_file", start, err)
	return a, err
}

func (d *Driver) CreateEntry(ctx context.Context, e models.Entry) error {
	start := time.Now()
	err := d.next.CreateEntry(ctx, e)
	d.m.observe(d.Name(), "create_entry", start, err)
	return err
}

func (d *Driver) ListEntries(ctx context.Context) ([]models.Entry, error) {
	start := time.Now()
	list, err := d.next.ListEntries(ctx)
	d.m.observe(d.Name(), "list_entries", start, err)
	return list, err
}

func (d *Driver) DeleteEntry(ctx context.Context, ts int64, attachmentKey string) error {
	start := time.Now()
	err := d.next.DeleteEntry(ctx, ts, attachmentKey)
	d.m.observe(d.Name(), "delete_entry", start, err)
	return err
}

func (d *Driver) LogActivity(ctx context.Context, item models.ActivityItem) error {
	start := time.Now()
	err := d.next.LogActivity(ctx, item)
	d.m.observe(d.Name(), "log_activity", start, err)
	return err
}

func (d *Driver) ListActivity(ctx context.Context) ([]models.ActivityItem, error) {
	start := time.Now()
	items, err := d.next.ListActivity(ctx)
	d.m.observe(d.Name(), "list_activity", start, err)
	return items, err
}

// DiscardUpload forwards to the wrapped driver when it supports it.
func (d *Driver) DiscardUpload(ctx context.Context, a models.Attachment) error {
	dd, ok := d.next.(storage.UploadDiscarder)
	if !ok {
		return nil
	}
	start := time.Now()
	err := dd.DiscardUpload(ctx, a)
	d.m.observe(d.Name(), "discard_upload", start, err)
	return err
}

func (d *Driver) ResolveAttachment(ctx context.Context, a models.Attachment) (string, error) {
	start := time.Now()
	url, err := d.next.ResolveAttachment(ctx, a)
	d.m.observe(d.Name(), "resolve_attachment", start, err)
	return url, err
}

package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/GoSim-25-26J-441/drp-planner/pkg/models"
)

// Collector collects per-step training metrics. It is safe for concurrent
// use so a monitoring endpoint can read while the training loop records.
type Collector struct {
	mu sync.RWMutex

	startTime time.Time
	endTime   time.Time

	// metric name -> label key -> points in recording order
	series map[string]map[string][]*models.MetricPoint
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		series:    make(map[string]map[string][]*models.MetricPoint),
	}
}

// Start marks the start of collection.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startTime = time.Now()
	c.endTime = time.Time{}
}

// Stop marks the end of collection.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endTime = time.Now()
}

// Record stores the value of a metric at a training step.
func (c *Collector) Record(name string, step int, value float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := labelKey(labels)
	if c.series[name] == nil {
		c.series[name] = make(map[string][]*models.MetricPoint)
	}
	c.series[name][key] = append(c.series[name][key], &models.MetricPoint{
		Timestamp: time.Now(),
		Step:      step,
		Name:      name,
		Value:     value,
		Labels:    copyLabels(labels),
	})
}

// Series returns a copy of the points of a metric for one label set.
func (c *Collector) Series(name string, labels map[string]string) []*models.MetricPoint {
	c.mu.RLock()
	defer c.mu.RUnlock()

	points := c.points(name, labelKey(labels))
	if points == nil {
		return nil
	}
	out := make([]*models.MetricPoint, len(points))
	for i, p := range points {
		cp := *p
		cp.Labels = copyLabels(p.Labels)
		out[i] = &cp
	}
	return out
}

// Values returns the values of a metric for one label set in step order.
func (c *Collector) Values(name string, labels map[string]string) []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return values(c.points(name, labelKey(labels)))
}

// Last returns the most recent point of a metric, if any.
func (c *Collector) Last(name string, labels map[string]string) (*models.MetricPoint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	points := c.points(name, labelKey(labels))
	if len(points) == 0 {
		return nil, false
	}
	cp := *points[len(points)-1]
	cp.Labels = copyLabels(cp.Labels)
	return &cp, true
}

// Aggregation summarizes a metric for one label set. It returns nil when
// nothing was recorded.
func (c *Collector) Aggregation(name string, labels map[string]string) *models.Aggregation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return aggregate(values(c.points(name, labelKey(labels))))
}

// Summary returns every metric's values across all label sets together
// with their aggregation.
func (c *Collector) Summary() *models.MetricsSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	end := c.endTime
	if end.IsZero() {
		end = time.Now()
	}
	summary := &models.MetricsSummary{
		StartTime:    c.startTime,
		EndTime:      c.endTime,
		Duration:     end.Sub(c.startTime),
		Metrics:      make(map[string][]float64, len(c.series)),
		Aggregations: make(map[string]*models.Aggregation, len(c.series)),
	}
	for name, byLabels := range c.series {
		keys := make([]string, 0, len(byLabels))
		for key := range byLabels {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		var all []float64
		for _, key := range keys {
			all = append(all, values(byLabels[key])...)
		}
		summary.Metrics[name] = all
		if agg := aggregate(all); agg != nil {
			summary.Aggregations[name] = agg
		}
	}
	return summary
}

// Names returns the recorded metric names in sorted order.
func (c *Collector) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.series))
	for name := range c.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Labels returns every label set recorded for a metric.
func (c *Collector) Labels(name string) []map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []map[string]string
	for _, points := range c.series[name] {
		if len(points) > 0 {
			out = append(out, copyLabels(points[0].Labels))
		}
	}
	return out
}

// Clear drops every recorded point.
func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.series = make(map[string]map[string][]*models.MetricPoint)
	c.startTime = time.Now()
	c.endTime = time.Time{}
}

// points returns the stored slice; the caller must hold the lock.
func (c *Collector) points(name, key string) []*models.MetricPoint {
	if c.series[name] == nil {
		return nil
	}
	return c.series[name][key]
}

func values(points []*models.MetricPoint) []float64 {
	if len(points) == 0 {
		return nil
	}
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}

func labelKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte(',')
	}
	return b.String()
}

func copyLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

// aggregate computes count, sum, extremes, mean, sample standard deviation
// and nearest-rank percentiles.
func aggregate(xs []float64) *models.Aggregation {
	if len(xs) == 0 {
		return nil
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	agg := &models.Aggregation{
		Count: int64(len(sorted)),
		Sum:   sum,
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  stat.Mean(sorted, nil),
		P50:   stat.Quantile(0.50, stat.Empirical, sorted, nil),
		P95:   stat.Quantile(0.95, stat.Empirical, sorted, nil),
		P99:   stat.Quantile(0.99, stat.Empirical, sorted, nil),
	}
	if len(sorted) > 1 {
		agg.StdDev = stat.StdDev(sorted, nil)
	}
	return agg
}

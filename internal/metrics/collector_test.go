package metrics

import (
	"math"
	"sync"
	"testing"
	"time"
)

func TestNewCollector(t *testing.T) {
	c := NewCollector()
	if c == nil {
		t.Fatalf("expected non-nil collector")
	}
	if len(c.Names()) != 0 {
		t.Fatalf("expected no metrics in a new collector")
	}
}

func TestCollectorRecordAndSeries(t *testing.T) {
	c := NewCollector()
	c.Start()

	c.Record(MetricLoss, 0, 10.0, nil)
	c.Record(MetricLoss, 1, 20.0, nil)
	c.Record(MetricLoss, 2, 30.0, nil)

	points := c.Series(MetricLoss, nil)
	if len(points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(points))
	}
	for i, want := range []float64{10, 20, 30} {
		if points[i].Value != want || points[i].Step != i {
			t.Fatalf("point %d: got step %d value %f", i, points[i].Step, points[i].Value)
		}
	}

	points[0].Value = -1
	if c.Values(MetricLoss, nil)[0] != 10 {
		t.Fatalf("expected Series to return a copy")
	}

	last, ok := c.Last(MetricLoss, nil)
	if !ok || last.Step != 2 || last.Value != 30 {
		t.Fatalf("unexpected last point %+v", last)
	}
	if _, ok := c.Last("missing", nil); ok {
		t.Fatalf("expected no last point for an unknown metric")
	}
}

func TestCollectorRecordWithLabels(t *testing.T) {
	c := NewCollector()
	labels := ParamLabels("hidden/0/kernel")

	c.Record(MetricGradientNorm, 0, 1.5, labels)
	c.Record(MetricGradientNorm, 0, 2.5, ParamLabels("hidden/0/bias"))

	points := c.Series(MetricGradientNorm, labels)
	if len(points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(points))
	}
	if points[0].Labels["param"] != "hidden/0/kernel" {
		t.Fatalf("expected param label, got %v", points[0].Labels)
	}
	if n := len(c.Labels(MetricGradientNorm)); n != 2 {
		t.Fatalf("expected 2 label sets, got %d", n)
	}
	if c.Series(MetricGradientNorm, nil) != nil {
		t.Fatalf("expected no unlabelled points")
	}
}

func TestCollectorAggregation(t *testing.T) {
	c := NewCollector()
	for i, v := range []float64{10, 20, 30, 40, 50} {
		c.Record(MetricAvgReward, i, v, nil)
	}

	agg := c.Aggregation(MetricAvgReward, nil)
	if agg == nil {
		t.Fatalf("expected non-nil aggregation")
	}
	if agg.Count != 5 || agg.Sum != 150 {
		t.Fatalf("unexpected count/sum %d/%f", agg.Count, agg.Sum)
	}
	if agg.Min != 10 || agg.Max != 50 || agg.Mean != 30 {
		t.Fatalf("unexpected min/max/mean %f/%f/%f", agg.Min, agg.Max, agg.Mean)
	}
	if agg.P50 != 30 {
		t.Fatalf("expected P50 30, got %f", agg.P50)
	}
	if math.Abs(agg.StdDev-math.Sqrt(250)) > 1e-9 {
		t.Fatalf("expected sample stddev %f, got %f", math.Sqrt(250), agg.StdDev)
	}

	if c.Aggregation("nonexistent", nil) != nil {
		t.Fatalf("expected nil aggregation for non-existent metric")
	}
}

func TestCollectorPercentiles(t *testing.T) {
	c := NewCollector()
	for i := 0; i < 100; i++ {
		c.Record(MetricLoss, i, float64(i+1), nil)
	}

	agg := c.Aggregation(MetricLoss, nil)
	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"p50", agg.P50, 50},
		{"p95", agg.P95, 95},
		{"p99", agg.P99, 99},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if math.Abs(tt.got-tt.want) > 1 {
				t.Errorf("expected %s near %f, got %f", tt.name, tt.want, tt.got)
			}
		})
	}
}

func TestCollectorSummary(t *testing.T) {
	c := NewCollector()
	c.Start()

	c.Record("metric1", 0, 10.0, nil)
	c.Record("metric1", 1, 20.0, map[string]string{"run": "a"})
	c.Record("metric2", 0, 30.0, nil)

	time.Sleep(10 * time.Millisecond)
	c.Stop()

	summary := c.Summary()
	if len(summary.Metrics["metric1"]) != 2 {
		t.Fatalf("expected 2 values for metric1, got %d", len(summary.Metrics["metric1"]))
	}
	if summary.Aggregations["metric1"].Mean != 15 {
		t.Fatalf("expected metric1 mean 15, got %f", summary.Aggregations["metric1"].Mean)
	}
	if summary.Duration <= 0 {
		t.Fatalf("expected positive duration, got %v", summary.Duration)
	}
}

func TestCollectorNamesAndClear(t *testing.T) {
	c := NewCollector()
	c.Record("b", 0, 1, nil)
	c.Record("a", 0, 1, nil)

	names := c.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("expected sorted names [a b], got %v", names)
	}

	c.Clear()
	if len(c.Names()) != 0 {
		t.Fatalf("expected 0 metric names after clear")
	}
}

func TestCollectorConcurrentAccess(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c.Record(MetricLoss, i, float64(i), RunLabels("r"))
				_ = c.Summary()
			}
		}(w)
	}
	wg.Wait()

	if agg := c.Aggregation(MetricLoss, RunLabels("r")); agg == nil || agg.Count != 400 {
		t.Fatalf("expected 400 points, got %+v", agg)
	}
}

func TestBestSoFar(t *testing.T) {
	c := NewCollector()
	for i, v := range []float64{-5, -7, -3, -4, -1} {
		c.Record(MetricAvgReward, i, v, nil)
	}
	want := []float64{-5, -5, -3, -3, -1}
	got := BestSoFar(c, MetricAvgReward, nil)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("BestSoFar = %v, want %v", got, want)
		}
	}
}

// Package trace writes training traces as TensorBoard event files. Each run
// directory holds a train/ stream with one entry per step and a test/
// stream with an entry per reward improvement.
package trace

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultBins is the histogram resolution used by Writer.Histogram.
const DefaultBins = 30

// Writer appends events to a single event file.
type Writer struct {
	mu   sync.Mutex
	f    *os.File
	buf  *bufio.Writer
	path string
}

// NewWriter creates dir and a fresh event file inside it.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create trace directory: %w", err)
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	pattern := fmt.Sprintf("events.out.tfevents.%d.%s.*", time.Now().Unix(), strings.ReplaceAll(host, string(os.PathSeparator), "_"))
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("create event file: %w", err)
	}

	w := &Writer{f: f, buf: bufio.NewWriter(f), path: f.Name()}
	if err := w.write(&Event{WallTime: wallTime(), FileVersion: FileVersion}); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func wallTime() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// Path returns the event file path.
func (w *Writer) Path() string {
	return w.path
}

func (w *Writer) write(e *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return os.ErrClosed
	}
	return writeRecord(w.buf, e.Marshal())
}

// Write appends a summary event holding values at step.
func (w *Writer) Write(step int, values ...Value) error {
	return w.write(&Event{WallTime: wallTime(), Step: int64(step), Values: values})
}

// Scalar appends a single scalar summary.
func (w *Writer) Scalar(step int, tag string, v float64) error {
	return w.Write(step, Value{Tag: tag, Scalar: v})
}

// Histogram appends a histogram summary of xs. Empty input is skipped.
func (w *Writer) Histogram(step int, tag string, xs []float64) error {
	h := NewHistogram(xs, DefaultBins)
	if h == nil {
		return nil
	}
	return w.Write(step, Value{Tag: tag, Histo: h})
}

// Flush pushes buffered events to the file.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	return w.buf.Flush()
}

// Close flushes and closes the event file. It is safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.buf.Flush()
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	w.f = nil
	return err
}

// NewHistogram buckets xs into evenly spaced bins between its minimum and
// maximum. It returns nil for empty input.
func NewHistogram(xs []float64, bins int) *Histogram {
	if len(xs) == 0 {
		return nil
	}
	if bins < 1 {
		bins = 1
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)

	lo, hi := sorted[0], sorted[len(sorted)-1]
	if lo == hi {
		bins = 1
	}
	dividers := make([]float64, bins+1)
	floats.Span(dividers, lo, math.Nextafter(hi, math.Inf(1)))
	dividers[bins] = math.Nextafter(hi, math.Inf(1))

	counts := stat.Histogram(nil, dividers, sorted, nil)
	return &Histogram{
		Min:        lo,
		Max:        hi,
		Num:        float64(len(sorted)),
		Sum:        floats.Sum(sorted),
		SumSquares: floats.Dot(sorted, sorted),
		Limits:     dividers[1:],
		Buckets:    counts,
	}
}

// Run pairs the train and test streams of one training run.
type Run struct {
	Dir   string
	Train *Writer
	Test  *Writer
}

// Subdirectories of a run directory.
const (
	TrainDir = "train"
	TestDir  = "test"
)

// OpenRun creates {dir}/train and {dir}/test event files.
func OpenRun(dir string) (*Run, error) {
	train, err := NewWriter(filepath.Join(dir, TrainDir))
	if err != nil {
		return nil, err
	}
	test, err := NewWriter(filepath.Join(dir, TestDir))
	if err != nil {
		train.Close()
		return nil, err
	}
	return &Run{Dir: dir, Train: train, Test: test}, nil
}

// Close closes both streams.
func (r *Run) Close() error {
	err := r.Train.Close()
	if terr := r.Test.Close(); err == nil {
		err = terr
	}
	return err
}

// ReadFile decodes every event in an event file, verifying checksums.
func ReadFile(path string) ([]*Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var events []*Event
	for {
		data, err := readRecord(r)
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%s: record %d: %w", path, len(events), err)
		}
		e, err := UnmarshalEvent(data)
		if err != nil {
			return nil, fmt.Errorf("%s: event %d: %w", path, len(events), err)
		}
		events = append(events, e)
	}
}

// Files lists the event files in dir in name order.
func Files(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "events.out.tfevents.*"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

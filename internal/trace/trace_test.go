package trace

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestRecordRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payloads := [][]byte{[]byte("first"), {}, bytes.Repeat([]byte{0xab}, 300)}
	for _, p := range payloads {
		if err := writeRecord(&buf, p); err != nil {
			t.Fatalf("writeRecord failed: %v", err)
		}
	}
	for i, want := range payloads {
		got, err := readRecord(&buf)
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("record %d: got %q, want %q", i, got, want)
		}
	}
}

func TestRecordDetectsCorruption(t *testing.T) {
	var buf bytes.Buffer
	if err := writeRecord(&buf, []byte("payload")); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	data[14] ^= 0xff

	if _, err := readRecord(bytes.NewReader(data)); !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}
}

func TestMaskedCRCKnownValue(t *testing.T) {
	// crc32c("123456789") is 0xe3069283
	crc := uint32(0xe3069283)
	want := ((crc >> 15) | (crc << 17)) + 0xa282ead8
	if got := maskedCRC([]byte("123456789")); got != want {
		t.Errorf("maskedCRC = %#x, want %#x", got, want)
	}
}

func TestNewHistogram(t *testing.T) {
	if NewHistogram(nil, 10) != nil {
		t.Error("expected nil histogram for empty input")
	}

	xs := []float64{3, 1, 2, 2, 5}
	h := NewHistogram(xs, 4)
	if h.Min != 1 || h.Max != 5 || h.Num != 5 {
		t.Errorf("unexpected bounds %+v", h)
	}
	if h.Sum != 13 || h.SumSquares != 43 {
		t.Errorf("unexpected sums %v, %v", h.Sum, h.SumSquares)
	}
	total := 0.0
	for _, c := range h.Buckets {
		total += c
	}
	if total != 5 || len(h.Buckets) != 4 || len(h.Limits) != 4 {
		t.Errorf("unexpected buckets %v limits %v", h.Buckets, h.Limits)
	}

	flat := NewHistogram([]float64{7, 7, 7}, 10)
	if len(flat.Buckets) != 1 || flat.Buckets[0] != 3 {
		t.Errorf("expected one full bucket for constant input, got %v", flat.Buckets)
	}
}

func TestOpenRunWritesReadableEvents(t *testing.T) {
	dir := t.TempDir()
	run, err := OpenRun(dir)
	if err != nil {
		t.Fatalf("OpenRun failed: %v", err)
	}
	if err := run.Train.Write(0, Value{Tag: "loss", Scalar: 1.5}, Value{Tag: "avg_total_reward", Scalar: -3}); err != nil {
		t.Fatal(err)
	}
	if err := run.Train.Histogram(1, "total_reward", []float64{-1, -2, -3}); err != nil {
		t.Fatal(err)
	}
	if err := run.Test.Scalar(0, "loss", 1.5); err != nil {
		t.Fatal(err)
	}
	if err := run.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := run.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
	if err := run.Train.Scalar(2, "loss", 0); !errors.Is(err, os.ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}

	files, err := Files(filepath.Join(dir, TrainDir))
	if err != nil || len(files) != 1 {
		t.Fatalf("expected one train event file, got %v (%v)", files, err)
	}
	events, err := ReadFile(files[0])
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].FileVersion != FileVersion {
		t.Errorf("expected file version first, got %q", events[0].FileVersion)
	}
	scalars := events[1].Values
	if len(scalars) != 2 || scalars[0].Tag != "loss" || scalars[0].Scalar != 1.5 || scalars[1].Scalar != -3 {
		t.Errorf("unexpected scalar values %+v", scalars)
	}
	histo := events[2].Values[0].Histo
	if events[2].Step != 1 || histo == nil || histo.Num != 3 || math.Abs(histo.Sum-(-6)) > 1e-12 {
		t.Errorf("unexpected histogram event %+v", events[2])
	}

	testFiles, err := Files(filepath.Join(dir, TestDir))
	if err != nil || len(testFiles) != 1 {
		t.Fatalf("expected one test event file, got %v (%v)", testFiles, err)
	}
}

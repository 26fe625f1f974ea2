package trace

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of tensorflow.Event, Summary, Summary.Value and
// HistogramProto.
const (
	eventWallTime    = 1
	eventStep        = 2
	eventFileVersion = 3
	eventSummary     = 5

	summaryValue = 1

	valueTag    = 1
	valueSimple = 2
	valueHisto  = 5

	histoMin        = 1
	histoMax        = 2
	histoNum        = 3
	histoSum        = 4
	histoSumSquares = 5
	histoLimits     = 6
	histoBuckets    = 7
)

// FileVersion is written as the first event of every file.
const FileVersion = "brain.Event:2"

// Histogram is a bucketed distribution. Bucket i counts values below
// Limits[i] and at or above the previous limit.
type Histogram struct {
	Min, Max, Num, Sum, SumSquares float64
	Limits                         []float64
	Buckets                        []float64
}

// Value is one tagged summary entry: a scalar or a histogram.
type Value struct {
	Tag    string
	Scalar float64
	Histo  *Histogram
}

// Event is one entry of an event file.
type Event struct {
	WallTime    float64
	Step        int64
	FileVersion string
	Values      []Value
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendPackedDoubles(b []byte, num protowire.Number, vs []float64) []byte {
	if len(vs) == 0 {
		return b
	}
	packed := make([]byte, 0, 8*len(vs))
	for _, v := range vs {
		packed = protowire.AppendFixed64(packed, math.Float64bits(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func (h *Histogram) marshal() []byte {
	var b []byte
	b = appendDouble(b, histoMin, h.Min)
	b = appendDouble(b, histoMax, h.Max)
	b = appendDouble(b, histoNum, h.Num)
	b = appendDouble(b, histoSum, h.Sum)
	b = appendDouble(b, histoSumSquares, h.SumSquares)
	b = appendPackedDoubles(b, histoLimits, h.Limits)
	return appendPackedDoubles(b, histoBuckets, h.Buckets)
}

func (v Value) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, valueTag, protowire.BytesType)
	b = protowire.AppendString(b, v.Tag)
	if v.Histo != nil {
		b = protowire.AppendTag(b, valueHisto, protowire.BytesType)
		return protowire.AppendBytes(b, v.Histo.marshal())
	}
	// simple_value is a float field
	b = protowire.AppendTag(b, valueSimple, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(float32(v.Scalar)))
}

// Marshal encodes the event as a tensorflow.Event message.
func (e *Event) Marshal() []byte {
	var b []byte
	b = appendDouble(b, eventWallTime, e.WallTime)
	b = protowire.AppendTag(b, eventStep, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Step))
	if e.FileVersion != "" {
		b = protowire.AppendTag(b, eventFileVersion, protowire.BytesType)
		b = protowire.AppendString(b, e.FileVersion)
	}
	if len(e.Values) > 0 {
		var summary []byte
		for _, v := range e.Values {
			summary = protowire.AppendTag(summary, summaryValue, protowire.BytesType)
			summary = protowire.AppendBytes(summary, v.marshal())
		}
		b = protowire.AppendTag(b, eventSummary, protowire.BytesType)
		b = protowire.AppendBytes(b, summary)
	}
	return b
}

// fields walks the top-level fields of a message.
func fields(b []byte, visit func(num protowire.Number, typ protowire.Type, field []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return protowire.ParseError(m)
		}
		if err := visit(num, typ, b[:m]); err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}

func parseDouble(field []byte) (float64, error) {
	v, n := protowire.ConsumeFixed64(field)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return math.Float64frombits(v), nil
}

func parseBytes(field []byte) ([]byte, error) {
	v, n := protowire.ConsumeBytes(field)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}
	return v, nil
}

func parsePackedDoubles(field []byte) ([]float64, error) {
	packed, err := parseBytes(field)
	if err != nil {
		return nil, err
	}
	if len(packed)%8 != 0 {
		return nil, fmt.Errorf("packed doubles of length %d", len(packed))
	}
	out := make([]float64, 0, len(packed)/8)
	for len(packed) > 0 {
		v, _ := protowire.ConsumeFixed64(packed)
		out = append(out, math.Float64frombits(v))
		packed = packed[8:]
	}
	return out, nil
}

func unmarshalHistogram(b []byte) (*Histogram, error) {
	h := &Histogram{}
	err := fields(b, func(num protowire.Number, typ protowire.Type, field []byte) (err error) {
		switch num {
		case histoMin:
			h.Min, err = parseDouble(field)
		case histoMax:
			h.Max, err = parseDouble(field)
		case histoNum:
			h.Num, err = parseDouble(field)
		case histoSum:
			h.Sum, err = parseDouble(field)
		case histoSumSquares:
			h.SumSquares, err = parseDouble(field)
		case histoLimits:
			h.Limits, err = parsePackedDoubles(field)
		case histoBuckets:
			h.Buckets, err = parsePackedDoubles(field)
		}
		return err
	})
	return h, err
}

func unmarshalValue(b []byte) (Value, error) {
	var v Value
	err := fields(b, func(num protowire.Number, typ protowire.Type, field []byte) error {
		switch num {
		case valueTag:
			s, n := protowire.ConsumeString(field)
			if n < 0 {
				return protowire.ParseError(n)
			}
			v.Tag = s
		case valueSimple:
			f, n := protowire.ConsumeFixed32(field)
			if n < 0 {
				return protowire.ParseError(n)
			}
			v.Scalar = float64(math.Float32frombits(f))
		case valueHisto:
			raw, err := parseBytes(field)
			if err != nil {
				return err
			}
			if v.Histo, err = unmarshalHistogram(raw); err != nil {
				return err
			}
		}
		return nil
	})
	return v, err
}

// UnmarshalEvent decodes a tensorflow.Event message.
func UnmarshalEvent(b []byte) (*Event, error) {
	e := &Event{}
	err := fields(b, func(num protowire.Number, typ protowire.Type, field []byte) (err error) {
		switch num {
		case eventWallTime:
			e.WallTime, err = parseDouble(field)
		case eventStep:
			v, n := protowire.ConsumeVarint(field)
			if n < 0 {
				return protowire.ParseError(n)
			}
			e.Step = int64(v)
		case eventFileVersion:
			s, n := protowire.ConsumeString(field)
			if n < 0 {
				return protowire.ParseError(n)
			}
			e.FileVersion = s
		case eventSummary:
			summary, err := parseBytes(field)
			if err != nil {
				return err
			}
			return fields(summary, func(num protowire.Number, typ protowire.Type, field []byte) error {
				if num != summaryValue {
					return nil
				}
				raw, err := parseBytes(field)
				if err != nil {
					return err
				}
				v, err := unmarshalValue(raw)
				if err != nil {
					return err
				}
				e.Values = append(e.Values, v)
				return nil
			})
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

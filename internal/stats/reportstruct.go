package stats

import (
	"time"

	"github.com/geopm/geopmd/internal/geopmerr"
)

// NameMax is the Linux NAME_MAX bound a fixed C buffer field must fit
// within (excluding the trailing NUL a C string adds).
const NameMax = 255

// MetricStruct is one metric's rendered fields, the typed-field twin of
// the per-metric block ReportYAML emits.
type MetricStruct struct {
	Name                             string
	Count                            uint64
	First, Last, Min, Max, Mean, Std float64
}

// ReportStruct is ReportYAML's content as typed Go fields, for callers
// that want to assemble their own wire format rather than parse the
// rendered YAML text.
type ReportStruct struct {
	HostName  string
	TimeBegin time.Time
	TimeEnd   time.Time
	Metrics   []MetricStruct
}

// ReportStruct returns the collector's current state as typed fields,
// the same content ReportYAML renders to text.
func (c *Collector) ReportStruct() (ReportStruct, error) {
	snapshots, err := c.snapshot()
	if err != nil {
		return ReportStruct{}, err
	}
	metrics := make([]MetricStruct, len(snapshots))
	for i, s := range snapshots {
		metrics[i] = MetricStruct{
			Name: s.name, Count: s.count,
			First: s.first, Last: s.last, Min: s.min, Max: s.max, Mean: s.mean, Std: s.std,
		}
	}
	return ReportStruct{
		HostName:  c.hostname,
		TimeBegin: c.timeBegin,
		TimeEnd:   time.Now(),
		Metrics:   metrics,
	}, nil
}

// FixedMetric mirrors MetricStruct with Name copied into a NAME_MAX
// buffer, for FFI callers expecting a C char[NAME_MAX] layout.
type FixedMetric struct {
	Name  [NameMax]byte
	Count uint64

	First, Last, Min, Max, Mean, Std float64
}

// FixedReport mirrors ReportStruct with every name field copied into a
// NAME_MAX buffer.
type FixedReport struct {
	HostName           [NameMax]byte
	TimeBegin, TimeEnd time.Time
	Metrics            []FixedMetric
}

// ToFixed converts r into fixed-size C-buffer form. Any name that
// doesn't fit in NAME_MAX bytes (leaving room for the C string's
// trailing NUL) fails with NameTooLong rather than being silently
// truncated.
func (r ReportStruct) ToFixed() (FixedReport, error) {
	hostBuf, err := encodeFixedName(r.HostName)
	if err != nil {
		return FixedReport{}, err
	}

	metrics := make([]FixedMetric, len(r.Metrics))
	for i, m := range r.Metrics {
		nameBuf, err := encodeFixedName(m.Name)
		if err != nil {
			return FixedReport{}, err
		}
		metrics[i] = FixedMetric{
			Name: nameBuf, Count: m.Count,
			First: m.First, Last: m.Last, Min: m.Min, Max: m.Max, Mean: m.Mean, Std: m.Std,
		}
	}

	return FixedReport{
		HostName:  hostBuf,
		TimeBegin: r.TimeBegin,
		TimeEnd:   r.TimeEnd,
		Metrics:   metrics,
	}, nil
}

func encodeFixedName(name string) ([NameMax]byte, error) {
	var buf [NameMax]byte
	if len(name) >= NameMax {
		return buf, geopmerr.New(geopmerr.NameTooLong, "report_struct.to_fixed", name)
	}
	copy(buf[:], name)
	return buf, nil
}

// ReportString renders the report into buf, GEOPM's C-string export
// convention: buf must hold the rendered text plus a trailing NUL; if
// it doesn't, no bytes are written and the required size is returned
// alongside a BufferTooSmall error so the caller can retry with a
// larger buffer.
func (c *Collector) ReportString(buf []byte) (int, error) {
	text, err := c.ReportYAML()
	if err != nil {
		return 0, err
	}
	needed := len(text) + 1
	if len(buf) < needed {
		return needed, geopmerr.New(geopmerr.BufferTooSmall, "report_string", "")
	}
	n := copy(buf, text)
	buf[n] = 0
	return needed, nil
}

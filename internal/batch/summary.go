package batch

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"Go2NetLogger/internal/model"
)

// Count is one value and how often it occurs.
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Summary describes a set of batch files as a dataset.
type Summary struct {
	Files      int       `json:"files"`
	Records    int       `json:"records"`
	First      time.Time `json:"first"`
	Last       time.Time `json:"last"`
	Sources    int       `json:"unique_sources"`
	Dests      int       `json:"unique_dests"`
	Labels     []Count   `json:"labels"`
	Tags       []Count   `json:"tags"`
	Protocols  []Count   `json:"protocols"`
	TopPorts   []Count   `json:"top_dest_ports"`
	TopSources []Count   `json:"top_sources"`
	PerMinute  struct {
		Mean float64 `json:"mean"`
		Max  int     `json:"max"`
		Min  int     `json:"min"`
	} `json:"per_minute"`
}

// Summarizer accumulates records file by file.
type Summarizer struct {
	top int

	files     int
	records   int
	first     time.Time
	last      time.Time
	labels    map[string]int
	tags      map[string]int
	protocols map[string]int
	ports     map[string]int
	sources   map[string]int
	dests     map[string]int
	minutes   map[int64]int
}

// NewSummarizer keeps the top n ports and sources.
func NewSummarizer(top int) *Summarizer {
	return &Summarizer{
		top:       top,
		labels:    make(map[string]int),
		tags:      make(map[string]int),
		protocols: make(map[string]int),
		ports:     make(map[string]int),
		sources:   make(map[string]int),
		dests:     make(map[string]int),
		minutes:   make(map[int64]int),
	}
}

// AddFile reads one batch file into the summary.
func (s *Summarizer) AddFile(path string) error {
	recs, err := ReadRecords(path)
	if err != nil {
		return err
	}
	s.files++
	s.Add(recs)
	return nil
}

// Add folds records into the summary.
func (s *Summarizer) Add(recs []model.EventRecord) {
	for _, r := range recs {
		s.records++
		if s.first.IsZero() || r.ObservedAt.Before(s.first) {
			s.first = r.ObservedAt
		}
		if r.ObservedAt.After(s.last) {
			s.last = r.ObservedAt
		}
		s.labels[r.ClassLabel]++
		s.tags[r.Tag]++
		s.protocols[r.Protocol]++
		s.ports[fmt.Sprint(r.DestPort)]++
		s.sources[r.SourceAddress]++
		s.dests[r.DestAddress]++
		s.minutes[r.ObservedAt.Unix()/60]++
	}
}

// Summary returns the accumulated view.
func (s *Summarizer) Summary() Summary {
	sum := Summary{
		Files:      s.files,
		Records:    s.records,
		First:      s.first,
		Last:       s.last,
		Sources:    len(s.sources),
		Dests:      len(s.dests),
		Labels:     ranked(s.labels, 0),
		Tags:       ranked(s.tags, 0),
		Protocols:  ranked(s.protocols, 0),
		TopPorts:   ranked(s.ports, s.top),
		TopSources: ranked(s.sources, s.top),
	}
	if len(s.minutes) > 0 {
		// Minutes without events inside the range count as zero.
		lo, hi := s.first.Unix()/60, s.last.Unix()/60
		span := int(hi-lo) + 1
		sum.PerMinute.Min = -1
		for m := lo; m <= hi; m++ {
			n := s.minutes[m]
			if n > sum.PerMinute.Max {
				sum.PerMinute.Max = n
			}
			if sum.PerMinute.Min < 0 || n < sum.PerMinute.Min {
				sum.PerMinute.Min = n
			}
		}
		sum.PerMinute.Mean = float64(s.records) / float64(span)
	}
	return sum
}

func ranked(m map[string]int, top int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if top > 0 && len(out) > top {
		out = out[:top]
	}
	return out
}

var portNames = map[string]string{
	"21": "FTP", "22": "SSH", "53": "DNS", "80": "HTTP",
	"443": "HTTPS", "8080": "HTTP-Alt", "6667": "IRC",
}

// Print renders the summary as the plain-text report.
func (sum Summary) Print(w io.Writer) {
	fmt.Fprintln(w, "=== BASIC STATISTICS ===")
	fmt.Fprintf(w, "Batch files: %d\n", sum.Files)
	fmt.Fprintf(w, "Total events: %d\n", sum.Records)
	if sum.Records > 0 {
		fmt.Fprintf(w, "Time range: %s to %s\n", sum.First.Format(time.RFC3339), sum.Last.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Unique source IPs: %d\n", sum.Sources)
	fmt.Fprintf(w, "Unique destination IPs: %d\n", sum.Dests)

	section := func(title string, counts []Count, label func(string) string) {
		fmt.Fprintf(w, "\n=== %s ===\n", title)
		for _, c := range counts {
			pct := 0.0
			if sum.Records > 0 {
				pct = 100 * float64(c.Count) / float64(sum.Records)
			}
			fmt.Fprintf(w, "%-25s: %6d (%5.2f%%)\n", label(c.Key), c.Count, pct)
		}
	}
	plain := func(k string) string { return k }
	section("CLASS LABELS", sum.Labels, plain)
	section("TAG DISTRIBUTION", sum.Tags, plain)
	section("PROTOCOL ANALYSIS", sum.Protocols, plain)
	section("TOP TARGETED PORTS", sum.TopPorts, func(k string) string {
		name, ok := portNames[k]
		if !ok {
			name = "Unknown"
		}
		return fmt.Sprintf("Port %5s (%s)", k, name)
	})
	section("TOP SOURCES", sum.TopSources, plain)

	fmt.Fprintln(w, "\n=== TIME SERIES ANALYSIS ===")
	fmt.Fprintf(w, "Average events per minute: %.2f\n", sum.PerMinute.Mean)
	fmt.Fprintf(w, "Max events per minute: %d\n", sum.PerMinute.Max)
	fmt.Fprintf(w, "Min events per minute: %d\n", sum.PerMinute.Min)
	fmt.Fprintln(w, strings.Repeat("=", 40))
}

package util

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/HdrHistogram/hdrhistogram-go"
)

type RateHistOpts struct {
	Name string

	// Values outside [Min, Max] kbit/s are clamped.
	Min       int64
	Max       int64
	Precision int

	// Bins holding less than MinPct percent of the samples are not drawn.
	MinPct float64
}

func DefaultRateHistOpts(name string) RateHistOpts {
	return RateHistOpts{
		Name:      name,
		Min:       1,
		Max:       100_000_000, // 100 Gbit/s
		Precision: 2,
		MinPct:    1,
	}
}

// RateHist accumulates rate samples in kbit/s and renders a percentile report.
type RateHist struct {
	opts  RateHistOpts
	hdr   *hdrhistogram.Histogram
	stats *OnlineStats
}

func NewRateHist(opts RateHistOpts) *RateHist {
	return &RateHist{
		opts:  opts,
		hdr:   hdrhistogram.New(opts.Min, opts.Max, opts.Precision),
		stats: NewOnlineStats(),
	}
}

func (h *RateHist) Add(kbps ...uint64) {
	for _, v := range kbps {
		x := int64(v)
		if v > math.MaxInt64 || x > h.opts.Max {
			x = h.opts.Max
		}
		if x < h.opts.Min {
			x = h.opts.Min
		}
		_ = h.hdr.RecordValue(x)
		h.stats.Add(float64(v))
	}
}

func (h *RateHist) Count() int64 {
	return h.hdr.TotalCount()
}

func (h *RateHist) Percentile(p float64) int64 {
	return h.hdr.ValueAtPercentile(p)
}

func (h *RateHist) Stats() Result {
	return h.stats.Result()
}

func (h *RateHist) Report(w io.Writer) {
	if w == nil || h.hdr.TotalCount() == 0 {
		return
	}

	fmt.Fprint(w,
		"----------------------------------------------\n")
	fmt.Fprintf(w,
		"%s samples=%d unit=kbit/s\n",
		h.opts.Name, h.hdr.TotalCount(),
	)
	fmt.Fprintf(w, "summary %s kbit/s\n", h.stats.Result().String())
	for _, p := range []float64{50, 75, 90, 95, 99} {
		fmt.Fprintf(w, "%gth percentile=%d kbit/s\n", p, h.hdr.ValueAtPercentile(p))
	}

	var minBinCount, maxBinCount int64 = math.MaxInt64, math.MinInt64
	for _, bin := range h.hdr.Distribution() {
		pct := float64(bin.Count) * 100.0 / float64(h.hdr.TotalCount())
		if pct < h.opts.MinPct {
			continue
		}
		minBinCount = min(minBinCount, bin.Count)
		maxBinCount = max(maxBinCount, bin.Count)
	}

	yFmt := func(y int64) string {
		if y > 0 {
			return strconv.FormatInt(y, 10)
		}
		return ""
	}

	tabw := tabwriter.NewWriter(w, 2, 2, 2, byte(' '), 0)
	for _, bin := range h.hdr.Distribution() {
		pct := float64(bin.Count) * 100.0 / float64(h.hdr.TotalCount())
		if pct < h.opts.MinPct {
			continue
		}

		barSize := 1
		if maxBinCount > minBinCount {
			fraction := float64(bin.Count-minBinCount) /
				float64(maxBinCount-minBinCount)
			barSize = max(1, int(math.Ceil(fraction*10)))
		}

		to := bin.To
		if bin.From == to {
			to++
		}

		fmt.Fprintf(tabw,
			"%d-%d\t%.3g%%\t%s\t%s\n",
			bin.From, to,
			pct,
			strings.Repeat("|", barSize),
			yFmt(bin.Count),
		)
	}
	_ = tabw.Flush()
}

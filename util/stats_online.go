package util

import (
	"fmt"
	"math"
)

type Result struct {
	Min    float64
	Max    float64
	Avg    float64
	StdDev float64
}

func (r *Result) Reset() {
	r.Min = math.MaxFloat64
	r.Max = -math.MaxFloat64
	r.Avg = 0.0
	r.StdDev = 0.0
}

func (r Result) String() string {
	return fmt.Sprintf("min/avg/max/stddev = %.0f/%.0f/%.0f/%.0f", r.Min, r.Avg, r.Max, r.StdDev)
}

// OnlineStats gives you min/avg/max/stddev in O(1) time and space (Welford).
type OnlineStats struct {
	res *Result

	n      int
	meanSq float64
}

func NewOnlineStats() *OnlineStats {
	res := &Result{}
	res.Reset()
	return &OnlineStats{res: res}
}

func (s *OnlineStats) Add(xs ...float64) {
	for _, x := range xs {
		if x > s.res.Max {
			s.res.Max = x
		}

		if x < s.res.Min {
			s.res.Min = x
		}

		s.n++
		delta := x - s.res.Avg
		s.res.Avg += delta / float64(s.n)
		s.meanSq += delta * (x - s.res.Avg)
	}

	if s.n >= 2 {
		s.res.StdDev = math.Sqrt(s.meanSq / float64(s.n-1))
	}
}

// Result returns a copy; the zero Result is returned when nothing was added.
func (s *OnlineStats) Result() Result {
	if s.n == 0 {
		return Result{}
	}
	return *s.res
}

func (s *OnlineStats) Reset() {
	s.n = 0
	s.meanSq = 0
	s.res.Reset()
}

func (s *OnlineStats) Len() int {
	return s.n
}

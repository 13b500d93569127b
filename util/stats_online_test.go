package util

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

const epsilon = 0.001

func TestOnlineStats(t *testing.T) {
	s := NewOnlineStats()

	check := func() {
		res := s.Result()
		assert.InDelta(t, 2.5, res.Avg, epsilon)
		assert.InDelta(t, 1.0, res.Min, epsilon)
		assert.InDelta(t, 4.0, res.Max, epsilon)
		assert.InDelta(t, 1.29, res.StdDev, 0.1)
		assert.Equal(t, 4, s.Len())
	}

	s.Add(1.0, 2.0, 3.0, 4.0)
	check()

	s.Reset()
	s.Add(1.0, 2.0, 3.0, 4.0)
	check()
}

func TestOnlineStatsEmpty(t *testing.T) {
	s := NewOnlineStats()
	assert.Equal(t, Result{}, s.Result())

	s.Add(7)
	res := s.Result()
	assert.Equal(t, 7.0, res.Min)
	assert.Equal(t, 7.0, res.Max)
	assert.Equal(t, 0.0, res.StdDev)
	assert.False(t, math.IsNaN(res.Avg))
}

func TestResultString(t *testing.T) {
	s := NewOnlineStats()
	s.Add(1, 2, 3)
	assert.Equal(t, "min/avg/max/stddev = 1/2/3/1", s.Result().String())
}

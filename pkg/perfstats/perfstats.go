package perfstats

import (
	"fmt"
	"strings"
	"time"
)

// Accumulate samples of how long something took
type TimeAccumulator struct {
	Samples int64
	Total   time.Duration
	Max     time.Duration
}

func (a *TimeAccumulator) Reset() {
	*a = TimeAccumulator{}
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	a.Samples++
	a.Total += v
	if v > a.Max {
		a.Max = v
	}
}

func (a *TimeAccumulator) Average() time.Duration {
	if a.Samples == 0 {
		return 0
	}
	return time.Duration(a.Total.Nanoseconds() / a.Samples)
}

// Stages measures the time spent in each named stage of a processing loop.
// Stages is not thread safe.
type Stages struct {
	order  []string
	stages map[string]*TimeAccumulator
}

func NewStages() *Stages {
	return &Stages{
		stages: map[string]*TimeAccumulator{},
	}
}

func (s *Stages) Add(stage string, d time.Duration) {
	a := s.stages[stage]
	if a == nil {
		a = &TimeAccumulator{}
		s.stages[stage] = a
		s.order = append(s.order, stage)
	}
	a.AddSample(d)
}

// Measure adds the time since start. Use it as 'defer s.Measure("decode", time.Now())'.
func (s *Stages) Measure(stage string, start time.Time) {
	s.Add(stage, time.Since(start))
}

// Get returns the accumulator of a stage, or nil if the stage has never been measured
func (s *Stages) Get(stage string) *TimeAccumulator {
	return s.stages[stage]
}

// Reset clears the samples, but remembers the order of the stages
func (s *Stages) Reset() {
	for _, a := range s.stages {
		a.Reset()
	}
}

// Summary describes the stages that have samples, in the order that they were first seen.
// eg "decode 120µs (max 1ms), previewout 4.2ms (max 9ms)"
func (s *Stages) Summary() string {
	parts := []string{}
	for _, name := range s.order {
		a := s.stages[name]
		if a.Samples == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%v %v (max %v)", name, roundDuration(a.Average()), roundDuration(a.Max)))
	}
	return strings.Join(parts, ", ")
}

func roundDuration(d time.Duration) time.Duration {
	switch {
	case d >= time.Millisecond:
		return d.Round(100 * time.Microsecond)
	case d >= time.Microsecond:
		return d.Round(time.Microsecond)
	}
	return d
}

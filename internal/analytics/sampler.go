package analytics

import (
	"math/rand"
	"sort"
)

// insightPeriodSeconds is the rolling window each camera's ambient capture
// schedule is drawn over.
const insightPeriodSeconds = 3600

// InsightSampler keeps one camera's schedule of ambient capture timestamps.
// The schedule is deliberately decorrelated from alert logic so debouncing
// can never suppress it.
type InsightSampler struct {
	periodStart int64
	schedule    []int64
}

// Update rolls the schedule over when the current hour window has elapsed,
// drawing perHour distinct second offsets without replacement. A disabled
// sampler clears its schedule.
func (s *InsightSampler) Update(now int64, perHour int, enabled bool, rng *rand.Rand) {
	if !enabled {
		s.schedule = nil
		return
	}
	if now-s.periodStart < insightPeriodSeconds {
		return
	}

	s.periodStart = now
	if perHour > insightPeriodSeconds {
		perHour = insightPeriodSeconds
	}

	offsets := samplePeriodOffsets(rng, perHour)
	s.schedule = make([]int64, len(offsets))
	for i, o := range offsets {
		s.schedule[i] = now + int64(o)
	}
}

// Due reports whether the earliest scheduled capture has passed.
func (s *InsightSampler) Due(now int64) bool {
	return len(s.schedule) > 0 && s.schedule[0] <= now
}

// Pop removes and returns the earliest scheduled timestamp.
func (s *InsightSampler) Pop() int64 {
	ts := s.schedule[0]
	s.schedule = s.schedule[1:]
	return ts
}

// Pending returns the number of scheduled captures left in the window.
func (s *InsightSampler) Pending() int {
	return len(s.schedule)
}

// samplePeriodOffsets draws k distinct offsets from [0, 3600) via a partial
// Fisher-Yates shuffle and returns them sorted ascending.
func samplePeriodOffsets(rng *rand.Rand, k int) []int {
	if k <= 0 {
		return nil
	}
	pool := make([]int, insightPeriodSeconds)
	for i := range pool {
		pool[i] = i
	}
	for i := 0; i < k; i++ {
		j := i + rng.Intn(insightPeriodSeconds-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	out := pool[:k]
	sort.Ints(out)
	return out
}

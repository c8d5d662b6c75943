package main

import (
	"strconv"
	"sync/atomic"
)

// Stats tracks process-wide counters for the periodic CSV logger and the
// SIGUSR1 diagnostic dump. All fields are safe for concurrent use.
type Stats struct {
	ProbesServed     atomic.Int64
	PairsEstablished atomic.Int64
	FailedTraversals atomic.Int64
}

// snapshot is a point-in-time copy, cheap to format or print without racing
// the live counters.
type snapshot struct {
	ProbesServed     int64
	PairsEstablished int64
	FailedTraversals int64
	Pending          int64
	Known            int64
}

func (s *Stats) snapshot(pending, known int) snapshot {
	return snapshot{
		ProbesServed:     s.ProbesServed.Load(),
		PairsEstablished: s.PairsEstablished.Load(),
		FailedTraversals: s.FailedTraversals.Load(),
		Pending:          int64(pending),
		Known:            int64(known),
	}
}

// Header and ToSlice implement std.Snapshot for StatsLogger.
func (s snapshot) Header() []string {
	return []string{"ProbesServed", "PairsEstablished", "FailedTraversals", "Pending", "Known"}
}

func (s snapshot) ToSlice() []string {
	return []string{
		strconv.FormatInt(s.ProbesServed, 10),
		strconv.FormatInt(s.PairsEstablished, 10),
		strconv.FormatInt(s.FailedTraversals, 10),
		strconv.FormatInt(s.Pending, 10),
		strconv.FormatInt(s.Known, 10),
	}
}

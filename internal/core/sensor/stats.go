package sensor

import "time"

// UpdateStats summarizes the work done by Update.
type UpdateStats struct {
	// Totals since the map was created.

	Updates          uint64
	Queries          uint64
	EventsDispatched uint64
	TotalSweep       time.Duration

	// Last sweep.

	LastQueries    int
	LastEvents     int
	LastDirtyCells int
	LastSweep      time.Duration
	LastUpdate     time.Time

	// Current population.

	Volumes       int
	StrayVolumes  int
	OccupiedCells int
}

// AverageSweep returns the mean wall time of an Update.
func (s UpdateStats) AverageSweep() time.Duration {
	if s.Updates == 0 {
		return 0
	}
	return s.TotalSweep / time.Duration(s.Updates)
}

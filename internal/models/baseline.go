package models

import (
	"time"

	"github.com/google/uuid"
)

// HourWindow is an inclusive hour-of-day range. Start may exceed End for
// windows that wrap midnight (22 → 6).
type HourWindow struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether the hour falls inside the window.
func (w HourWindow) Contains(hour int) bool {
	if w.Start <= w.End {
		return hour >= w.Start && hour <= w.End
	}
	return hour >= w.Start || hour <= w.End
}

// ObjectProfile describes how one object class normally appears on a camera:
// how many at a time, in which coarse grid cells, during which hours.
type ObjectProfile struct {
	Class       string       `json:"class"`
	MinCount    int          `json:"min_count"`
	MaxCount    int          `json:"max_count"`
	Frequency   float64      `json:"frequency"` // fraction of normal snapshots containing the class
	GridCells   []int        `json:"grid_cells"`
	HourWindows []HourWindow `json:"hour_windows"`
}

// BaselineInventory is a versioned per-camera profile of expected objects.
// Rebuilds insert a new version; prior versions are never mutated.
type BaselineInventory struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	CameraID  uuid.UUID       `json:"camera_id" db:"camera_id"`
	DatasetID uuid.UUID       `json:"dataset_id" db:"dataset_id"`
	Version   int             `json:"version" db:"version"`
	Profiles  []ObjectProfile `json:"profiles" db:"profiles"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Profile returns the profile for a class, or nil if the class is not part
// of this camera's baseline.
func (b *BaselineInventory) Profile(class string) *ObjectProfile {
	for i := range b.Profiles {
		if b.Profiles[i].Class == class {
			return &b.Profiles[i]
		}
	}
	return nil
}

package bt

import "time"

// FileStats is the stat record collected for a file: the fields persisted on
// every snapshot and compared to detect mutation during staging.
type FileStats struct {
	Size        int64      `json:"size"`
	Permissions uint32     `json:"permissions"`
	UID         int64      `json:"uid"`
	GID         int64      `json:"gid"`
	AccessedAt  time.Time  `json:"accessed_at"`
	ModifiedAt  time.Time  `json:"modified_at"`
	ChangedAt   time.Time  `json:"changed_at"`
	BornAt      *time.Time `json:"born_at,omitempty"`
}

// EqualIgnoringAtime reports whether two stat records agree on every field
// except the access time, which our own content read is allowed to bump.
func (s FileStats) EqualIgnoringAtime(o FileStats) bool {
	return s.Size == o.Size &&
		s.Permissions == o.Permissions &&
		s.UID == o.UID &&
		s.GID == o.GID &&
		s.ModifiedAt.Equal(o.ModifiedAt) &&
		s.ChangedAt.Equal(o.ChangedAt) &&
		equalBornAt(s.BornAt, o.BornAt)
}

func equalBornAt(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

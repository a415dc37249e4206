package navmesh

import "strings"

// Status is the result of a fallible mesh or cache operation: one high-level
// bit combined with zero or more detail bits describing the cause.
type Status uint32

const (
	// High level status.
	Failure    Status = 1 << 31 // Operation failed.
	Success    Status = 1 << 30 // Operation succeeded.
	InProgress Status = 1 << 29 // Operation still in progress.

	// Detail information for status.
	statusDetailMask Status = 0x0ffffff
	WrongMagic       Status = 1 << 0 // Input data is not recognized.
	WrongVersion     Status = 1 << 1 // Input data is in wrong version.
	OutOfMemory      Status = 1 << 2 // Operation ran out of memory.
	InvalidParam     Status = 1 << 3 // An input parameter was invalid.
	BufferTooSmall   Status = 1 << 4 // Result buffer was too small to store all results.
	OutOfNodes       Status = 1 << 5 // Query ran out of nodes during search.
	PartialResult    Status = 1 << 6 // Query did not reach the end location.
	AlreadyOccupied  Status = 1 << 7 // A tile is already assigned to the given coordinate.
)

func (s Status) Succeeded() bool { return s&Success != 0 }
func (s Status) Failed() bool    { return s&Failure != 0 }

// Detail reports whether a specific detail bit is set.
func (s Status) Detail(detail Status) bool { return s&detail != 0 }

func (s Status) String() string {
	var parts []string
	switch {
	case s.Failed():
		parts = append(parts, "failure")
	case s.Succeeded():
		parts = append(parts, "success")
	case s&InProgress != 0:
		parts = append(parts, "in progress")
	}
	for _, d := range []struct {
		bit  Status
		name string
	}{
		{WrongMagic, "wrong magic"},
		{WrongVersion, "wrong version"},
		{OutOfMemory, "out of memory"},
		{InvalidParam, "invalid param"},
		{BufferTooSmall, "buffer too small"},
		{OutOfNodes, "out of nodes"},
		{PartialResult, "partial result"},
		{AlreadyOccupied, "already occupied"},
	} {
		if s.Detail(d.bit) {
			parts = append(parts, d.name)
		}
	}
	if len(parts) == 0 {
		return "unknown status"
	}
	return strings.Join(parts, ": ")
}

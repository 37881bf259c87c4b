package driver

import (
	"github.com/ahrtr/gocontainer/queue/priorityqueue"
	"github.com/ahrtr/gocontainer/utils"

	"nb/internal/graph"
)

// edgeComparator orders the ready queue by critical-path weight, highest
// first, so the edge most likely to gate the build's finish time is started
// before one with slack to spare. Discovery order breaks ties, matching the
// order edges were declared in the manifest.
type edgeComparator struct{}

func (edgeComparator) Compare(v1, v2 interface{}) (int, error) {
	a, b := v1.(*graph.Edge), v2.(*graph.Edge)
	if a.CriticalPathWeight != b.CriticalPathWeight {
		if a.CriticalPathWeight > b.CriticalPathWeight {
			return -1, nil
		}
		return 1, nil
	}
	if a.ID() != b.ID() {
		if a.ID() < b.ID() {
			return -1, nil
		}
		return 1, nil
	}
	return 0, nil
}

var _ utils.Comparator = edgeComparator{}

// readyQueue is the narrow surface Plan needs from the priority queue, kept
// as a local interface so the scheduler's own logic doesn't read like a
// third-party library's call sites.
type readyQueue interface {
	Add(...interface{})
	Poll() interface{}
	IsEmpty() bool
	Size() int
	Clear()
}

func newReadyQueue() readyQueue {
	return priorityqueue.New().WithComparator(edgeComparator{})
}

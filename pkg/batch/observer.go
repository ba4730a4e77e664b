package batch

import (
	"time"

	"github.com/Sternrassler/beacon-duty-fetcher/pkg/duty"
)

// Progress describes the batch after one epoch completed.
type Progress struct {
	Epoch   uint64
	Status  duty.Status
	Done    int
	Total   int
	Failed  int
	Records int
	Elapsed time.Duration
}

// Summary describes a finished batch.
type Summary struct {
	Total     int
	Succeeded int
	Empty     int
	Failed    int
	Records   int
	Duration  time.Duration
}

// Observer receives progress callbacks from the coordinator goroutine.
// Callbacks must not block for long; they delay aggregation.
type Observer interface {
	OnComplete(Progress)
	OnFinish(Summary)
}

type nopObserver struct{}

func (nopObserver) OnComplete(Progress) {}
func (nopObserver) OnFinish(Summary)    {}

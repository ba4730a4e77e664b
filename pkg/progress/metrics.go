package progress

import (
	"github.com/Sternrassler/beacon-duty-fetcher/pkg/batch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus gauges for the running batch.
var (
	batchCompleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "duty_batch_completed",
		Help: "Epochs completed in the current batch",
	})

	batchTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "duty_batch_total",
		Help: "Epochs requested in the current batch",
	})

	batchFailed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "duty_batch_failed",
		Help: "Epochs failed in the current batch",
	})

	batchRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "duty_batch_records",
		Help: "Duty records collected in the current batch",
	})
)

// Metrics exports batch progress as prometheus gauges.
type Metrics struct{}

// OnComplete implements batch.Observer.
func (Metrics) OnComplete(p batch.Progress) {
	batchCompleted.Set(float64(p.Done))
	batchTotal.Set(float64(p.Total))
	batchFailed.Set(float64(p.Failed))
	batchRecords.Set(float64(p.Records))
}

// OnFinish implements batch.Observer.
func (Metrics) OnFinish(s batch.Summary) {
	batchCompleted.Set(float64(s.Succeeded + s.Empty + s.Failed))
	batchTotal.Set(float64(s.Total))
	batchFailed.Set(float64(s.Failed))
	batchRecords.Set(float64(s.Records))
}

// Multi fans callbacks out to several observers in order. Nil entries are skipped.
type Multi []batch.Observer

// OnComplete implements batch.Observer.
func (m Multi) OnComplete(p batch.Progress) {
	for _, o := range m {
		if o != nil {
			o.OnComplete(p)
		}
	}
}

// OnFinish implements batch.Observer.
func (m Multi) OnFinish(s batch.Summary) {
	for _, o := range m {
		if o != nil {
			o.OnFinish(s)
		}
	}
}

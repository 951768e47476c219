package monitoring

import (
	"context"
	"time"

	"github.com/modelgate/modelgate/internal/domain/entity"
	"github.com/modelgate/modelgate/internal/infrastructure/eventbus"
)

// Observer folds progress events into monitor counters. It piggybacks on
// the event bus instead of instrumenting the loop directly, so the loop
// has exactly one emission path.
type Observer struct {
	monitor     *Monitor
	dropSources []func() int64
	unsubscribe func()
}

// ObserveBus subscribes the monitor to every event on the bus.
// dropSources report drop totals (bus, audit) and are sampled whenever a
// loop completes.
func ObserveBus(monitor *Monitor, bus eventbus.Bus, dropSources ...func() int64) *Observer {
	o := &Observer{monitor: monitor, dropSources: dropSources}
	o.unsubscribe = bus.Subscribe(eventbus.Wildcard, o.handle)
	return o
}

func (o *Observer) handle(ctx context.Context, ev *entity.ProgressEvent) {
	switch ev.Type {
	case entity.ProgressModelStarted:
		o.monitor.IncModelCall()
	case entity.ProgressModelCompleted:
		if ev.DurationMs > 0 {
			o.monitor.RecordModelLatency(time.Duration(ev.DurationMs) * time.Millisecond)
		}
	case entity.ProgressToolStarted:
		o.monitor.IncToolCallTotal()
	case entity.ProgressToolCompleted:
		if ev.Error == "" {
			o.monitor.IncToolCallSuccess()
		} else {
			o.monitor.IncToolCallFailed()
		}
		if ev.DurationMs > 0 {
			o.monitor.RecordToolLatency(time.Duration(ev.DurationMs) * time.Millisecond)
		}
	case entity.ProgressLoopCompleted:
		o.sampleDrops()
	case entity.ProgressError:
		o.monitor.IncError()
	}
}

func (o *Observer) sampleDrops() {
	var total int64
	for _, src := range o.dropSources {
		total += src()
	}
	if total > 0 {
		o.monitor.SetEventsDropped(uint64(total))
	}
}

// Close detaches the observer from the bus.
func (o *Observer) Close() {
	if o.unsubscribe != nil {
		o.unsubscribe()
	}
}

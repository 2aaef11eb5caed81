package measure

import (
	"time"

	"github.com/askiada/pipedriver/pkg/flow/stage"
)

type stageMeasure struct {
	stage.NopObserver
	Measure
}

func (sm *stageMeasure) Begin() error {
	sm.AddMetric(stage.Start.Name)
	sm.AddMetric(stage.End.Name)

	return nil
}

func (sm *stageMeasure) Prepare(_ []*stage.Info, st *stage.Info) error {
	sm.AddMetric(st.Name)

	return nil
}

func (sm *stageMeasure) OnOutput(parent, st *stage.Info, transport, compute time.Duration) error {
	mt := sm.AddMetric(st.Name)
	mt.AddDuration(compute)
	mt.AddTransportDuration(parent.Name, transport)

	return nil
}

func (sm *stageMeasure) AfterSink(st *stage.Info, total time.Duration) error {
	sm.AddMetric(st.Name).SetTotalDuration(total)

	end := sm.AddMetric(stage.End.Name)
	if total > end.GetTotalDuration() {
		end.SetTotalDuration(total)
	}

	return nil
}

// Observer records the timings of a run into m.
func Observer(m Measure) stage.Observer {
	return &stageMeasure{Measure: m}
}

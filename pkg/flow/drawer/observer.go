package drawer

import (
	"time"

	"github.com/pkg/errors"

	"github.com/askiada/pipedriver/pkg/flow/measure"
	"github.com/askiada/pipedriver/pkg/flow/stage"
)

type stageDrawer struct {
	stage.NopObserver
	Drawer
	m         measure.Measure
	startTime time.Time
}

func (sd *stageDrawer) Begin() error {
	err := sd.AddStage(stage.Start.Name)
	if err != nil {
		return errors.Wrap(err, "unable to add start stage to drawer")
	}

	err = sd.AddStage(stage.End.Name)
	if err != nil {
		return errors.Wrap(err, "unable to add end stage to drawer")
	}

	return nil
}

func (sd *stageDrawer) Prepare(parents []*stage.Info, st *stage.Info) error {
	err := sd.AddStage(st.Name)
	if err != nil {
		return err
	}

	for _, parent := range parents {
		err = sd.AddLink(parent.Name, st.Name)
		if err != nil {
			return err
		}
	}

	if st.Kind == stage.SinkKind {
		return sd.AddLink(st.Name, stage.End.Name)
	}

	return nil
}

func (sd *stageDrawer) Finish() error {
	if sd.m != nil {
		err := sd.SetTotalTime(stage.End.Name, sd.startTime)
		if err != nil {
			return errors.Wrap(err, "unable to set total time")
		}

		err = sd.AddMeasure(sd.m)
		if err != nil {
			return errors.Wrap(err, "unable to add measure")
		}
	}

	err := sd.Draw()
	if err != nil {
		return errors.Wrap(err, "unable to draw flow")
	}

	return nil
}

// Observer draws the stages of a run with d once it finished. When m is not
// nil, its timings label the graph.
func Observer(d Drawer, m measure.Measure) stage.Observer {
	return &stageDrawer{Drawer: d, m: m, startTime: time.Now()}
}

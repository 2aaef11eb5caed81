package stage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Runner owns the stages of one run.
type Runner struct {
	ctx       context.Context
	cancel    context.CancelFunc
	group     *errgroup.Group
	observers []Observer
	startTime time.Time
}

// New creates a runner. Stages added to it stop when ctx is done.
func New(ctx context.Context, observers ...Observer) (*Runner, error) {
	dCtx, cancel := context.WithCancel(ctx)
	group, gCtx := errgroup.WithContext(dCtx)

	r := &Runner{
		ctx:       gCtx,
		cancel:    cancel,
		group:     group,
		observers: observers,
		startTime: time.Now(),
	}

	for _, obs := range observers {
		err := obs.Begin()
		if err != nil {
			cancel()

			return nil, errors.Wrap(err, "unable to begin observer")
		}
	}

	return r, nil
}

// Run waits for every stage. The first error cancels the remaining stages and
// is returned once they all stopped.
func (r *Runner) Run() error {
	defer r.cancel()

	err := r.group.Wait()
	if err != nil {
		return err
	}

	for _, obs := range r.observers {
		err := obs.Finish()
		if err != nil {
			return errors.Wrap(err, "unable to finish observer")
		}
	}

	return nil
}

// Cancel stops every stage added so far. Use it when the stages cannot be run
// after all.
func (r *Runner) Cancel() {
	r.cancel()
}

// Emit sends v on out unless ctx is done first.
func Emit[O any](ctx context.Context, out chan<- O, v O) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- v:
		return nil
	}
}

func (r *Runner) prepare(parents []*Info, info *Info) error {
	for _, obs := range r.observers {
		err := obs.Prepare(parents, info)
		if err != nil {
			return errors.Wrapf(err, "unable to prepare stage %s", info.Name)
		}
	}

	return nil
}

func (r *Runner) output(parent, info *Info, transport, compute time.Duration) error {
	for _, obs := range r.observers {
		err := obs.OnOutput(parent, info, transport, compute)
		if err != nil {
			return errors.Wrapf(err, "unable to observe stage %s", info.Name)
		}
	}

	return nil
}

func (r *Runner) afterSink(info *Info) error {
	total := time.Since(r.startTime)

	for _, obs := range r.observers {
		err := obs.AfterSink(info, total)
		if err != nil {
			return errors.Wrapf(err, "unable to observe sink %s", info.Name)
		}
	}

	return nil
}

// start runs fn in its own goroutine and calls done once fn returned.
func (r *Runner) start(name string, fn func(ctx context.Context) error, done func()) {
	r.group.Go(func() error {
		if done != nil {
			defer done()
		}

		err := fn(r.ctx)
		if err != nil {
			return errors.Wrap(err, name)
		}

		return nil
	})
}

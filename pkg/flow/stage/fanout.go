package stage

import (
	"context"
	"sync"
	"time"
)

// Fanout copies every input value to each of its branches.
type Fanout[I any] struct {
	mu       sync.Mutex
	currIdx  int
	info     *Info
	branches []*Stage[I]
	Total    int
}

// Get returns the next unused branch.
func (f *Fanout[I]) Get() (*Stage[I], bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.currIdx >= len(f.branches) {
		return nil, false
	}

	st := f.branches[f.currIdx]
	f.currIdx++

	return st, true
}

// FanoutOption configures a fan-out.
type FanoutOption func(bufferSize *int)

// FanoutBuffer sets how many values each branch holds before the fan-out
// blocks on it.
func FanoutBuffer(size int) FanoutOption {
	return func(bufferSize *int) {
		*bufferSize = size
	}
}

// AddFanout adds a stage copying every value of input to total branches. Each
// branch has its own buffer so that a slow branch only blocks once its buffer
// is full.
func AddFanout[I any](r *Runner, name string, input *Stage[I], total int, opts ...FanoutOption) (*Fanout[I], error) {
	if r == nil {
		return nil, ErrRunnerMustBeSet
	}

	if input == nil {
		return nil, ErrInputMustBeSet
	}

	if total <= 0 {
		return nil, ErrFanoutTotal
	}

	bufferSize := 1
	for _, opt := range opts {
		opt(&bufferSize)
	}

	if bufferSize < 1 {
		bufferSize = 1
	}

	f := &Fanout[I]{
		Total:    total,
		info:     &Info{Kind: FanoutKind, Name: name},
		branches: make([]*Stage[I], total),
	}

	for i := range f.branches {
		f.branches[i] = &Stage[I]{Info: f.info, Output: make(chan I)}
	}

	err := r.prepare([]*Info{input.Info}, f.info)
	if err != nil {
		return nil, err
	}

	buffers := make([]chan I, total)
	for i := range buffers {
		buffers[i] = make(chan I, bufferSize)
	}

	wgrp := &sync.WaitGroup{}
	wgrp.Add(total)

	for i, buf := range buffers {
		go func() {
			defer wgrp.Done()
			defer close(f.branches[i].Output)

			for elem := range buf {
				if Emit(r.ctx, f.branches[i].Output, elem) != nil {
					return
				}
			}
		}()
	}

	r.start(name, func(ctx context.Context) error {
		defer func() {
			for _, buf := range buffers {
				close(buf)
			}

			wgrp.Wait()
		}()

		return fanout(ctx, r, input, f.info, buffers)
	}, nil)

	return f, nil
}

func fanout[I any](ctx context.Context, r *Runner, input *Stage[I], info *Info, buffers []chan I) error {
	for {
		start := time.Now()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-input.Output:
			if !ok {
				return nil
			}

			waited := time.Since(start)
			startFn := time.Now()

			for _, buf := range buffers {
				err := Emit(ctx, buf, entry)
				if err != nil {
					return err
				}
			}

			err := r.output(input.Info, info, waited, time.Since(startFn))
			if err != nil {
				return err
			}
		}
	}
}

package stage

import (
	"context"
	"time"
)

func newStage[O any](kind Kind, name string) *Stage[O] {
	return &Stage[O]{
		Info:   &Info{Kind: kind, Name: name},
		Output: make(chan O),
	}
}

// AddSource adds a stage producing values with fn. Its output is closed when
// fn returns.
func AddSource[O any](r *Runner, name string, fn func(ctx context.Context, out chan<- O) error) (*Stage[O], error) {
	if r == nil {
		return nil, ErrRunnerMustBeSet
	}

	st := newStage[O](SourceKind, name)

	err := r.prepare([]*Info{Start}, st.Info)
	if err != nil {
		return nil, err
	}

	r.start(name, func(ctx context.Context) error {
		return fn(ctx, st.Output)
	}, func() { close(st.Output) })

	return st, nil
}

// AddTransform adds a stage calling fn on every input value and emitting the
// returned values in order.
func AddTransform[I, O any](r *Runner, name string, input *Stage[I], fn func(ctx context.Context, in I) ([]O, error)) (*Stage[O], error) {
	if r == nil {
		return nil, ErrRunnerMustBeSet
	}

	if input == nil {
		return nil, ErrInputMustBeSet
	}

	st := newStage[O](TransformKind, name)

	err := r.prepare([]*Info{input.Info}, st.Info)
	if err != nil {
		return nil, err
	}

	r.start(name, func(ctx context.Context) error {
		return transform(ctx, r, input, st, fn)
	}, func() { close(st.Output) })

	return st, nil
}

func transform[I, O any](ctx context.Context, r *Runner, input *Stage[I], output *Stage[O], fn func(context.Context, I) ([]O, error)) error {
	for {
		start := time.Now()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in, ok := <-input.Output:
			if !ok {
				return nil
			}

			waited := time.Since(start)
			startFn := time.Now()

			outs, err := fn(ctx, in)
			if err != nil {
				return err
			}

			computed := time.Since(startFn)

			for _, out := range outs {
				err = Emit(ctx, output.Output, out)
				if err != nil {
					return err
				}
			}

			err = r.output(input.Info, output.Info, waited, computed)
			if err != nil {
				return err
			}
		}
	}
}

// AddCollector adds a stage that waits for every input value, calls fn once
// with all of them and emits the returned values in order.
func AddCollector[I, O any](r *Runner, name string, input *Stage[I], fn func(ctx context.Context, ins []I) ([]O, error)) (*Stage[O], error) {
	if r == nil {
		return nil, ErrRunnerMustBeSet
	}

	if input == nil {
		return nil, ErrInputMustBeSet
	}

	st := newStage[O](CollectorKind, name)

	err := r.prepare([]*Info{input.Info}, st.Info)
	if err != nil {
		return nil, err
	}

	r.start(name, func(ctx context.Context) error {
		return collect(ctx, r, input, st, fn)
	}, func() { close(st.Output) })

	return st, nil
}

func collect[I, O any](ctx context.Context, r *Runner, input *Stage[I], output *Stage[O], fn func(context.Context, []I) ([]O, error)) error {
	var ins []I

	start := time.Now()

outer:
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in, ok := <-input.Output:
			if !ok {
				break outer
			}

			ins = append(ins, in)
		}
	}

	waited := time.Since(start)
	startFn := time.Now()

	outs, err := fn(ctx, ins)
	if err != nil {
		return err
	}

	computed := time.Since(startFn)

	for _, out := range outs {
		err = Emit(ctx, output.Output, out)
		if err != nil {
			return err
		}
	}

	return r.output(input.Info, output.Info, waited, computed)
}

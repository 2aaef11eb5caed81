package stage

import (
	"context"
	"time"
)

// AddSink adds a stage calling fn on every value of input.
func AddSink[I any](r *Runner, name string, input *Stage[I], fn func(ctx context.Context, in I) error) error {
	if r == nil {
		return ErrRunnerMustBeSet
	}

	if input == nil {
		return ErrInputMustBeSet
	}

	info := &Info{Kind: SinkKind, Name: name}

	err := r.prepare([]*Info{input.Info}, info)
	if err != nil {
		return err
	}

	r.start(name, func(ctx context.Context) error {
		for {
			start := time.Now()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case in, ok := <-input.Output:
				if !ok {
					return r.afterSink(info)
				}

				waited := time.Since(start)
				startFn := time.Now()

				err := fn(ctx, in)
				if err != nil {
					return err
				}

				err = r.output(input.Info, info, waited, time.Since(startFn))
				if err != nil {
					return err
				}
			}
		}
	}, nil)

	return nil
}

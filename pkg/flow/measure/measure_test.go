package measure_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/pipedriver/pkg/flow/measure"
	"github.com/askiada/pipedriver/pkg/flow/stage"
)

func TestDefaultMetric(t *testing.T) {
	t.Parallel()

	m := measure.NewDefaultMeasure()
	mt := m.AddMetric("step")
	assert.Same(t, mt, m.AddMetric("step"))

	assert.Equal(t, time.Duration(0), mt.AVGDuration())

	mt.AddDuration(2 * time.Microsecond)
	mt.AddDuration(4 * time.Microsecond)
	mt.AddTransportDuration("parent", 10*time.Microsecond)
	mt.AddTransportDuration("parent", 20*time.Microsecond)
	mt.SetTotalDuration(time.Second)

	assert.Equal(t, int64(2), mt.Count())
	assert.Equal(t, 3*time.Microsecond, mt.AVGDuration())
	assert.Equal(t, 15*time.Microsecond, mt.AVGTransportDuration()["parent"].Elapsed)
	assert.Equal(t, 15*time.Microsecond, mt.AVGTransportDuration()["parent"].Elapsed, "averaging twice gives the same result")
	assert.Equal(t, time.Second, mt.GetTotalDuration())
	assert.Nil(t, m.GetMetric("missing"))
}

func TestConcurrentMetric(t *testing.T) {
	t.Parallel()

	m := measure.NewDefaultMeasure()

	var wg sync.WaitGroup

	for range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for range 100 {
				m.AddMetric("shared").AddDuration(time.Microsecond)
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, int64(1000), m.GetMetric("shared").Count())
}

func TestObserver(t *testing.T) {
	t.Parallel()

	m := measure.NewDefaultMeasure()

	r, err := stage.New(context.Background(), measure.Observer(m))
	require.NoError(t, err)

	src, err := stage.AddSource(r, "numbers", func(ctx context.Context, out chan<- int) error {
		for i := range 5 {
			if err := stage.Emit(ctx, out, i); err != nil {
				return err
			}
		}

		return nil
	})
	require.NoError(t, err)

	tr, err := stage.AddTransform(r, "square", src, func(_ context.Context, in int) ([]int, error) {
		return []int{in * in}, nil
	})
	require.NoError(t, err)

	require.NoError(t, stage.AddSink(r, "discard", tr, func(context.Context, int) error { return nil }))
	require.NoError(t, r.Run())

	assert.Equal(t, []string{"discard", "end", "numbers", "square", "start"}, m.Names())
	assert.Equal(t, int64(5), m.GetMetric("square").Count())
	assert.Equal(t, int64(5), m.GetMetric("discard").Count())
	assert.Contains(t, m.GetMetric("square").AVGTransportDuration(), "numbers")
	assert.Positive(t, m.GetMetric("discard").GetTotalDuration())
	assert.Equal(t, m.GetMetric("discard").GetTotalDuration(), m.GetMetric("end").GetTotalDuration())
}

package rate_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/varesa/metronome2/internal/rate"
)

func TestPPS_LatestValueWins(t *testing.T) {
	t.Parallel()

	p := rate.New(1)
	require.Equal(t, uint64(1), p.Get())

	p.Set(10)
	require.Equal(t, uint64(10), p.Get())

	p.Set(5)
	require.Equal(t, uint64(5), p.Get())
}

func TestPPS_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	p := rate.New(1)
	var wg sync.WaitGroup
	for i := 1; i <= 100; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			p.Set(v)
		}(uint64(i))
	}
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Get()
		}()
	}
	wg.Wait()

	require.GreaterOrEqual(t, p.Get(), uint64(1))
	require.LessOrEqual(t, p.Get(), uint64(100))
}

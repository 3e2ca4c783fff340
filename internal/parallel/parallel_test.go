package parallel

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// forEach runs f once per index on top of ForChunk.
func forEach(n int, f func(i int), cfg Config) {
	ForChunk(n, func(start, end int) {
		for i := start; i < end; i++ {
			f(i)
		}
	}, cfg)
}

func TestForChunk_PerIndex(t *testing.T) {
	cfg := WithWorkers(4)

	var counter int64
	n := 1000

	forEach(n, func(_ int) {
		atomic.AddInt64(&counter, 1)
	}, cfg)

	assert.Equal(t, int64(n), counter)
}

func TestForChunk_CoversRangeOnce(t *testing.T) {
	for _, n := range []int{1, 7, 8, 9, 100, 1001} {
		seen := make([]int32, n)
		var mu sync.Mutex
		var chunks [][2]int

		ForChunk(n, func(start, end int) {
			mu.Lock()
			chunks = append(chunks, [2]int{start, end})
			mu.Unlock()
			for i := start; i < end; i++ {
				atomic.AddInt32(&seen[i], 1)
			}
		}, WithWorkers(3))

		for i, c := range seen {
			require.Equal(t, int32(1), c, "n=%d index %d", n, i)
		}
		assert.LessOrEqual(t, len(chunks), 3, "n=%d", n)
	}
}

func TestForChunk_Sequential(t *testing.T) {
	calls := 0
	ForChunk(100, func(start, end int) {
		calls++
		assert.Equal(t, 0, start)
		assert.Equal(t, 100, end)
	}, Config{Enabled: false})
	assert.Equal(t, 1, calls)

	ForChunk(0, func(_, _ int) { t.Fatal("called for empty range") }, DefaultConfig())
}

func TestForChunk_SmallInput(t *testing.T) {
	// Small work units fall back to a single chunk.
	cfg := WithWorkers(8)

	var counter int64
	n := 2*cfg.MinChunkSize - 1

	calls := 0
	ForChunk(n, func(_, _ int) { calls++ }, cfg)
	assert.Equal(t, 1, calls)

	forEach(n, func(_ int) {
		atomic.AddInt64(&counter, 1)
	}, cfg)
	assert.Equal(t, int64(n), counter)
}

func TestWithWorkers(t *testing.T) {
	assert.Equal(t, Config{Enabled: false, NumWorkers: 1, MinChunkSize: 4}, WithWorkers(0))
	assert.True(t, WithWorkers(2).Enabled)
	assert.GreaterOrEqual(t, DefaultConfig().NumWorkers, 1)
}

func BenchmarkForChunk(b *testing.B) {
	cfg := DefaultConfig()
	n := 10000

	b.Run("parallel", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			var sum int64
			forEach(n, func(i int) {
				atomic.AddInt64(&sum, int64(i))
			}, cfg)
		}
	})

	b.Run("sequential", func(b *testing.B) {
		cfgSeq := cfg
		cfgSeq.Enabled = false
		for i := 0; i < b.N; i++ {
			var sum int64
			forEach(n, func(i int) {
				atomic.AddInt64(&sum, int64(i))
			}, cfgSeq)
		}
	})
}

package capture

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"showroom-recorder/internal/platform/logger"
)

func newTestMerger(t *testing.T, dir string, gapLimit int) *merger {
	t.Helper()
	log := logger.Discard()
	return &merger{
		cache:    newReorderCache(),
		out:      newOutputFile(dir, "room", time.Now, log),
		stats:    &runStats{},
		log:      log,
		room:     "room",
		gapLimit: gapLimit,
	}
}

func (m *merger) putSeqs(seqs ...int) {
	for _, n := range seqs {
		m.cache.Put(int64(n), segBody(n))
	}
}

func TestMerger_Pass(t *testing.T) {
	t.Run("writes_out_of_order_arrivals_in_order", func(t *testing.T) {
		m := newTestMerger(t, t.TempDir(), 3)
		m.putSeqs(3, 1, 2)

		require.NoError(t, m.pass())
		require.NoError(t, m.out.Close())

		files := m.out.Files()
		require.Len(t, files, 1)
		assert.Equal(t, concatBodies(1, 2, 3), readFile(t, files[0]))
		assert.Zero(t, m.cache.Len())
		assert.Equal(t, int64(3), m.last)
	})

	t.Run("first_segment_sets_base", func(t *testing.T) {
		m := newTestMerger(t, t.TempDir(), 3)
		m.putSeqs(1041, 1042)

		require.NoError(t, m.pass())
		assert.Equal(t, int64(1042), m.last)
		assert.True(t, m.hasLast)
	})

	t.Run("continues_across_passes", func(t *testing.T) {
		m := newTestMerger(t, t.TempDir(), 3)
		m.putSeqs(1)
		require.NoError(t, m.pass())
		m.putSeqs(2, 3)
		require.NoError(t, m.pass())
		require.NoError(t, m.out.Close())

		files := m.out.Files()
		require.Len(t, files, 1)
		assert.Equal(t, concatBodies(1, 2, 3), readFile(t, files[0]))
	})

	t.Run("discards_stale_segments", func(t *testing.T) {
		m := newTestMerger(t, t.TempDir(), 3)
		m.putSeqs(4, 5)
		require.NoError(t, m.pass())

		m.putSeqs(2, 5)
		require.NoError(t, m.pass())
		require.NoError(t, m.out.Close())

		assert.Equal(t, int64(2), m.stats.stale.Load())
		assert.Zero(t, m.cache.Len())
		assert.Equal(t, concatBodies(4, 5), readFile(t, m.out.Files()[0]))
	})
}

func TestMerger_Gap(t *testing.T) {
	t.Run("rotates_after_limit", func(t *testing.T) {
		m := newTestMerger(t, t.TempDir(), 3)
		m.putSeqs(1, 2, 4, 5, 6)

		require.NoError(t, m.pass())
		assert.Equal(t, int64(3), m.waitingFor)
		assert.Equal(t, 1, m.gapRetries)
		assert.Equal(t, 3, m.cache.Len())

		require.NoError(t, m.pass())
		assert.Equal(t, 2, m.gapRetries)
		assert.Equal(t, 3, m.cache.Len())

		require.NoError(t, m.pass())
		require.NoError(t, m.out.Close())

		files := m.out.Files()
		require.Len(t, files, 2)
		assert.Equal(t, concatBodies(1, 2), readFile(t, files[0]))
		assert.Equal(t, concatBodies(4, 5, 6), readFile(t, files[1]))
		assert.Equal(t, int64(1), m.stats.rotations.Load())
		assert.Zero(t, m.gapRetries)
		assert.Zero(t, m.cache.Len())
	})

	t.Run("late_segment_fills_gap", func(t *testing.T) {
		m := newTestMerger(t, t.TempDir(), 3)
		m.putSeqs(1, 2, 4)
		require.NoError(t, m.pass())
		require.NoError(t, m.pass())

		m.putSeqs(3)
		require.NoError(t, m.pass())
		require.NoError(t, m.out.Close())

		files := m.out.Files()
		require.Len(t, files, 1)
		assert.Equal(t, concatBodies(1, 2, 3, 4), readFile(t, files[0]))
		assert.Zero(t, m.gapRetries)
		assert.Zero(t, m.stats.rotations.Load())
	})

	t.Run("missing_segment_after_rotation_is_stale", func(t *testing.T) {
		m := newTestMerger(t, t.TempDir(), 1)
		m.putSeqs(1, 3)
		require.NoError(t, m.pass())

		m.putSeqs(2)
		require.NoError(t, m.pass())
		require.NoError(t, m.out.Close())

		assert.Len(t, m.out.Files(), 2)
		assert.Equal(t, int64(1), m.stats.stale.Load())
	})

	t.Run("new_gap_restarts_count", func(t *testing.T) {
		m := newTestMerger(t, t.TempDir(), 3)
		m.putSeqs(1, 3)
		require.NoError(t, m.pass())
		require.NoError(t, m.pass())
		assert.Equal(t, 2, m.gapRetries)

		m.putSeqs(2, 5)
		require.NoError(t, m.pass())
		assert.Equal(t, int64(4), m.waitingFor)
		assert.Equal(t, 1, m.gapRetries)
	})
}

func TestMerger_WriteError(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	m := newTestMerger(t, filepath.Join(blocker, "video"), 3)
	m.putSeqs(1)

	err := m.pass()
	require.Error(t, err)
	assert.Equal(t, 1, m.cache.Len(), "unwritten segment stays cached")
}

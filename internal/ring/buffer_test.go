package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferWriteRead(t *testing.T) {
	buf := New[float64](8, false)

	assert.True(t, buf.Empty())
	assert.Equal(t, 8, buf.Size())
	assert.Equal(t, 8, buf.FreeCount())

	_, err := buf.Write([]float64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 3, buf.FillCount())
	assert.Equal(t, 5, buf.FreeCount())

	dst := make([]float64, 3)
	n, err := buf.Read(dst)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []float64{1, 2, 3}, dst)
	assert.True(t, buf.Empty())
}

func TestBufferOverwriteDropsOldest(t *testing.T) {
	buf := New[int64](4, true)

	overflowed, err := buf.Write([]int64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.False(t, overflowed)
	assert.True(t, buf.Full())

	overflowed, err = buf.Write([]int64{5})
	require.NoError(t, err)
	assert.True(t, overflowed)
	assert.Equal(t, []int64{2, 3, 4, 5}, buf.Unwrap())
	assert.Equal(t, 4, buf.FillCount())
}

func TestBufferRejectWhenFull(t *testing.T) {
	buf := New[float64](4, false)

	_, err := buf.Write([]float64{1, 2, 3, 4})
	require.NoError(t, err)

	_, err = buf.Write([]float64{5})
	assert.ErrorIs(t, err, ErrBufferFull)
	// Failed write leaves contents untouched.
	assert.Equal(t, []float64{1, 2, 3, 4}, buf.Unwrap())

	// Partial room is not enough either; nothing may be written.
	dst := make([]float64, 2)
	_, err = buf.Read(dst)
	require.NoError(t, err)
	_, err = buf.Write([]float64{5, 6, 7})
	assert.ErrorIs(t, err, ErrBufferFull)
	assert.Equal(t, []float64{3, 4}, buf.Unwrap())
}

func TestBufferWrapAround(t *testing.T) {
	buf := New[float64](5, true)

	_, err := buf.Write([]float64{1, 2, 3, 4})
	require.NoError(t, err)
	dst := make([]float64, 2)
	_, err = buf.Read(dst)
	require.NoError(t, err)

	// Write crosses the physical end of the backing slice.
	_, err = buf.Write([]float64{5, 6, 7})
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4, 5, 6, 7}, buf.Unwrap())

	out := make([]float64, 5)
	n, err := buf.Read(out)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []float64{3, 4, 5, 6, 7}, out)
}

func TestBufferClear(t *testing.T) {
	buf := New[float64](4, true)
	_, err := buf.Write([]float64{1, 2, 3})
	require.NoError(t, err)

	buf.Clear()
	assert.True(t, buf.Empty())
	assert.Equal(t, 0, buf.FillCount())
	assert.Empty(t, buf.Unwrap())

	// Reusable after clear.
	_, err = buf.Write([]float64{9})
	require.NoError(t, err)
	assert.Equal(t, []float64{9}, buf.Unwrap())
}

func TestInterleavedFrameCounts(t *testing.T) {
	buf := NewInterleaved[float64](3, 4, true)

	assert.Equal(t, 4, buf.Size())
	assert.Equal(t, 3, buf.Interleave())

	_, err := buf.Write([]float64{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	assert.Equal(t, 2, buf.FillCount())
	assert.Equal(t, 2, buf.FreeCount())

	// Misaligned writes and reads are rejected.
	_, err = buf.Write([]float64{1, 2})
	assert.ErrorIs(t, err, ErrFrameAlignment)
	_, err = buf.Read(make([]float64, 4))
	assert.ErrorIs(t, err, ErrFrameAlignment)

	dst := make([]float64, 3)
	n, err := buf.Read(dst)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []float64{1, 2, 3}, dst)
}

func TestInterleavedOverwriteDropsWholeFrames(t *testing.T) {
	buf := NewInterleaved[float64](2, 3, true)

	_, err := buf.Write([]float64{1, 1, 2, 2, 3, 3})
	require.NoError(t, err)
	overflowed, err := buf.Write([]float64{4, 4})
	require.NoError(t, err)
	assert.True(t, overflowed)
	assert.Equal(t, []float64{2, 2, 3, 3, 4, 4}, buf.Unwrap())
}

func TestBufferFillNeverExceedsSize(t *testing.T) {
	buf := New[float64](16, true)
	chunk := make([]float64, 7)
	for i := 0; i < 100; i++ {
		_, err := buf.Write(chunk)
		require.NoError(t, err)
		require.LessOrEqual(t, buf.FillCount(), buf.Size())
		require.GreaterOrEqual(t, buf.FillCount(), 0)
	}
}

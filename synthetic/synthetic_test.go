package synthetic

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/framegear"
)

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no shape", Config{Frames: 1}},
		{"negative fps", Config{Height: 1, Width: 1, Channels: 1, FPS: -1, Frames: 1}},
		{"no length", Config{Height: 1, Width: 1, Channels: 1}},
		{"duration without fps", Config{Height: 1, Width: 1, Channels: 1, Duration: time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.ErrorIs(t, err, framegear.ErrConfig)
		})
	}
}

func TestNew_DurationToFrames(t *testing.T) {
	src, err := New(Config{Height: 1, Width: 1, Channels: 1, FPS: 25, Duration: 4 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, 100, src.Len())

	src, err = New(Config{Height: 1, Width: 1, Channels: 1, FPS: 25, Frames: 7, Duration: 4 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, 7, src.Len())
}

func TestSource_ReadUntilExhausted(t *testing.T) {
	src, err := New(Config{Height: 4, Width: 5, Channels: 3, Frames: 3})
	require.NoError(t, err)

	assert.Nil(t, src.Read(), "read before start")
	require.NoError(t, src.Start())

	for seq := uint64(1); seq <= 3; seq++ {
		f := src.Read()
		require.NotNil(t, f)
		assert.Equal(t, seq, f.Seq)
		assert.Equal(t, framegear.Uint8, f.DType)
		assert.Len(t, f.Data, 4*5*3)
		assert.False(t, f.Timestamp.IsZero())
		assert.True(t, Generate(seq, 4, 5, 3).Equal(f))
	}
	assert.Nil(t, src.Read())
	assert.Nil(t, src.Read())
}

func TestSource_Pacing(t *testing.T) {
	src, err := New(Config{Height: 1, Width: 1, Channels: 1, FPS: 50, Frames: 6})
	require.NoError(t, err)
	require.NoError(t, src.Start())

	start := time.Now()
	for src.Read() != nil {
	}
	// Burst of one, then 5 frames at 20ms each.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestSource_StopUnblocksRead(t *testing.T) {
	src, err := New(Config{Height: 1, Width: 1, Channels: 1, FPS: 0.5, Frames: 10})
	require.NoError(t, err)
	require.NoError(t, src.Start())
	require.NotNil(t, src.Read())

	var wg sync.WaitGroup
	wg.Add(1)
	var got *framegear.Frame
	go func() {
		defer wg.Done()
		got = src.Read()
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, src.Stop())
	require.NoError(t, src.Stop())

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		assert.Nil(t, got)
	case <-time.After(5 * time.Second):
		t.Fatal("Read did not return after Stop")
	}

	assert.Error(t, src.Start())
}

func TestGenerate_Deterministic(t *testing.T) {
	a := Generate(5, 8, 8, 3)
	b := Generate(5, 8, 8, 3)
	c := Generate(6, 8, 8, 3)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.Equal(t, 8*8*3, a.Size())
}

// Package synthetic provides a deterministic frame source for demos and
// tests. Frame n always carries the same pixels, so a receiver can check
// what it got against Generate.
package synthetic

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/Zereker/framegear"
)

// Config describes the stream. Frames wins over Duration when both are set.
type Config struct {
	Height   int
	Width    int
	Channels int
	// FPS paces Read. Zero produces frames as fast as they are read.
	FPS float64
	// Frames is the number of frames before the source is exhausted.
	Frames int
	// Duration is converted into a frame count using FPS.
	Duration time.Duration
}

// Source generates uint8 frames of a fixed shape.
type Source struct {
	cfg     Config
	total   uint64
	limiter *rate.Limiter

	mu      sync.Mutex
	next    uint64
	started bool

	ctx  context.Context
	stop context.CancelFunc
}

var _ framegear.Source = (*Source)(nil)

// New validates cfg and returns an unstarted source.
func New(cfg Config) (*Source, error) {
	if cfg.Height <= 0 || cfg.Width <= 0 || cfg.Channels <= 0 {
		return nil, errors.Wrapf(framegear.ErrConfig, "bad shape (%d, %d, %d)", cfg.Height, cfg.Width, cfg.Channels)
	}
	if cfg.FPS < 0 {
		return nil, errors.Wrapf(framegear.ErrConfig, "negative fps %v", cfg.FPS)
	}

	total := cfg.Frames
	if total <= 0 && cfg.Duration > 0 {
		if cfg.FPS == 0 {
			return nil, errors.Wrap(framegear.ErrConfig, "duration needs a frame rate")
		}
		total = int(cfg.Duration.Seconds()*cfg.FPS + 0.5)
	}
	if total <= 0 {
		return nil, errors.Wrap(framegear.ErrConfig, "source needs a frame count or a duration")
	}

	limit := rate.Inf
	if cfg.FPS > 0 {
		limit = rate.Limit(cfg.FPS)
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Source{
		cfg:     cfg,
		total:   uint64(total),
		limiter: rate.NewLimiter(limit, 1),
		ctx:     ctx,
		stop:    stop,
	}, nil
}

// Len returns the number of frames the source produces.
func (s *Source) Len() int {
	return int(s.total)
}

// Start arms the source. Read returns nil before Start.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return errors.New("source stopped")
	}
	s.started = true
	return nil
}

// Read waits for the next frame slot and returns the frame, or nil once
// the source is exhausted or stopped.
func (s *Source) Read() *framegear.Frame {
	s.mu.Lock()
	if !s.started || s.next >= s.total || s.ctx.Err() != nil {
		s.mu.Unlock()
		return nil
	}
	s.next++
	seq := s.next
	s.mu.Unlock()

	if err := s.limiter.Wait(s.ctx); err != nil {
		return nil
	}

	f := Generate(seq, s.cfg.Height, s.cfg.Width, s.cfg.Channels)
	f.Timestamp = time.Now()
	return f
}

// Stop ends the stream; a Read waiting for its slot returns nil. Safe to
// call multiple times.
func (s *Source) Stop() error {
	s.stop()
	return nil
}

// Generate returns frame seq of a stream with the given shape. Sequence
// numbers start at 1.
func Generate(seq uint64, height, width, channels int) *framegear.Frame {
	data := make([]byte, height*width*channels)
	for y := 0; y < height; y++ {
		row := data[y*width*channels : (y+1)*width*channels]
		for x := 0; x < width; x++ {
			for c := 0; c < channels; c++ {
				row[x*channels+c] = byte(uint64(x+y*3+c*7) + seq)
			}
		}
	}
	return &framegear.Frame{
		Height:   height,
		Width:    width,
		Channels: channels,
		DType:    framegear.Uint8,
		Data:     data,
		Seq:      seq,
	}
}

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/Zereker/framegear"
	"github.com/Zereker/framegear/synthetic"
)

type flags struct {
	config      string
	address     string
	port        int
	receive     bool
	async       bool
	pattern     int
	compression string
	metrics     string

	height   int
	width    int
	fps      float64
	duration time.Duration
}

func parseFlags() flags {
	var f flags
	pflag.StringVar(&f.config, "config", "", "YAML config file")
	pflag.StringVar(&f.address, "address", "127.0.0.1", "address to bind (receive) or dial (send)")
	pflag.IntVar(&f.port, "port", 5555, "port to bind or dial")
	pflag.BoolVar(&f.receive, "receive", false, "run the receiving side")
	pflag.BoolVar(&f.async, "async", false, "use the asynchronous gear")
	pflag.IntVar(&f.pattern, "pattern", int(framegear.PushPull), "pattern code: 0 request-reply, 1 publish-subscribe, 2 push-pull")
	pflag.StringVar(&f.compression, "compression", "none", "frame compression: none, lz4, zstd")
	pflag.StringVar(&f.metrics, "metrics", "", "serve prometheus metrics on this address")
	pflag.IntVar(&f.height, "height", 64, "synthetic frame height")
	pflag.IntVar(&f.width, "width", 64, "synthetic frame width")
	pflag.Float64Var(&f.fps, "fps", 25, "synthetic frame rate")
	pflag.DurationVar(&f.duration, "duration", 4*time.Second, "synthetic stream length")
	pflag.Parse()
	return f
}

// options merges the config file with the flags set on the command line
// and reports the resulting role.
func (f *flags) options() ([]framegear.Option, error) {
	var opts []framegear.Option
	if f.config != "" {
		cfg, err := framegear.LoadConfig(f.config)
		if err != nil {
			return nil, err
		}
		opts = append(opts, cfg.Options()...)
		if !pflag.CommandLine.Changed("receive") {
			f.receive = cfg.ReceiveMode
		}
	}

	changed := func(name string) bool {
		return f.config == "" || pflag.CommandLine.Changed(name)
	}
	if changed("address") || changed("port") {
		opts = append(opts, framegear.AddressOption(f.address, f.port))
	}
	if changed("receive") {
		opts = append(opts, framegear.ReceiveModeOption(f.receive))
	}
	if changed("pattern") {
		p, err := framegear.ParsePattern(f.pattern)
		if err != nil {
			return nil, err
		}
		opts = append(opts, framegear.PatternOption(p))
	}
	if changed("compression") {
		c, err := framegear.ParseCompression(f.compression)
		if err != nil {
			return nil, err
		}
		opts = append(opts, framegear.CompressionOption(c))
	}

	opts = append(opts, framegear.LoggerOption(slog.Default()))
	return opts, nil
}

func main() {
	f := parseFlags()

	opts, err := f.options()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if f.metrics != "" {
		serveMetrics(f.metrics)
	}

	if !f.receive {
		src, err := synthetic.New(synthetic.Config{
			Height:   f.height,
			Width:    f.width,
			Channels: 3,
			FPS:      f.fps,
			Duration: f.duration,
		})
		if err != nil {
			slog.Error("invalid source", "error", err)
			os.Exit(1)
		}
		opts = append(opts, framegear.SourceOption(src))
	}

	if f.async {
		err = runAsync(ctx, f.receive, opts)
	} else {
		err = runSync(ctx, f.receive, opts)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("stream failed", "error", err)
		os.Exit(1)
	}
}

func runSync(ctx context.Context, receive bool, opts []framegear.Option) error {
	gear, err := framegear.New(opts...)
	if err != nil {
		return err
	}
	defer gear.Close(false)

	if err := gear.Launch(ctx); err != nil {
		return err
	}

	if !receive {
		return gear.Serve(ctx)
	}

	count := 0
	for {
		frame, err := gear.Recv(ctx)
		if err != nil {
			return err
		}
		if frame == nil {
			break
		}
		count++
	}
	slog.Info("stream finished", "frames", count, "stats", gear.Stats())
	return nil
}

func runAsync(ctx context.Context, receive bool, opts []framegear.Option) error {
	gear, err := framegear.NewAsync(opts...)
	if err != nil {
		return err
	}
	defer gear.Close(false)

	handle, err := gear.Launch(ctx)
	if err != nil {
		return err
	}

	if receive {
		count := 0
		for range handle.Frames(ctx) {
			count++
		}
		slog.Info("stream finished", "frames", count, "stats", gear.Stats())
	}
	return handle.Wait()
}

func serveMetrics(addr string) {
	reg := prometheus.NewRegistry()
	if err := framegear.RegisterMetrics(reg); err != nil {
		slog.Error("failed to register metrics", "error", err)
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		slog.Info("metrics server start", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()
}

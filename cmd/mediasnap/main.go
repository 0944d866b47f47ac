// Command mediasnap is a terminal demo of the Overview Engine and Snapshot
// Generator: point it at a media file, and it reports the overview
// thumbnail strip, the audio waveform summary, and a scrub session's
// sliding-window snapshots, grounded on cmd/prism/main.go's
// errgroup+slog+signal-driven main loop.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/opencodewin/MediaEditor-sub013/container"
	"github.com/opencodewin/MediaEditor-sub013/convert"
	"github.com/opencodewin/MediaEditor-sub013/generator"
	"github.com/opencodewin/MediaEditor-sub013/hwaccel"
	"github.com/opencodewin/MediaEditor-sub013/media"
	"github.com/opencodewin/MediaEditor-sub013/overview"
)

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: mediasnap <path-or-url>")
		os.Exit(2)
	}
	src := os.Args[1]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	overviewCount := envInt("OVERVIEW_COUNT", 20)
	windowFrames := envInt("SCRUB_FRAME_COUNT", 14)
	windowMs := envInt("SCRUB_WINDOW_MS", 7000)
	hwAccel := hwaccel.DeviceType(envOr("HW_ACCEL", ""))

	g, ctx := errgroup.WithContext(ctx)

	var ov *overview.Overview
	g.Go(func() error {
		var err error
		ov, err = runOverview(ctx, src, overviewCount, hwAccel)
		return err
	})

	if err := g.Wait(); err != nil {
		slog.Error("overview failed", "error", err)
		os.Exit(1)
	}

	printOverview(ov, overviewCount)
	if err := ov.Close(); err != nil {
		slog.Warn("overview close", "error", err)
	}

	if err := runScrubDemo(ctx, src, windowMs, windowFrames, hwAccel); err != nil {
		slog.Error("scrub demo failed", "error", err)
		os.Exit(1)
	}
}

func runOverview(ctx context.Context, src string, count int, hw hwaccel.DeviceType) (*overview.Overview, error) {
	videoParser := container.NewSource(src, slog.Default())
	info, err := videoParser.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", src, err)
	}
	videoDesc, ok := info.VideoStream()
	if !ok {
		return nil, fmt.Errorf("%q has no video stream", src)
	}
	_ = videoParser.Close() // overview.Open reopens its own parser instance

	var audioParser container.MediaParser
	audioIndex := -1
	if ad, ok := info.AudioStream(); ok {
		audioIndex = ad.Index
		audioParser = container.NewSource(src, slog.Default())
	}

	bar := progressbar.NewOptions(count,
		progressbar.OptionSetDescription(color.CyanString("building overview")),
		progressbar.OptionSetWriter(os.Stderr),
	)

	ov := overview.New(slog.Default())
	cfg := overview.Config{
		OverviewCount:    count,
		VideoStreamIndex: videoDesc.Index,
		AudioStreamIndex: audioIndex,
		HWAccel:          hw,
		KeepAspect:       true,
		VideoConfig: convert.VideoConfig{
			Mode: convert.SizeKeepAspectBound, Width: 160, Height: 90,
			OutFormat: media.ColorFormatRGBA8, Interp: media.InterpolationBilinear,
		},
		SingleFramePixels: 1,
		DisplayWidth:      1920,
	}

	openParser := container.NewSource(src, slog.Default())
	if err := ov.Open(ctx, src, openParser, audioParser, cfg); err != nil {
		return nil, fmt.Errorf("overview open: %w", err)
	}

	deadline := time.Now().Add(30 * time.Second)
	ready := 0
	for ready < count && time.Now().Before(deadline) {
		snaps := ov.GetSnapshots()
		ready = countReady(snaps)
		_ = bar.Set(ready)
		select {
		case <-ctx.Done():
			return ov, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	_ = bar.Finish()

	return ov, nil
}

func countReady(snaps []media.Snapshot) int {
	n := 0
	for _, s := range snaps {
		if s.Ready() {
			n++
		}
	}
	return n
}

func printOverview(ov *overview.Overview, count int) {
	snaps := ov.GetSnapshots()
	fmt.Printf("%s %d/%d thumbnails ready\n", color.GreenString("overview:"), countReady(snaps), count)
	if ov.HasAudio() {
		wf := ov.GetWaveform()
		fmt.Printf("%s %d aggregate windows, range [%.3f, %.3f]\n", color.GreenString("waveform:"), wf.ValidCount, wf.Min, wf.Max)
	} else {
		fmt.Println(color.YellowString("waveform: source has no audio stream"))
	}
}

// runScrubDemo opens a second, independent Generator configured as a sliding
// scrub window and walks it across a handful of positions, printing readiness
// as it goes — a minimal stand-in for a timeline scrubber driving Viewer.Seek.
func runScrubDemo(ctx context.Context, src string, windowMs, frameCount int, hw hwaccel.DeviceType) error {
	parser := container.NewSource(src, slog.Default())
	info, err := parser.Open(ctx)
	if err != nil {
		return fmt.Errorf("open %q: %w", src, err)
	}
	videoDesc, ok := info.VideoStream()
	if !ok {
		return fmt.Errorf("%q has no video stream", src)
	}

	gen := generator.New(slog.Default())
	gcfg := generator.Config{
		StreamIndex: videoDesc.Index,
		HWAccel:     hw,
		VideoConfig: convert.VideoConfig{
			Mode: convert.SizeKeepAspectBound, Width: 160, Height: 90,
			OutFormat: media.ColorFormatRGBA8, Interp: media.InterpolationBilinear,
		},
		CacheFactor: 10,
	}
	if err := gen.Open(ctx, src, parser, gcfg); err != nil {
		return fmt.Errorf("generator open: %w", err)
	}
	defer gen.Close()

	gen.ConfigSnapWindow(float64(windowMs), frameCount, true)
	viewer := gen.CreateViewer(0)
	defer gen.ReleaseViewer(viewer)

	positions := []int64{0, info.DurationMs / 4, info.DurationMs / 2, info.DurationMs * 3 / 4}
	for _, pos := range positions {
		viewer.Seek(pos)
		time.Sleep(500 * time.Millisecond)
		snaps := viewer.GetSnapshots()
		fmt.Printf("%s pos=%dms ready=%d/%d\n", color.CyanString("scrub:"), pos, countReady(snaps), len(snaps))
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

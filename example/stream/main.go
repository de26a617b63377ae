// Command stream runs live food detection on a camera or video file and
// prints the detections and runtime metrics.  Pressing Enter pauses and
// resumes the session
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	nutrivision "github.com/nutrivision/go-nutrivision"
	"github.com/nutrivision/go-nutrivision/camera"
	"github.com/nutrivision/go-nutrivision/render"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {

	app := &cli.App{
		Name:  "stream",
		Usage: "detect food items in a live camera stream",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.StringFlag{
				Name:  "model",
				Usage: "detector model `FILE`",
			},
			&cli.StringFlag{
				Name:  "labels",
				Usage: "class labels `FILE`",
			},
			&cli.StringSliceFlag{
				Name:  "backend",
				Usage: "inference backends to try in order",
			},
			&cli.StringFlag{
				Name:  "source",
				Value: "0",
				Usage: "capture device index, video file or stream URL",
			},
			&cli.IntFlag{
				Name:  "width",
				Usage: "requested capture width",
			},
			&cli.IntFlag{
				Name:  "height",
				Usage: "requested capture height",
			},
			&cli.BoolFlag{
				Name:  "loop",
				Usage: "restart video files when they end",
			},
			&cli.IntFlag{
				Name:  "rotation",
				Usage: "sensor orientation in degrees, one of 0, 90, 180, 270",
			},
			&cli.BoolFlag{
				Name:  "front",
				Usage: "mirror frames as from a front facing camera",
			},
			&cli.IntFlag{
				Name:  "frame-skip",
				Usage: "process every Nth frame",
			},
			&cli.DurationFlag{
				Name:  "min-interval",
				Usage: "minimum time between inferences",
			},
			&cli.Float64Flag{
				Name:  "conf",
				Usage: "confidence threshold",
			},
			&cli.Float64Flag{
				Name:  "iou",
				Usage: "NMS IoU threshold",
			},
			&cli.StringFlag{
				Name:  "dump",
				Usage: "write annotated frames into `DIR`",
			},
			&cli.IntFlag{
				Name:  "dump-every",
				Value: 30,
				Usage: "dump one in N processed frames",
			},
			&cli.IntSliceFlag{
				Name:  "cpu",
				Usage: "pin the inference worker to these CPU cores",
			},
			&cli.StringFlag{
				Name:  "platform",
				Usage: "pin the inference worker by platform, one of rk3566, rk3576, rk3588",
			},
			&cli.StringFlag{
				Name:  "cores",
				Value: "fast",
				Usage: "platform core type to pin to, one of fast, slow, all",
			},
			&cli.DurationFlag{
				Name:  "metrics",
				Value: 5 * time.Second,
				Usage: "metrics print interval",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {

	logger, err := nutrivision.NewLogger(c.Bool("debug"))

	if err != nil {
		return fmt.Errorf("error creating logger: %w", err)
	}

	defer logger.Sync()

	cfg, err := loadConfig(c)

	if err != nil {
		return err
	}

	opts := nutrivision.Options{Logger: logger}

	if dir := c.String("dump"); dir != "" {
		dumper, err := render.NewDumper(dir, render.WithEvery(c.Int("dump-every")))

		if err != nil {
			return err
		}

		opts.Dumper = dumper
	}

	ctrl, err := nutrivision.NewController(cfg, opts)

	if err != nil {
		return err
	}

	defer ctrl.Dispose()

	dev := camera.New(camera.Config{
		Source: c.String("source"),
		Width:  c.Int("width"),
		Height: c.Int("height"),
		Loop:   c.Bool("loop"),
	}, camera.Options{Logger: logger})

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	frameOpts := nutrivision.FrameOptions{
		SensorOrientation: c.Int("rotation"),
		FrontCamera:       c.Bool("front"),
		FrameSkip:         cfg.FrameSkip,
	}

	if c.IsSet("conf") {
		frameOpts.ConfidenceThreshold = nutrivision.Threshold(float32(c.Float64("conf")))
	}

	if c.IsSet("iou") {
		frameOpts.IoUThreshold = nutrivision.Threshold(float32(c.Float64("iou")))
	}

	session := nutrivision.NewLiveSession(ctrl, dev, nutrivision.SessionOptions{
		Frame: frameOpts,
		OnResult: func(res *nutrivision.FrameResult) {
			printResult(res)
		},
		OnError: func(err error) {
			logger.Warn("frame error", zap.Error(err))
		},
		Logger: logger,
	})

	if err := session.Start(ctx); err != nil {
		return err
	}

	defer session.Stop()

	go togglePause(ctx, session, logger)

	ticker := time.NewTicker(c.Duration("metrics"))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			printMetrics(ctrl.Metrics())
			return nil

		case <-dev.Ended():
			printMetrics(ctrl.Metrics())
			return nil

		case <-ticker.C:
			printMetrics(ctrl.Metrics())
		}
	}
}

// togglePause pauses and resumes the session each time Enter is pressed
func togglePause(ctx context.Context, session *nutrivision.LiveSession, logger *zap.Logger) {

	scanner := bufio.NewScanner(os.Stdin)
	paused := false

	for scanner.Scan() {

		var err error

		if paused {
			err = session.Resume(ctx)
		} else {
			err = session.Pause()
		}

		if err != nil {
			logger.Error("error toggling session", zap.Error(err))
			continue
		}

		paused = !paused
	}
}

func printResult(res *nutrivision.FrameResult) {

	fmt.Printf("frame %dx%d: %d detections in %s\n", res.OutputWidth, res.OutputHeight,
		len(res.Detections), res.InferenceTime)

	for _, d := range res.Detections {
		fmt.Printf("  %s\n", d.String())
	}
}

func printMetrics(m nutrivision.Metrics) {
	fmt.Printf("fps=%.1f latency min/avg/max=%s/%s/%s conf=%.2f frames=%d session=%s dropped=%d rejected=%+v\n",
		m.FPS, m.MinLatency, m.AvgLatency, m.MaxLatency, m.AvgConfidence, m.TotalFrames,
		m.SessionDuration.Round(time.Second), m.DroppedFrames, m.Rejected)
}

// loadConfig reads the config file if given and applies the flag overrides
func loadConfig(c *cli.Context) (nutrivision.Config, error) {

	cfg := nutrivision.DefaultConfig()

	if path := c.String("config"); path != "" {
		var err error
		cfg, err = nutrivision.LoadConfig(path)

		if err != nil {
			return cfg, err
		}
	}

	if c.IsSet("model") {
		cfg.ModelFile = c.String("model")
	}

	if c.IsSet("labels") {
		cfg.LabelsFile = c.String("labels")
	}

	if c.IsSet("backend") {
		cfg.Backends = c.StringSlice("backend")
	}

	if c.IsSet("frame-skip") {
		cfg.FrameSkip = c.Int("frame-skip")
	}

	if c.IsSet("min-interval") {
		cfg.MinInterval = c.Duration("min-interval")
	}

	if c.IsSet("cpu") {
		cfg.WorkerCPUs = c.IntSlice("cpu")
	}

	if platform := c.String("platform"); platform != "" {
		ct, err := nutrivision.ParseCoreType(c.String("cores"))

		if err != nil {
			return cfg, err
		}

		cores, err := nutrivision.PlatformCores(platform, ct)

		if err != nil {
			return cfg, err
		}

		cfg.WorkerCPUs = cores
	}

	if cfg.ModelFile == "" {
		return cfg, fmt.Errorf("no model file given, use --model or model_file in the config")
	}

	return cfg, nil
}

// Command detect runs the food detector on still images and prints the
// detections, optionally saving an annotated copy of each image
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	nutrivision "github.com/nutrivision/go-nutrivision"
	"github.com/nutrivision/go-nutrivision/preprocess"
	"github.com/nutrivision/go-nutrivision/render"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {

	app := &cli.App{
		Name:      "detect",
		Usage:     "detect food items in still images",
		ArgsUsage: "IMAGE...",
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
			&cli.Float64Flag{
				Name:  "conf",
				Usage: "confidence threshold",
			},
			&cli.Float64Flag{
				Name:  "iou",
				Usage: "NMS IoU threshold",
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "save annotated images into `DIR`",
			},
			&cli.BoolFlag{
				Name:  "query",
				Usage: "print the model tensors",
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

	if c.NArg() == 0 {
		return fmt.Errorf("no images given")
	}

	logger, err := nutrivision.NewLogger(c.Bool("debug"))

	if err != nil {
		return fmt.Errorf("error creating logger: %w", err)
	}

	defer logger.Sync()

	cfg, err := loadConfig(c)

	if err != nil {
		return err
	}

	ctrl, err := nutrivision.NewController(cfg, nutrivision.Options{Logger: logger})

	if err != nil {
		return err
	}

	defer ctrl.Dispose()

	var th nutrivision.Thresholds

	if c.IsSet("conf") {
		th.Confidence = nutrivision.Threshold(float32(c.Float64("conf")))
	}

	if c.IsSet("iou") {
		th.IoU = nutrivision.Threshold(float32(c.Float64("iou")))
	}

	ctx := c.Context
	first := true

	for _, path := range c.Args().Slice() {

		if err := detectImage(ctx, ctrl, path, th, c.String("out"), logger); err != nil {
			logger.Error("error detecting image", zap.String("image", path), zap.Error(err))
			continue
		}

		if first && c.Bool("query") {
			if err := ctrl.Query(os.Stdout); err != nil {
				return err
			}
		}

		first = false
	}

	return nil
}

func detectImage(ctx context.Context, ctrl *nutrivision.Controller, path string,
	th nutrivision.Thresholds, outDir string, logger *zap.Logger) error {

	img, err := preprocess.DecodeFile(path)

	if err != nil {
		return err
	}

	dets, err := ctrl.Detect(ctx, img, th)

	if err != nil {
		return err
	}

	fmt.Printf("%s: %dx%d, %d detections\n", path, img.Width, img.Height, len(dets))

	for _, d := range dets {
		fmt.Printf("  %s\n", d.String())
	}

	if outDir == "" {
		return nil
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	out := filepath.Join(outDir, base+"_detect.jpg")

	if err := render.SaveJPEG(out, img, dets, render.DefaultStyle(), 90); err != nil {
		return err
	}

	logger.Info("saved annotated image", zap.String("file", out))

	return nil
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

	if cfg.ModelFile == "" {
		return cfg, fmt.Errorf("no model file given, use --model or model_file in the config")
	}

	return cfg, nil
}

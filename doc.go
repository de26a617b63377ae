/*
Package nutrivision detects food items in camera streams and still photos.

A Controller owns a single detector model loaded through one of the
registered inference backends (onnxruntime execution providers, or the
Rockchip NPU when built with the rknn tag), tried in configured order until
one loads the model and passes a smoke inference.  Camera frames arrive as
planar YUV 4:2:0 and pass through an admission gate (active, not busy,
frame decimation, minimum interval) before being converted to RGB,
letterboxed into the model input, run, decoded back to image coordinates
and de-duplicated with per class Non-Maximum Suppression.

	ctrl, err := nutrivision.NewController(cfg, nutrivision.Options{Logger: logger})
	...
	if err := ctrl.StartDetection(ctx); err != nil {
		...
	}

	res, err := ctrl.ProcessFrame(ctx, frame, nutrivision.FrameOptions{SensorOrientation: 90})

Frames are converted with OpenCV when built with the gocv tag and with the
portable software converter otherwise, so the detector core builds without
OpenCV.  A nil result with a nil error means the frame was dropped.  Still images are
run with Detect or DetectFile which bypass admission control.

See the example subdirectory for command line programs.
*/
package nutrivision

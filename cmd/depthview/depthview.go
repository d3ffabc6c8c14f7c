package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/depthview/pkg/config"
	"github.com/cyclopcam/depthview/pkg/device"
	"github.com/cyclopcam/depthview/pkg/kibi"
	"github.com/cyclopcam/depthview/pkg/nn"
	"github.com/cyclopcam/depthview/pkg/nnfamily"
	"github.com/cyclopcam/depthview/server"
	"github.com/cyclopcam/depthview/server/eventdb"
	"github.com/cyclopcam/depthview/server/monitor"
	"github.com/cyclopcam/logs"
)

func main() {
	defaults := config.DefaultArgs()

	parser := argparse.NewParser("depthview", "Host side viewer for a depth camera with an on-board neural network")
	cnnModel := parser.String("", "cnn-model", &argparse.Options{Help: "Neural network to run on the device", Default: "mobilenet-ssd"})
	cnnModel2 := parser.String("", "cnn-model2", &argparse.Options{Help: "Second stage network, which runs on the detections of the first (eg emotions-recognition-retail-0003)", Default: ""})
	cnnPath := parser.String("", "cnn-path", &argparse.Options{Help: "Directory of neural networks", Default: "resources/nn"})
	cnnInputSize := parser.String("", "cnn-input-size", &argparse.Options{Help: "NN input size, as <width>x<height>. Default is the size of the known model.", Default: ""})
	streams := parser.StringList("s", "streams", &argparse.Options{Help: "Streams to enable, as <name> or <name>,<max_fps>. May be repeated.", Default: []string{"metaout", "previewout"}})
	board := parser.String("b", "board", &argparse.Options{Help: "Board configuration. Either a path, or the name of a board in --boards-dir.", Default: ""})
	boardsDir := parser.String("", "boards-dir", &argparse.Options{Help: "Directory of board configuration files", Default: "resources/boards"})
	configOverwrite := parser.String("", "config-overwrite", &argparse.Options{Help: "JSON document that is merged on top of the configuration", Default: ""})
	calibration := parser.String("", "calibration", &argparse.Options{Help: "Stereo calibration file", Default: ""})
	forceUSB2 := parser.Flag("", "force-usb2", &argparse.Options{Help: "Limit the device link to USB2 speeds", Default: false})
	deviceID := parser.String("", "device-id", &argparse.Options{Help: "Serial number or index of the device", Default: ""})
	replayFile := parser.String("", "replay", &argparse.Options{Help: "Play back a recorded session instead of opening a device", Default: ""})
	replayLoop := parser.Flag("", "loop", &argparse.Options{Help: "Restart the replay when it reaches the end", Default: false})
	web := parser.Flag("", "web", &argparse.Options{Help: "Serve the annotated preview over HTTP", Default: false})
	httpAddr := parser.String("", "http", &argparse.Options{Help: "HTTP listen address for --web", Default: ":8090"})
	previewStream := parser.String("", "preview-stream", &argparse.Options{Help: "Stream that is shown by --web", Default: device.StreamPreview})
	drawBBDepth := parser.Flag("", "draw-bb-depth", &argparse.Options{Help: "Draw detections on the mono and depth streams", Default: false})
	disableDepth := parser.Flag("", "disable-depth", &argparse.Options{Help: "Don't compute the spatial coordinates of detections", Default: false})
	fullFOV := parser.Flag("", "full-fov-nn", &argparse.Options{Help: "Squash the full field of view into the NN input, instead of cropping", Default: false})
	shaves := parser.Int("", "shaves", &argparse.Options{Help: "Number of SHAVE cores for the network", Default: defaults.Shaves})
	cmxSlices := parser.Int("", "cmx-slices", &argparse.Options{Help: "Number of CMX slices for the network", Default: defaults.CMXSlices})
	nces := parser.Int("", "nces", &argparse.Options{Help: "Number of NCEs for the network", Default: defaults.NCEs})
	threshold := parser.Float("", "threshold", &argparse.Options{Help: "Detection confidence threshold. Default comes from the model metadata.", Default: -1.0})
	watchdogSeconds := parser.Float("", "watchdog", &argparse.Options{Help: "Seconds without data before we give up on the device. 0 = default, negative = disabled.", Default: 0.0})
	dumpDir := parser.String("", "dump-dir", &argparse.Options{Help: "Save annotated frames here, once per second per stream", Default: ""})
	videoFile := parser.String("", "video", &argparse.Options{Help: "Enable the encoded video stream, and write it to this file", Default: ""})
	videoMaxSize := parser.String("", "video-max-size", &argparse.Options{Help: "Stop recording video at this size, eg '500 MB'", Default: ""})
	eventDBFile := parser.String("", "eventdb", &argparse.Options{Help: "Record detections into this SQLite database", Default: ""})
	twoStageLabels := parser.String("", "labels", &argparse.Options{Help: "Comma separated label indices that are sent to the second stage network. Default is all.", Default: ""})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(monitor.ExitCodeConfig)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	fail := func(code int, format string, args ...any) {
		logger.Errorf(format, args...)
		os.Exit(code)
	}

	// Neural network files
	calcDistToBB := !*disableDepth
	if *replayFile != "" {
		logger.Infof("Replaying %v", *replayFile)
	}
	modelFiles, err := config.ResolveModel(*cnnPath, *cnnModel, calcDistToBB)
	if err != nil {
		if *replayFile == "" {
			fail(monitor.ExitCodeDevice, "%v", err)
		}
		// The blob was compiled into the recording. We only need the metadata, if it's there.
		logger.Warnf("%v", err)
	}
	var modelConfig *nn.ModelConfig
	if _, statErr := os.Stat(modelFiles.Config); statErr == nil {
		if modelConfig, err = nn.LoadModelConfig(modelFiles.Config); err != nil {
			fail(monitor.ExitCodeConfig, "%v", err)
		}
	}
	inputW, inputH, err := nn.InputSize(*cnnModel, *cnnInputSize)
	if err != nil {
		fail(monitor.ExitCodeConfig, "%v", err)
	}
	logger.Infof("NN %v, input %v x %v", *cnnModel, inputW, inputH)

	// Configuration
	args := defaults
	if args.Streams, err = config.ParseStreams(*streams); err != nil {
		fail(monitor.ExitCodeConfig, "%v", err)
	}
	args.CalibrationFile = *calibration
	args.BlobFile = modelFiles.Blob
	args.BlobFileConfig = modelFiles.Config
	args.CalcDistToBB = calcDistToBB
	args.FullFOVNN = *fullFOV
	args.Shaves = *shaves
	args.CMXSlices = *cmxSlices
	args.NCEs = *nces
	cfg, err := config.Build(args, *board, *boardsDir, *configOverwrite)
	if err != nil {
		fail(monitor.ExitCodeConfig, "%v", err)
	}
	var videoOut *os.File
	var videoMaxBytes int64
	if *videoFile != "" {
		if *videoMaxSize != "" {
			if videoMaxBytes, err = kibi.ParseBytes(*videoMaxSize); err != nil {
				fail(monitor.ExitCodeConfig, "Invalid --video-max-size '%v': %v", *videoMaxSize, err)
			}
		}
		config.AddStream(cfg, device.StreamVideo)
		videoOut = openVideo(logger, cfg, *videoFile)
	}
	if *cnnModel2 != "" {
		config.AddStream(cfg, device.StreamSecondStage)
		if ai, ok := cfg["ai"].(config.Map); ok {
			ai["blob_file2"] = filepath.Join(*cnnPath, *cnnModel2, *cnnModel2+".blob")
		}
	}
	labelFilter, err := parseLabels(*twoStageLabels)
	if err != nil {
		fail(monitor.ExitCodeConfig, "%v", err)
	}

	// Device
	var dev device.Device
	devOpts := device.Options{DeviceID: *deviceID, ForceUSB2: *forceUSB2}
	if *replayFile != "" {
		replay, err := device.OpenReplay(logger, *replayFile, devOpts, *replayLoop)
		if err != nil {
			fail(monitor.ExitCodeDevice, "%v", err)
		}
		dev = replay
	} else {
		fail(monitor.ExitCodeDevice, "%v: no device driver is linked into this build. Use --replay.", device.ErrDeviceInit)
	}
	// Every path out of here must close the device, or it can be left in a stuck state
	exit := func(code int) {
		if err := dev.Close(); err != nil {
			logger.Errorf("Failed to close device: %v", err)
		}
		os.Exit(code)
	}

	logger.Infof("Available streams: %v", strings.Join(dev.AvailableStreams(), ", "))
	if err := dev.CreatePipeline(cfg); err != nil {
		logger.Errorf("%v", err)
		exit(monitor.ExitCodePipeline)
	}

	opts := nnfamily.DefaultOptions()
	opts.ConfidenceThreshold = modelConfig.ConfidenceThreshold()
	if *threshold >= 0 {
		opts.ConfidenceThreshold = float32(*threshold)
	}
	opts.PaddingFactor = config.Float(cfg, "depth.padding_factor", opts.PaddingFactor)
	opts.CalcDistToBB = calcDistToBB
	opts.NNToDepth = dev.NNToDepthMapping()
	handler := nnfamily.Select(*cnnModel, modelConfig, opts, logger)
	logger.Infof("NN family %v, %v labels, threshold %v", handler.Family(), len(handler.Labels()), opts.ConfidenceThreshold)

	monOpts := monitor.Options{
		Streams:        config.StreamNames(cfg),
		DrawBBDepth:    *drawBBDepth,
		PreviewStream:  *previewStream,
		DumpDir:        *dumpDir,
		TwoStageLabels: labelFilter,
	}
	if *watchdogSeconds != 0 {
		monOpts.WatchdogTimeout = time.Duration(*watchdogSeconds * float64(time.Second))
	}
	if *cnnModel2 != "" {
		monOpts.SecondStage = nnfamily.Select(*cnnModel2, nil, nnfamily.DefaultOptions(), logger)
	}
	if videoOut != nil {
		monOpts.Video = videoOut
		monOpts.VideoMaxBytes = videoMaxBytes
	}
	if *eventDBFile != "" {
		info := eventdb.SessionInfoJSON{
			Family:  string(handler.Family()),
			Labels:  handler.Labels(),
			Streams: monOpts.Streams,
			Replay:  *replayFile,
		}
		db, err := eventdb.NewEventDB(logger, *eventDBFile, *cnnModel, info)
		if err != nil {
			logger.Errorf("%v", err)
			exit(monitor.ExitCodeConfig)
		}
		monOpts.EventDB = db
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var srv *server.Server
	if *web {
		if srv, err = server.NewServer(logger, nil); err != nil {
			logger.Errorf("%v", err)
			exit(monitor.ExitCodeConfig)
		}
		srv.SetConfig(cfg)
		monOpts.Preview = srv
		go func() {
			if err := srv.ListenHTTP(*httpAddr); err != nil {
				logger.Errorf("HTTP server failed: %v", err)
				stop()
			}
		}()
	}

	mon := monitor.NewMonitor(logger, dev, handler, monOpts)
	runErr := mon.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		srv.Shutdown(shutdownCtx)
		cancel()
	}

	code := 0
	var exitErr *monitor.ExitError
	if errors.As(runErr, &exitErr) {
		logger.Errorf("%v", exitErr.Err)
		code = exitErr.Code
	} else if runErr != nil {
		logger.Errorf("%v", runErr)
		code = 1
	}
	if monOpts.EventDB != nil {
		monOpts.EventDB.Close()
	}
	if videoOut != nil {
		logger.Infof("Wrote %v of video to %v", kibi.FormatBytes(mon.VideoBytes()), videoOut.Name())
		videoOut.Close()
	}
	exit(code)
}

// Create the video output file. If we can't, the video stream is removed from cfg, and we carry on without it.
func openVideo(logger logs.Log, cfg config.Map, filename string) *os.File {
	f, err := os.Create(filename)
	if err != nil {
		logger.Errorf("Failed to create video file, so video is disabled: %v", err)
		config.RemoveStream(cfg, device.StreamVideo)
		return nil
	}
	logger.Infof("Recording video to %v", filename)
	return f
}

// Parse the two stage label allow-list, eg "1,3"
func parseLabels(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	labels := []int{}
	for _, part := range strings.Split(s, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid label '%v' in --labels", config.ErrInvalid, part)
		}
		labels = append(labels, v)
	}
	return labels, nil
}

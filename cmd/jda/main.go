package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/esimov/jda"
	"github.com/esimov/jda/utils"
	"go.uber.org/zap"
)

const HelpBanner = `
     ┬┌┬┐┌─┐
     │ ││├─┤
    └┘─┴┘┴ ┴

Joint cascade face detection and alignment.
    Version: %s

`

// pipeName is the file name that indicates stdin/stdout is being used.
const pipeName = "-"

// Version indicates the current build version.
var Version string

var (
	// Flags
	mode        = flag.String("mode", "detect", "Operation: train, resume or detect")
	configPath  = flag.String("config", "", "YAML configuration file")
	modelPath   = flag.String("model", "jda.model", "Model file written by train and read by detect")
	checkpoint  = flag.String("checkpoint", "", "Checkpoint to resume the training from")
	source      = flag.String("in", pipeName, "Source image, directory or URL")
	destination = flag.String("out", pipeName, "Destination image or directory")
	markColor   = flag.String("color", "#ff0000", "Overlay color")
	markType    = flag.String("mark", string(jda.Circle), "Landmark marker: circle or cross")
	thickness   = flag.Int("thickness", 2, "Rectangle thickness")
	radius      = flag.Int("radius", 2, "Landmark marker radius")
	debug       = flag.Bool("debug", false, "Verbose logging")
	workers     = flag.Int("conc", runtime.NumCPU(), "Number of files to process concurrently")
)

func main() {
	log.SetFlags(0)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, HelpBanner, Version)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg := jda.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = jda.LoadConfig(*configPath); err != nil {
			log.Fatalf(
				utils.DecorateText("Failed to load the configuration: %v", utils.ErrorMessage),
				utils.DecorateText(err.Error(), utils.DefaultMessage),
			)
		}
	}

	logger, err := jda.NewLogger(*debug)
	if err != nil {
		log.Fatalf(utils.DecorateText("Unable to create the logger: %v", utils.ErrorMessage), err)
	}
	defer logger.Sync()

	now := time.Now()
	switch *mode {
	case "train":
		err = train(cfg, logger, "")
	case "resume":
		if *checkpoint == "" {
			flag.Usage()
			log.Fatal(utils.DecorateText("\nPlease provide the checkpoint to resume from with the -checkpoint flag!", utils.ErrorMessage))
		}
		err = train(cfg, logger, *checkpoint)
	case "detect":
		op := &Ops{
			Src:      *source,
			Dst:      *destination,
			PipeName: pipeName,
			Workers:  *workers,
			Overlay: jda.Overlay{
				Color:     utils.HexToRGBA(*markColor),
				Mark:      jda.MarkType(*markType),
				Thickness: *thickness,
				Radius:    *radius,
			},
		}
		err = op.Execute(cfg, logger)
	default:
		flag.Usage()
		log.Fatalf(utils.DecorateText("\nUnknown mode %q: use train, resume or detect!", utils.ErrorMessage), *mode)
	}

	if err != nil {
		logger.Error("operation failed", zap.String("mode", *mode), zap.Error(err))
		log.Fatalf(
			utils.DecorateText("\nError: %s", utils.ErrorMessage),
			utils.DecorateText(err.Error(), utils.DefaultMessage),
		)
	}
	fmt.Fprintf(os.Stderr, "\nExecution time: %s\n", utils.DecorateText(utils.FormatTime(time.Since(now)), utils.SuccessMessage))
}

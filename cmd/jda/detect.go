package main

import (
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/esimov/jda"
	"github.com/esimov/jda/cart"
	"github.com/esimov/jda/utils"
	"go.uber.org/zap"
	"golang.org/x/term"
)

// maxWorkers sets the maximum number of concurrently running workers.
const maxWorkers = 20

// validExtensions lists the supported image files.
var validExtensions = []string{".jpg", ".jpeg", ".png", ".bmp"}

// Ops describes a detection run over a file, a directory, a URL or a pipe.
type Ops struct {
	Src, Dst, PipeName string
	Workers            int
	Overlay            jda.Overlay

	cascade *jda.Cascade
	scan    jda.ScanParams
	log     *zap.Logger
}

// result holds the outcome of the detection over one image.
type result struct {
	path  string
	faces int
	err   error
}

// Execute loads the model and runs the detection over the source.
func (op *Ops) Execute(cfg *jda.Config, logger *zap.Logger) error {
	c, err := jda.LoadModel(*modelPath, cart.NewFactory(cfg))
	if err != nil {
		return err
	}
	if !c.Done() {
		logger.Warn("the model is a checkpoint, only its trained carts are used", zap.Stringer("cursor", c.Cursor))
	}
	op.cascade, op.scan, op.log = c, cfg.ScanParams(), logger

	// Check if the source path is a local image or URL.
	if utils.IsValidUrl(op.Src) {
		src, err := utils.DownloadImage(op.Src)
		if src != nil {
			defer os.Remove(src.Name())
			src.Close()
		}
		if err != nil {
			return fmt.Errorf("failed to load the source image: %w", err)
		}
		op.Src = src.Name()
	}

	var fs os.FileInfo
	// Check if the source is a pipe name or a regular file.
	if op.Src == op.PipeName {
		fs, err = os.Stdin.Stat()
	} else {
		fs, err = os.Stat(op.Src)
	}
	if err != nil {
		return fmt.Errorf("failed to load the source image: %w", err)
	}

	spinner := utils.NewSpinner(fmt.Sprintf("%s %s",
		utils.DecorateText("⚡ JDA", utils.StatusMessage),
		utils.DecorateText("⇢ detecting faces...", utils.DefaultMessage),
	), time.Millisecond*80, true)

	// Capture CTRL-C signal and restore back the cursor visibility.
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalChan
		spinner.RestoreCursor()
		os.Exit(1)
	}()

	switch mode := fs.Mode(); {
	case mode.IsDir():
		if _, err := os.Stat(op.Dst); err != nil {
			if err := os.Mkdir(op.Dst, 0755); err != nil {
				return fmt.Errorf("unable to create the destination directory: %w", err)
			}
		}
		// Limit the concurrently running workers to maxWorkers.
		if op.Workers <= 0 || op.Workers > maxWorkers {
			op.Workers = runtime.NumCPU()
		}

		spinner.Start()
		ch := make(chan result)
		done := make(chan any)
		defer close(done)

		paths, errc := walkDir(done, op.Src, validExtensions)

		var wg sync.WaitGroup
		wg.Add(op.Workers)
		for i := 0; i < op.Workers; i++ {
			go func() {
				defer wg.Done()
				op.consumer(ch, done, paths)
			}()
		}
		// Close the channel after the values are consumed.
		go func() {
			defer close(ch)
			wg.Wait()
		}()

		var processed, failed int
		for res := range ch {
			processed++
			if res.err != nil {
				failed++
			}
			op.printOpStatus(res)
			spinner.SetMessage(fmt.Sprintf("%s %s",
				utils.DecorateText("⚡ JDA", utils.StatusMessage),
				utils.DecorateText(fmt.Sprintf("⇢ detecting faces... %d images done", processed), utils.DefaultMessage),
			))
		}
		spinner.Stop()

		if err := <-errc; err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d images could not be processed", failed)
		}
		return nil

	case mode.IsRegular() || mode&os.ModeNamedPipe != 0:
		ext := filepath.Ext(op.Dst)
		if !slices.Contains(validExtensions, ext) && op.Dst != op.PipeName {
			return fmt.Errorf("%v file type not supported", ext)
		}
		spinner.Start()
		faces, err := op.process(op.Src, op.Dst)
		spinner.Stop()
		if err != nil {
			return err
		}
		op.printOpStatus(result{path: op.Dst, faces: faces})
		return nil
	}
	return fmt.Errorf("unsupported source %s", op.Src)
}

// consumer reads the path names from the paths channel and runs the detection over every image.
func (op *Ops) consumer(res chan<- result, done <-chan any, paths <-chan string) {
	for src := range paths {
		dst := filepath.Join(op.Dst, filepath.Base(src))
		faces, err := op.process(src, dst)

		select {
		case <-done:
			return
		case res <- result{path: src, faces: faces, err: err}:
		}
	}
}

// process detects the faces of one image and writes the annotated image.
func (op *Ops) process(in, out string) (int, error) {
	src, dst, err := op.pathToFile(in, out)
	if err != nil {
		return 0, err
	}
	defer func() {
		if f, ok := src.(*os.File); ok && f != os.Stdin {
			if err := f.Close(); err != nil {
				log.Printf("could not close the opened file: %v", err)
			}
		}
	}()
	defer func() {
		if f, ok := dst.(*os.File); ok && f != os.Stdout {
			if err := f.Close(); err != nil {
				log.Printf("could not close the opened file: %v", err)
			}
		}
	}()

	img, _, err := image.Decode(src)
	if err != nil {
		op.removeDst(dst)
		return 0, fmt.Errorf("could not decode the image %s: %w", in, err)
	}
	res := op.cascade.Detect(jda.ToGray(img), op.scan)

	fields := []zap.Field{
		zap.String("image", in),
		zap.Int("faces", res.Count()),
		zap.Int("patches", res.Stats.Patches),
	}
	if avg, ok := res.Stats.AverageRejectDepth(); ok {
		fields = append(fields, zap.Float64("reject_depth", avg))
	}
	op.log.Debug("detection done", fields...)

	if err := jda.EncodeImage(dst, op.Overlay.Draw(img, res)); err != nil {
		op.removeDst(dst)
		return 0, err
	}
	return res.Count(), nil
}

// removeDst removes the destination file in case of an error.
func (op *Ops) removeDst(dst io.Writer) {
	if f, ok := dst.(*os.File); ok && f != os.Stdout {
		os.Remove(f.Name())
	}
}

// pathToFile converts the source and destination paths to readable and writable files.
func (op *Ops) pathToFile(in, out string) (io.Reader, io.Writer, error) {
	var (
		src io.Reader
		dst io.Writer
		err error
	)
	// Check if the source is a pipe name or a regular file.
	if in == op.PipeName {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			return nil, nil, errors.New("`-` should be used with a pipe for stdin")
		}
		src = os.Stdin
	} else {
		src, err = os.Open(in)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to open the source file: %v", err)
		}
	}

	// Check if the destination is a pipe name or a regular file.
	if out == op.PipeName {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			return nil, nil, errors.New("`-` should be used with a pipe for stdout")
		}
		dst = os.Stdout
	} else {
		dst, err = os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to create the destination file: %v", err)
		}
	}
	return src, dst, nil
}

// printOpStatus displays the relevant information about the detection over one image.
func (op *Ops) printOpStatus(res result) {
	if res.err != nil {
		fmt.Fprintf(os.Stderr, "\n%s %s\n",
			utils.DecorateText("Error processing "+filepath.Base(res.path)+":", utils.ErrorMessage),
			utils.DecorateText(res.err.Error(), utils.DefaultMessage),
		)
		return
	}
	if res.path != op.PipeName {
		fmt.Fprintf(os.Stderr, "\n%s: %s face(s) %s\n",
			utils.DecorateText(filepath.Base(res.path), utils.SuccessMessage),
			utils.DecorateText(fmt.Sprint(res.faces), utils.StatusMessage),
			utils.DefaultColor,
		)
	}
}

// walkDir starts a new goroutine to walk the specified directory tree
// in recursive manner and sends the path of each regular file to a new channel.
// It finishes in case the done channel is getting closed.
func walkDir(
	done <-chan any,
	src string,
	srcExts []string,
) (<-chan string, <-chan error) {
	pathChan := make(chan string)
	errChan := make(chan error, 1)

	go func() {
		// Close the paths channel after Walk returns.
		defer close(pathChan)

		errChan <- filepath.Walk(src, func(path string, f os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !f.Mode().IsRegular() || !slices.Contains(srcExts, filepath.Ext(f.Name())) {
				return nil
			}
			select {
			case <-done:
				return errors.New("directory walk cancelled")
			case pathChan <- path:
			}
			return nil
		})
	}()
	return pathChan, errChan
}

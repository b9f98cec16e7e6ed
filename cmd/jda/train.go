package main

import (
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/esimov/jda"
	"github.com/esimov/jda/cart"
	"github.com/esimov/jda/dataset"
	"github.com/esimov/jda/utils"
	"go.uber.org/zap"
)

// train runs a training session, from scratch or from the checkpoint at from,
// and saves the final model.
func train(cfg *jda.Config, logger *zap.Logger, from string) error {
	tc := cfg.Training
	if tc.Positives == "" || tc.Negatives == "" {
		return errors.New("the configuration must name the positive and negative list files")
	}

	logger.Info("loading the training data",
		zap.String("positives", tc.Positives),
		zap.String("negatives", tc.Negatives),
	)
	pos, err := dataset.LoadPositives(tc.Positives, dataset.PositiveOptions{
		Landmarks: cfg.Cascade.Landmarks,
		Window:    cfg.Window,
		Padding:   dataset.DefaultPadding,
	})
	if err != nil {
		return fmt.Errorf("loading the positives: %w", err)
	}
	neg, err := dataset.LoadNegatives(tc.Negatives, dataset.NegativeOptions{
		Window:   cfg.Window,
		Target:   int(math.Ceil(tc.NegRatio * float64(pos.Total()))),
		MaxScans: tc.MaxScans,
		Seed:     tc.Seed,
	})
	if err != nil {
		return fmt.Errorf("loading the negatives: %w", err)
	}

	opts := jda.SessionOptions{
		Factory:     cart.NewFactory(cfg),
		SnapshotDir: tc.SnapshotDir,
		Logger:      logger,
	}
	var session *jda.Session
	if from == "" {
		c, err := jda.NewCascade(cfg.Params(), pos)
		if err != nil {
			return err
		}
		session, err = jda.NewSession(c, pos, neg, opts)
		if err != nil {
			return err
		}
	} else {
		session, err = jda.ResumeFile(from, cfg.Params(), pos, neg, opts)
		if err != nil {
			return err
		}
	}

	// The checkpoints already hold the progress, an interrupted run is resumed from the latest one.
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalChan
		logger.Warn("training interrupted", zap.String("checkpoints", tc.SnapshotDir))
		logger.Sync()
		os.Exit(1)
	}()

	if err := session.Train(); err != nil {
		return err
	}
	if err := session.Cascade().SaveModel(*modelPath); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "\nThe model has been saved as: %s %s\n",
		utils.DecorateText(filepath.Base(*modelPath), utils.SuccessMessage),
		utils.DefaultColor,
	)
	return nil
}

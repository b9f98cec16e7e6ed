package jda

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// maxNameCollisions bounds the suffixes tried when a checkpoint name is already taken.
const maxNameCollisions = 1000

// checkpointName builds the checkpoint file name: jda_tmp_{%Y%m%d-%H%M%S}_{stage}.model,
// where stage is the stage in progress in the range [1..T].
func checkpointName(t time.Time, c *Cascade, n int) string {
	stage := c.Cursor.Stage + 1
	if stage > c.Stages {
		stage = c.Stages
	}
	name := fmt.Sprintf("jda_tmp_%s_%d", t.Format("20060102-150405"), stage)
	if n > 0 {
		name = fmt.Sprintf("%s_%d", name, n)
	}
	return name + ".model"
}

// Snapshot saves the current training state into a new file of the snapshot directory
// and returns its path. Existing checkpoints are never overwritten.
func (s *Session) Snapshot() (string, error) {
	dir := s.opts.SnapshotDir
	if dir == "" {
		return "", errors.New("no snapshot directory configured")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("unable to create the snapshot directory: %w", err)
	}
	tmp, err := writeTemp(dir, s.cascade)
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp)

	now := s.opts.now()
	for n := 0; n < maxNameCollisions; n++ {
		path := filepath.Join(dir, checkpointName(now, s.cascade, n))
		// A hard link fails when the target exists, unlike a rename.
		err := os.Link(tmp, path)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("unable to finalize the snapshot: %w", err)
		}
	}
	return "", fmt.Errorf("no free snapshot name in %s", dir)
}

// Resume rebuilds a training session from a checkpoint. The fixed parameters stored in the
// checkpoint must be equal to p, otherwise ErrConfigMismatch is returned and nothing is resumed.
// The positive pool is regenerated from the raw positives and the negative pool is re-mined
// with the restored cascade; the checkpoint never stores the pools.
func Resume(r io.Reader, p Params, pos, neg SampleStore, opts SessionOptions) (*Session, error) {
	if opts.Factory == nil {
		return nil, errors.New("resuming needs an ensemble factory")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("unable to read the checkpoint: %w", err)
	}
	br := bytes.NewReader(data)
	stored, err := readParams(br)
	if err != nil {
		return nil, err
	}
	if stored != p {
		return nil, fmt.Errorf("%w: checkpoint has %+v, configuration has %+v", ErrConfigMismatch, stored, p)
	}
	c, err := readBody(br, stored, opts.Factory)
	if err != nil {
		return nil, err
	}
	if opts.Logger != nil {
		opts.Logger.Info("resuming training",
			zap.Stringer("cursor", c.Cursor),
			zap.Int("ensembles", len(c.Ensembles)),
		)
	}
	return NewSession(c, pos, neg, opts)
}

// ResumeFile resumes a training session from a checkpoint file.
func ResumeFile(path string, p Params, pos, neg SampleStore, opts SessionOptions) (*Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open the checkpoint: %w", err)
	}
	defer f.Close()

	return Resume(f, p, pos, neg, opts)
}

package jda

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SessionOptions configures a training session.
type SessionOptions struct {
	// Factory creates the ensemble of every new stage.
	Factory EnsembleFactory
	// SnapshotDir is the directory receiving the checkpoints. No checkpoint is written when empty.
	SnapshotDir string
	Logger      *zap.Logger

	now func() time.Time
}

// Session is one training run. It owns the two sample pools for its whole lifetime;
// the cascade it trains is mutated only from the goroutine calling Train.
type Session struct {
	cascade  *Cascade
	pos, neg SampleStore
	opts     SessionOptions
	log      *zap.Logger
}

// NewSession starts a training session over c. Both pools are regenerated against
// the current state of the cascade before training starts.
func NewSession(c *Cascade, pos, neg SampleStore, opts SessionOptions) (*Session, error) {
	if opts.Factory == nil {
		return nil, errors.New("a training session needs an ensemble factory")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	s := &Session{
		cascade: c,
		pos:     pos,
		neg:     neg,
		opts:    opts,
		log:     opts.Logger,
	}
	if err := s.refresh(); err != nil {
		return nil, err
	}
	return s, nil
}

// Cascade returns the cascade being trained.
func (s *Session) Cascade() *Cascade {
	return s.cascade
}

// refresh regenerates both pools against the cascade at its current cursor.
// The positives are cheap to rebuild; the negatives are re-mined.
func (s *Session) refresh() error {
	score := s.cascade.Scorer(s.cascade.Cursor)
	if err := s.pos.Regenerate(score); err != nil {
		return fmt.Errorf("regenerating positive samples: %w", err)
	}
	if s.pos.Size() == 0 {
		return errors.New("no positive sample survived the cascade")
	}
	if err := s.neg.Regenerate(score); err != nil {
		return fmt.Errorf("hard negative mining: %w", err)
	}
	s.log.Debug("pools regenerated",
		zap.Stringer("cursor", s.cascade.Cursor),
		zap.Int("positives", s.pos.Size()),
		zap.Int("negatives", s.neg.Size()),
	)
	return nil
}

// Train trains the cascade from its cursor to completion. A checkpoint is written
// after every cart and after every completed stage.
func (s *Session) Train() error {
	c := s.cascade
	start := time.Now()

	for stage := c.Cursor.Stage; stage < c.Stages; stage++ {
		if len(c.Ensembles) == stage {
			c.Ensembles = append(c.Ensembles, s.opts.Factory(stage))
		}
		ens := c.Ensembles[stage]

		first := 0
		if c.Cursor.Stage == stage {
			first = c.Cursor.Cart + 1
		}
		for k := first; k < c.Carts; k++ {
			if err := ens.Fit(k, s.pos, s.neg, c.MeanShape); err != nil {
				return fmt.Errorf("training cart %d of stage %d: %w", k, stage, err)
			}
			cur := Cursor{Stage: stage, Cart: k}
			if err := s.step(cur); err != nil {
				return err
			}
			s.log.Info("cart trained",
				zap.Int("stage", stage),
				zap.Int("cart", k),
				zap.Int("positives", s.pos.Size()),
				zap.Int("negatives", s.neg.Size()),
			)
		}

		if err := ens.Regress(s.pos, c.MeanShape); err != nil {
			return fmt.Errorf("global regression of stage %d: %w", stage, err)
		}
		if err := s.step(Cursor{Stage: stage + 1, Cart: -1}); err != nil {
			return err
		}
		s.log.Info("stage trained",
			zap.Int("stage", stage),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
	return nil
}

// step advances the cursor, regenerates the pools with the new carts and checkpoints.
func (s *Session) step(to Cursor) error {
	if err := s.cascade.advance(to); err != nil {
		return err
	}
	if err := s.refresh(); err != nil {
		return fmt.Errorf("at %v: %w", to, err)
	}
	s.checkpoint()
	return nil
}

// checkpoint writes a snapshot. A failed snapshot only costs the work since the
// previous one, so it is logged and training goes on.
func (s *Session) checkpoint() {
	if s.opts.SnapshotDir == "" {
		return
	}
	path, err := s.Snapshot()
	if err != nil {
		s.log.Error("snapshot failed", zap.Stringer("cursor", s.cascade.Cursor), zap.Error(err))
		return
	}
	s.log.Debug("snapshot written", zap.String("path", path))
}

package jda

import (
	"errors"
	"fmt"
)

// ErrNegativesExhausted is returned when hard negative mining cannot refill the negative pool
// within its scan limit. Training must not go on with an under-filled pool.
var ErrNegativesExhausted = errors.New("negative pool exhausted")

// Mine draws candidate regions from src until want of them pass score or limit draws were spent.
// The accepted samples carry the score and shape computed by score.
func Mine(src NegativeSource, want, limit int, score ScoreFunc) ([]*Sample, error) {
	if want <= 0 {
		return nil, nil
	}
	mined := make([]*Sample, 0, want)
	for scans := 0; scans < limit; scans++ {
		v, err := src.Draw()
		if err != nil {
			return mined, fmt.Errorf("drawing a negative region: %w", err)
		}
		s := &Sample{Views: v}
		if !score(s) {
			continue
		}
		mined = append(mined, s)
		if len(mined) == want {
			return mined, nil
		}
	}
	return mined, fmt.Errorf("%w: %d of %d regions after %d scans", ErrNegativesExhausted, len(mined), want, limit)
}

package jda

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var fixedNow = func() time.Time {
	return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
}

func newTestSession(t *testing.T, dir string, f EnsembleFactory) *Session {
	t.Helper()
	pos := positives(5, 16, testParams.Landmarks)
	neg := &fakeNegatives{src: &stripes{window: 16}, target: 4, limit: 100}
	c, err := NewCascade(testParams, pos)
	require.NoError(t, err)

	s, err := NewSession(c, pos, neg, SessionOptions{Factory: f, SnapshotDir: dir, now: fixedNow})
	require.NoError(t, err)
	return s
}

func checkpointCursors(t *testing.T, dir string) []Cursor {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var cursors []Cursor
	for _, e := range entries {
		require.True(t, strings.HasPrefix(e.Name(), "jda_tmp_20240102-030405_"), e.Name())
		require.True(t, strings.HasSuffix(e.Name(), ".model"), e.Name())
		c, err := LoadModel(filepath.Join(dir, e.Name()), factory)
		require.NoError(t, err)
		cursors = append(cursors, c.Cursor)
	}
	sort.Slice(cursors, func(i, j int) bool { return cursors[i].Less(cursors[j]) })
	return cursors
}

func TestTrain_Complete(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()

	s := newTestSession(t, dir, factory)
	require.NoError(t, s.Train())

	c := s.Cascade()
	assert.True(c.Done())
	require.Len(t, c.Ensembles, testParams.Stages)
	for _, e := range c.Ensembles {
		fe := e.(*fakeEnsemble)
		assert.Len(fe.Carts, testParams.Carts)
		assert.True(fe.HasGlobal)
	}

	// One checkpoint per cart and per completed stage, none overwritten.
	want := []Cursor{{0, 0}, {0, 1}, {0, 2}, {1, -1}, {1, 0}, {1, 1}, {1, 2}, {2, -1}}
	assert.Equal(want, checkpointCursors(t, dir))

	// The pools are regenerated once at start and after every step.
	pos := s.pos.(*fakePool)
	assert.Equal(1+len(want), pos.regenerated)
	assert.Equal(5, pos.Size())
	assert.Equal(4, s.neg.Size())
}

func TestTrain_ResumeAfterFailure(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()

	failing := func(stage int) Ensemble {
		e := factory(stage).(*fakeEnsemble)
		if stage == 1 {
			e.failAt = 1
		}
		return e
	}
	s := newTestSession(t, dir, failing)
	assert.Error(s.Train())
	assert.Equal(Cursor{1, 0}, s.Cascade().Cursor)

	path, err := s.Snapshot()
	require.NoError(t, err)

	pos := positives(5, 16, testParams.Landmarks)
	neg := &fakeNegatives{src: &stripes{window: 16}, target: 4, limit: 100}

	_, err = ResumeFile(path, Params{Stages: 3, Carts: 3, Landmarks: 2, TreeDepth: 1}, pos, neg, SessionOptions{Factory: factory})
	assert.ErrorIs(err, ErrConfigMismatch)
	assert.Zero(pos.regenerated, "nothing is resumed on a mismatch")

	resumed, err := ResumeFile(path, testParams, pos, neg, SessionOptions{Factory: factory})
	require.NoError(t, err)
	assert.Equal(Cursor{1, 0}, resumed.Cascade().Cursor)
	assert.Equal(1, pos.regenerated)
	assert.Equal(4, neg.Size())

	require.NoError(t, resumed.Train())
	c := resumed.Cascade()
	assert.True(c.Done())
	for _, e := range c.Ensembles {
		assert.Len(e.(*fakeEnsemble).Carts, testParams.Carts)
	}
}

func TestTrain_NegativesExhausted(t *testing.T) {
	// Carts reject every textured region: positives are flat, mining only finds stripes.
	reject := fakeFactory(testParams.Landmarks, fakeCart{Gain: -1, Threshold: -0.5})

	pos := &fakePool{}
	for _, p := range positives(3, 16, testParams.Landmarks).live {
		p.Views = flatViews(16, 100)
		pos.live = append(pos.live, p)
	}
	src := &stripes{window: 16}
	neg := &fakeNegatives{src: src, target: 4, limit: 20}
	c, err := NewCascade(testParams, pos)
	require.NoError(t, err)

	s, err := NewSession(c, pos, neg, SessionOptions{Factory: reject})
	require.NoError(t, err)

	err = s.Train()
	assert.ErrorIs(t, err, ErrNegativesExhausted)
	assert.Equal(t, 4+20, src.draws)
	assert.Equal(t, 3, pos.Size())
}

func TestTrain_NoPositiveLeft(t *testing.T) {
	rejectAll := fakeFactory(testParams.Landmarks, fakeCart{Bias: -1, Threshold: 0})
	s := newTestSession(t, "", rejectAll)
	assert.Error(t, s.Train())
}

func TestTrain_SnapshotFailureIsLogged(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	core, logs := observer.New(zapcore.InfoLevel)
	pos := positives(5, 16, testParams.Landmarks)
	neg := &fakeNegatives{src: &stripes{window: 16}, target: 4, limit: 100}
	c, err := NewCascade(testParams, pos)
	require.NoError(t, err)

	s, err := NewSession(c, pos, neg, SessionOptions{
		Factory:     factory,
		SnapshotDir: filepath.Join(file, "snapshots"),
		Logger:      zap.New(core),
	})
	require.NoError(t, err)
	require.NoError(t, s.Train())

	assert.True(c.Done())
	assert.Equal(8, logs.FilterMessage("snapshot failed").Len())
	assert.Equal(2, logs.FilterMessage("stage trained").Len())
}

func TestSession_NeedsFactory(t *testing.T) {
	pos := positives(1, 16, testParams.Landmarks)
	c, err := NewCascade(testParams, pos)
	require.NoError(t, err)

	_, err = NewSession(c, pos, &fakePool{}, SessionOptions{})
	assert.Error(t, err)
}

func TestSnapshot_NeverOverwrites(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()
	s := newTestSession(t, dir, factory)

	taken := filepath.Join(dir, checkpointName(fixedNow(), s.Cascade(), 0))
	require.NoError(t, os.WriteFile(taken, []byte("keep"), 0644))

	first, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(filepath.Join(dir, "jda_tmp_20240102-030405_1_1.model"), first)

	second, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(filepath.Join(dir, "jda_tmp_20240102-030405_1_2.model"), second)

	data, err := os.ReadFile(taken)
	require.NoError(t, err)
	assert.Equal("keep", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(entries, 3)
}

func TestSnapshot_Name(t *testing.T) {
	c := &Cascade{Params: testParams}
	for _, tc := range []struct {
		cur  Cursor
		n    int
		want string
	}{
		{Start, 0, "jda_tmp_20240102-030405_1.model"},
		{Cursor{1, 2}, 0, "jda_tmp_20240102-030405_2.model"},
		{Cursor{2, -1}, 3, "jda_tmp_20240102-030405_2_3.model"},
	} {
		c.Cursor = tc.cur
		assert.Equal(t, tc.want, checkpointName(fixedNow(), c, tc.n))
	}
}

func TestSnapshot_NoDirectory(t *testing.T) {
	s := newTestSession(t, "", factory)
	_, err := s.Snapshot()
	assert.Error(t, err)
}

func TestLogger(t *testing.T) {
	for _, debug := range []bool{true, false} {
		log, err := NewLogger(debug)
		require.NoError(t, err)
		assert.NotNil(t, log)
	}
}

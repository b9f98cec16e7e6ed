package jda

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var testParams = Params{Stages: 2, Carts: 3, Landmarks: 2, TreeDepth: 1}

var accept = fakeCart{Bias: 1, Threshold: -100}

// trainedCascade returns a cascade of accepting carts whose evaluation order is recorded in visited.
func trainedCascade(visited *[]string) *Cascade {
	c := &Cascade{
		Params:    testParams,
		MeanShape: mat.NewDense(testParams.Landmarks, 2, nil),
		Cursor:    Cursor{Stage: 2, Cart: -1},
	}
	for s := 0; s < testParams.Stages; s++ {
		e := newFake(s, testParams.Landmarks, accept, accept, accept)
		e.Global, e.HasGlobal = 0.1, true
		e.visited = visited
		c.Ensembles = append(c.Ensembles, e)
	}
	return c
}

func TestCursor_Order(t *testing.T) {
	assert := assert.New(t)

	assert.True(Start.Less(Cursor{0, 0}))
	assert.True(Cursor{0, 2}.Less(Cursor{1, -1}))
	assert.False(Cursor{1, -1}.Less(Cursor{0, 2}))
	assert.False(Cursor{1, 0}.Less(Cursor{1, 0}))

	assert.Equal(0, Start.Progress())
	assert.Equal(1, Cursor{0, 0}.Progress())
	assert.Equal(1, Cursor{1, -1}.Progress())
	assert.Equal(2, Cursor{1, 2}.Progress())
	assert.Equal("(1,-1)", Cursor{1, -1}.String())
}

func TestParams_Validate(t *testing.T) {
	assert.NoError(t, testParams.Validate())

	for _, p := range []Params{
		{Stages: 0, Carts: 1, Landmarks: 1, TreeDepth: 1},
		{Stages: 1, Carts: 0, Landmarks: 1, TreeDepth: 1},
		{Stages: 1, Carts: 1, Landmarks: 0, TreeDepth: 1},
		{Stages: 1, Carts: 1, Landmarks: 1, TreeDepth: 0},
	} {
		assert.ErrorIs(t, p.Validate(), ErrInvalidConfig)
	}
}

func TestCascade_New(t *testing.T) {
	assert := assert.New(t)

	pos := positives(3, 16, 2)
	c, err := NewCascade(testParams, pos)
	require.NoError(t, err)
	assert.Equal(Start, c.Cursor)
	assert.Empty(c.Ensembles)
	// x of landmark 0 averages 0.20, 0.21 and 0.22.
	assert.InDelta(0.21, c.MeanShape.At(0, 0), 1e-12)
	assert.InDelta(0.5, c.MeanShape.At(1, 1), 1e-12)
	assert.Equal(Cursor{2, -1}, c.Full())
	assert.False(c.Done())

	_, err = NewCascade(testParams, &fakePool{})
	assert.Error(err)

	_, err = NewCascade(Params{}, pos)
	assert.ErrorIs(err, ErrInvalidConfig)

	wrong := positives(1, 16, 3)
	_, err = NewCascade(testParams, wrong)
	assert.Error(err)
}

func TestCascade_Advance(t *testing.T) {
	assert := assert.New(t)

	c := &Cascade{Params: testParams, Cursor: Start}
	assert.Error(c.advance(Cursor{0, 0}), "no ensemble for the cursor")

	c.Ensembles = append(c.Ensembles, newFake(0, 2))
	require.NoError(t, c.advance(Cursor{0, 0}))
	require.NoError(t, c.advance(Cursor{0, 1}))
	assert.ErrorIs(c.advance(Cursor{0, 0}), ErrCursorRegression)
	assert.Equal(Cursor{0, 1}, c.Cursor)
}

func TestValidate_FullTraversal(t *testing.T) {
	assert := assert.New(t)
	var visited []string
	c := trainedCascade(&visited)

	v := c.Validate(flatViews(16, 10), c.Full())
	assert.True(v.Face)
	assert.Equal(6, v.Carts)
	assert.InDelta(6.0, v.Score, 1e-12)
	assert.Equal([]string{"0:0", "0:1", "0:2", "0:g", "1:0", "1:1", "1:2", "1:g"}, visited)
	assert.InDelta(0.06, v.Shape.At(0, 0), 1e-12)
	assert.InDelta(0.2, v.Shape.At(1, 1), 1e-12)

	// The reference shape is never modified.
	assert.Equal(0.0, c.MeanShape.At(0, 0))
}

func TestValidate_TrainingBound(t *testing.T) {
	assert := assert.New(t)

	cases := []struct {
		bound Cursor
		want  []string
	}{
		{Start, nil},
		{Cursor{0, 1}, []string{"0:0", "0:1"}},
		{Cursor{0, 2}, []string{"0:0", "0:1", "0:2"}},
		{Cursor{1, -1}, []string{"0:0", "0:1", "0:2", "0:g"}},
		{Cursor{1, 0}, []string{"0:0", "0:1", "0:2", "0:g", "1:0"}},
	}
	for _, tc := range cases {
		var visited []string
		c := trainedCascade(&visited)
		v := c.Validate(flatViews(16, 10), tc.bound)
		assert.True(v.Face, tc.bound.String())
		assert.Equal(tc.want, visited, tc.bound.String())
	}
}

func TestValidate_StopsAtFirstReject(t *testing.T) {
	assert := assert.New(t)
	var visited []string
	c := trainedCascade(&visited)
	c.Ensembles[0].(*fakeEnsemble).Carts[1] = fakeCart{Bias: 1, Threshold: 100}

	v := c.Validate(flatViews(16, 10), c.Full())
	assert.False(v.Face)
	assert.Equal(2, v.Carts)
	assert.Equal([]string{"0:0", "0:1"}, visited)
}

func TestValidate_ClampsToCursor(t *testing.T) {
	assert := assert.New(t)
	var visited []string
	c := trainedCascade(&visited)
	// A checkpoint taken after the first cart of stage 1.
	c.Cursor = Cursor{1, 0}
	stage1 := c.Ensembles[1].(*fakeEnsemble)
	stage1.Carts = stage1.Carts[:1]
	stage1.HasGlobal = false

	v := c.Validate(flatViews(16, 10), c.Full())
	assert.True(v.Face)
	assert.Equal([]string{"0:0", "0:1", "0:2", "0:g", "1:0"}, visited)
}

func TestValidate_Scorer(t *testing.T) {
	c := trainedCascade(nil)
	s := &Sample{Views: flatViews(16, 10)}

	assert.True(t, c.Scorer(Cursor{0, 1})(s))
	assert.InDelta(t, 2.0, s.Score, 1e-12)
	require.NotNil(t, s.Shape)
	assert.InDelta(t, 0.02, s.Shape.At(0, 0), 1e-12)
}

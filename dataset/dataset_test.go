package dataset

import (
	"image"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/esimov/jda"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func uniform(w, h int, c uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = c
	}
	return img
}

func noise(w, h int, rng *rand.Rand) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	rng.Read(img.Pix)
	return img
}

func TestDataset_FaceBox(t *testing.T) {
	shape := mat.NewDense(5, 2, []float64{30, 40, 70, 40, 50, 60, 40, 75, 60, 75})
	box := FaceBox(shape, DefaultPadding)
	assert.Equal(t, image.Rect(10, 18, 90, 98), box)
}

func TestDataset_CropOutsideImage(t *testing.T) {
	assert := assert.New(t)

	img := uniform(50, 50, 255)
	shape := mat.NewDense(2, 2, []float64{0, 0, 10, 10})
	s, err := Crop(img, shape, 20, DefaultPadding)
	require.NoError(t, err)

	// The box starts at (-5,-5): its top left corner is padded with black.
	assert.Equal(uint8(0), s.Views.Full.GrayAt(2, 2).Y)
	assert.Equal(uint8(255), s.Views.Full.GrayAt(10, 10).Y)
	assert.Equal(image.Rect(0, 0, 10, 10), s.Views.Half.Bounds())
	assert.Equal(image.Rect(0, 0, 5, 5), s.Views.Quarter.Bounds())
	assert.InDelta(0.25, s.Truth.At(0, 0), 1e-9)
	assert.InDelta(0.75, s.Truth.At(1, 1), 1e-9)

	_, err = Crop(img, mat.NewDense(2, 2, []float64{200, 200, 210, 210}), 20, 0)
	assert.Error(err)
}

func TestDataset_LoadPositives(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "face.png"), uniform(100, 100, 128))

	list := filepath.Join(dir, "faces.txt")
	content := "# image x1 y1 ... x5 y5\n" +
		"face.png 30 40 70 40 50 60 40 75 60 75\n\n" +
		"face.png 35 45 65 45 50 60 40 70 60 70\n"
	require.NoError(t, os.WriteFile(list, []byte(content), 0644))

	pos, err := LoadPositives(list, PositiveOptions{Landmarks: 5, Window: 16, Padding: DefaultPadding})
	require.NoError(t, err)
	assert.Equal(2, pos.Size())
	assert.Equal(2, pos.Total())

	s := pos.At(0)
	assert.InDelta(0.25, s.Truth.At(0, 0), 1e-9)
	assert.InDelta(0.275, s.Truth.At(0, 1), 1e-9)
	assert.Equal(image.Rect(0, 0, 16, 16), s.Views.Full.Bounds())

	calls := 0
	require.NoError(t, pos.Regenerate(func(*jda.Sample) bool {
		calls++
		return calls == 2
	}))
	assert.Equal(1, pos.Size())
	assert.Equal(2, pos.Total())
}

func TestDataset_LoadPositivesErrors(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "face.png"), uniform(100, 100, 128))

	cases := map[string]string{
		"short": "face.png 30 40 70\n",
		"nan":   "face.png 30 40 70 x\n",
		"image": "missing.png 30 40 70 40\n",
		"empty": "# nothing\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			list := filepath.Join(dir, name+".txt")
			require.NoError(t, os.WriteFile(list, []byte(content), 0644))
			_, err := LoadPositives(list, PositiveOptions{Landmarks: 2, Window: 16})
			assert.Error(t, err)
		})
	}

	_, err := LoadPositives(filepath.Join(dir, "none.txt"), PositiveOptions{Landmarks: 2, Window: 16})
	assert.Error(t, err)
}

func TestDataset_NegativesDraw(t *testing.T) {
	assert := assert.New(t)
	rng := rand.New(rand.NewSource(3))

	_, err := NewNegatives([]image.Image{noise(8, 8, rng)}, NegativeOptions{Window: 16})
	assert.Error(err)

	neg, err := NewNegatives([]image.Image{noise(8, 8, rng), noise(64, 48, rng)}, NegativeOptions{Window: 16})
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		v, err := neg.Draw()
		require.NoError(t, err)
		assert.Equal(image.Rect(0, 0, 16, 16), v.Full.Bounds())
		assert.Equal(image.Rect(0, 0, 8, 8), v.Half.Bounds())
		assert.Equal(image.Rect(0, 0, 4, 4), v.Quarter.Bounds())
	}
}

func TestDataset_NegativesRegenerate(t *testing.T) {
	assert := assert.New(t)
	rng := rand.New(rand.NewSource(5))
	opts := NegativeOptions{Window: 16, Target: 10, MaxScans: 5, Seed: 1}

	neg, err := NewNegatives([]image.Image{noise(64, 64, rng)}, opts)
	require.NoError(t, err)

	accept := func(*jda.Sample) bool { return true }
	require.NoError(t, neg.Regenerate(accept))
	assert.Equal(10, neg.Size())
	assert.Equal(10, neg.Scans)

	// Every other sample is rejected: the pool is topped up again.
	calls := 0
	alternate := func(*jda.Sample) bool {
		calls++
		return calls%2 == 0
	}
	require.NoError(t, neg.Regenerate(alternate))
	assert.Equal(10, neg.Size())

	reject := func(*jda.Sample) bool { return false }
	err = neg.Regenerate(reject)
	assert.ErrorIs(err, jda.ErrNegativesExhausted)
	assert.Equal(0, neg.Size())
	assert.Equal(50, neg.Scans)
}

func TestDataset_LoadNegatives(t *testing.T) {
	dir := t.TempDir()
	rng := rand.New(rand.NewSource(9))
	writePNG(t, filepath.Join(dir, "bg.png"), noise(40, 40, rng))
	list := filepath.Join(dir, "bg.txt")
	require.NoError(t, os.WriteFile(list, []byte("bg.png\n"), 0644))

	neg, err := LoadNegatives(list, NegativeOptions{Window: 16, Target: 3, MaxScans: 1})
	require.NoError(t, err)
	require.NoError(t, neg.Regenerate(func(*jda.Sample) bool { return true }))
	assert.Equal(t, 3, neg.Size())
}

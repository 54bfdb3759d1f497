package imageio

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"

	"github.com/FynnBe/ilastik/internal/core/graph"
	"github.com/FynnBe/ilastik/internal/core/ndarray"
)

func grayImage() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 3, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(10*y + x)})
		}
	}
	return img
}

func writePNG(t *testing.T, img image.Image) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "img.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func TestLoad_Gray(t *testing.T) {
	img, err := Load(writePNG(t, grayImage()))
	require.NoError(t, err)

	assert.Equal(t, "png", img.Format)
	assert.Equal(t, graph.Uint8, img.DType)
	assert.Equal(t, Axes, img.Array.Axes)
	assert.Equal(t, []int{2, 3, 1}, img.Array.Shape)
	assert.Equal(t, float32(12), img.Array.At(1, 2, 0))

	m := img.Meta()
	require.NotNil(t, m.DRange)
	assert.Equal(t, [2]float64{0, 255}, *m.DRange)
}

func TestLoad_RGB(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	src.SetNRGBA(1, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	img, err := Load(writePNG(t, src))
	require.NoError(t, err)

	assert.Equal(t, []int{2, 2, 3}, img.Array.Shape)
	assert.Equal(t, float32(10), img.Array.At(0, 1, 0))
	assert.Equal(t, float32(20), img.Array.At(0, 1, 1))
	assert.Equal(t, float32(30), img.Array.At(0, 1, 2))
}

func TestLoad_Gray16(t *testing.T) {
	src := image.NewGray16(image.Rect(0, 0, 1, 1))
	src.SetGray16(0, 0, color.Gray16{Y: 1000})
	img, err := Load(writePNG(t, src))
	require.NoError(t, err)

	assert.Equal(t, graph.Uint16, img.DType)
	assert.Equal(t, float32(1000), img.Array.Data[0])
	assert.Equal(t, [2]float64{0, 65535}, *img.Meta().DRange)
}

func TestDecode_TIFF(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, tiff.Encode(&buf, grayImage(), nil))

	img, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, "tiff", img.Format)
	assert.Equal(t, float32(11), img.Array.At(1, 1, 0))
}

func TestDecode_Garbage(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("not an image")))
	assert.ErrorIs(t, err, ErrDecode)

	_, err = Load(filepath.Join(t.TempDir(), "missing.png"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSavePNG_RoundTrip(t *testing.T) {
	a := ndarray.MustNew("xyc", 3, 2, 1)
	a.Set(7, 2, 1, 0)
	a.Set(300, 0, 0, 0)

	path := filepath.Join(t.TempDir(), "out.png")
	require.NoError(t, SavePNG(path, a))

	img, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 1}, img.Array.Shape)
	assert.Equal(t, float32(7), img.Array.At(1, 2, 0))
	assert.Equal(t, float32(255), img.Array.At(0, 0, 0))
}

func TestToImage(t *testing.T) {
	t.Run("probabilities are scaled", func(t *testing.T) {
		a := ndarray.MustNew("yx", 1, 2)
		a.Data[0], a.Data[1] = 0.5, 1
		img, err := ToImage(a)
		require.NoError(t, err)
		g := img.(*image.Gray)
		assert.Equal(t, uint8(128), g.GrayAt(0, 0).Y)
		assert.Equal(t, uint8(255), g.GrayAt(1, 0).Y)
	})

	t.Run("rgb", func(t *testing.T) {
		a := ndarray.MustNew("yxc", 1, 1, 3)
		a.Data[0], a.Data[1], a.Data[2] = 10, 20, 30
		img, err := ToImage(a)
		require.NoError(t, err)
		assert.Equal(t, color.NRGBA{R: 10, G: 20, B: 30, A: 255}, img.(*image.NRGBA).NRGBAAt(0, 0))
	})

	t.Run("unsupported", func(t *testing.T) {
		for _, a := range []*ndarray.Array{
			ndarray.MustNew("x", 4),
			ndarray.MustNew("yxc", 2, 2, 2),
			ndarray.MustNew("zyx", 2, 2, 2),
		} {
			_, err := ToImage(a)
			assert.ErrorIs(t, err, ErrUnsupportedShape, a.Axes)
		}
	})
}

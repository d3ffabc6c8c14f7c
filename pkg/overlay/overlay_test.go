package overlay

import (
	"image/color"
	"testing"

	"github.com/bmharper/cimg/v2"
	"github.com/stretchr/testify/require"
)

func pixel(img *cimg.Image, x, y int) color.RGBA {
	p := img.Pixels[y*img.Stride+x*3:]
	return color.RGBA{p[0], p[1], p[2], 255}
}

func TestCanvas(t *testing.T) {
	img := cimg.NewImage(40, 30, cimg.PixelFormatRGB)
	for i := range img.Pixels {
		img.Pixels[i] = 10
	}
	c := NewCanvas(img)
	require.Equal(t, 40, c.Width())
	require.Equal(t, 30, c.Height())
	c.FillRect(5, 5, 15, 15, Red)
	c.Circle(30, 20, 4, Green, true)
	out := c.Finish()
	require.Same(t, img, out)
	require.Equal(t, Red, pixel(img, 10, 10))
	require.Equal(t, Green, pixel(img, 30, 20))
	require.Equal(t, color.RGBA{10, 10, 10, 255}, pixel(img, 1, 1))
}

func TestCanvasText(t *testing.T) {
	img := cimg.NewImage(100, 30, cimg.PixelFormatRGB)
	c := NewCanvas(img)
	c.Text("hello", 5, 20, White)
	c.Finish()
	lit := 0
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			if pixel(img, x, y).R != 0 {
				lit++
			}
		}
	}
	require.Greater(t, lit, 10)
}

func TestDepthToByte(t *testing.T) {
	require.Equal(t, uint8(0), DepthToByte(0))
	require.Equal(t, uint8(65), DepthToByte(1000))
	require.Equal(t, uint8(1), DepthToByte(65535))
	// 655 wraps to 143
	require.Equal(t, uint8(143), DepthToByte(100))
}

func TestHotColor(t *testing.T) {
	require.Equal(t, Black, HotColor(0))
	require.Equal(t, White, HotColor(255))
	mid := HotColor(96)
	require.Equal(t, uint8(255), mid.R)
	require.Equal(t, uint8(0), mid.B)
}

func TestColorizeDepth(t *testing.T) {
	img, err := ColorizeDepth([]uint16{0, 257, 1000, 65535}, 2, 2)
	require.NoError(t, err)
	require.Equal(t, Black, pixel(img, 0, 0))
	require.Equal(t, White, pixel(img, 1, 0))
	require.Equal(t, HotColor(65), pixel(img, 0, 1))

	_, err = ColorizeDepth([]uint16{1, 2, 3}, 2, 2)
	require.Error(t, err)
}

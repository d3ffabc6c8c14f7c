package overlay

import (
	"fmt"
	"image/color"

	"github.com/bmharper/cimg/v2"
	"github.com/chewxy/math32"
)

// DepthToByte converts a millimeter depth value into an 8-bit intensity of 65535/d.
// Near objects are bright. The result wraps around for d < 258, and zero (no data) maps to zero.
func DepthToByte(d uint16) uint8 {
	if d == 0 {
		return 0
	}
	return uint8(65535 / uint32(d))
}

// HotColor maps an intensity onto the "hot" color map (black, red, yellow, white)
func HotColor(v uint8) color.RGBA {
	t := float32(v) / 255
	r := math32.Min(1, math32.Max(0, t*8/3))
	g := math32.Min(1, math32.Max(0, t*8/3-1))
	b := math32.Min(1, math32.Max(0, t*4-3))
	return color.RGBA{
		R: uint8(r*255 + 0.5),
		G: uint8(g*255 + 0.5),
		B: uint8(b*255 + 0.5),
		A: 255,
	}
}

var hotLUT [256]color.RGBA

func init() {
	for i := 0; i < 256; i++ {
		hotLUT[i] = HotColor(uint8(i))
	}
}

// ColorizeDepth renders a millimeter depth map as an RGB image with the hot color map
func ColorizeDepth(depth []uint16, width, height int) (*cimg.Image, error) {
	if len(depth) < width*height {
		return nil, fmt.Errorf("Depth map has %v values, but %vx%v requires %v", len(depth), width, height, width*height)
	}
	img := cimg.NewImage(width, height, cimg.PixelFormatRGB)
	for y := 0; y < height; y++ {
		dst := img.Pixels[y*img.Stride:]
		for x := 0; x < width; x++ {
			c := hotLUT[DepthToByte(depth[y*width+x])]
			dst[x*3+0] = c.R
			dst[x*3+1] = c.G
			dst[x*3+2] = c.B
		}
	}
	return img, nil
}

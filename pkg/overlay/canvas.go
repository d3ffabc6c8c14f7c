package overlay

import (
	"image"
	"image/color"

	"github.com/bmharper/cimg/v2"
	"github.com/fogleman/gg"
)

// Standard colors used by the overlays
var (
	Red   = color.RGBA{255, 0, 0, 255}
	Green = color.RGBA{0, 255, 0, 255}
	Blue  = color.RGBA{0, 0, 255, 255}
	White = color.RGBA{255, 255, 255, 255}
	Black = color.RGBA{0, 0, 0, 255}
)

// Canvas draws vector overlays onto an RGB frame.
// Drawing happens on a temporary RGBA copy of the frame. Call Finish to write the result back.
type Canvas struct {
	img  *cimg.Image
	rgba *image.RGBA
	dc   *gg.Context
}

// NewCanvas prepares 'img' for drawing. img must be PixelFormatRGB.
func NewCanvas(img *cimg.Image) *Canvas {
	rgba := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		src := img.Pixels[y*img.Stride:]
		dst := rgba.Pix[y*rgba.Stride:]
		for x := 0; x < img.Width; x++ {
			dst[x*4+0] = src[x*3+0]
			dst[x*4+1] = src[x*3+1]
			dst[x*4+2] = src[x*3+2]
			dst[x*4+3] = 255
		}
	}
	dc := gg.NewContextForRGBA(rgba)
	dc.SetLineWidth(1)
	return &Canvas{
		img:  img,
		rgba: rgba,
		dc:   dc,
	}
}

func (c *Canvas) Width() int {
	return c.img.Width
}

func (c *Canvas) Height() int {
	return c.img.Height
}

func (c *Canvas) SetLineWidth(w float64) {
	c.dc.SetLineWidth(w)
}

// Rect outlines the rectangle with corners (x1,y1) and (x2,y2)
func (c *Canvas) Rect(x1, y1, x2, y2 float64, col color.Color) {
	c.dc.SetColor(col)
	c.dc.DrawRectangle(x1, y1, x2-x1, y2-y1)
	c.dc.Stroke()
}

func (c *Canvas) FillRect(x1, y1, x2, y2 float64, col color.Color) {
	c.dc.SetColor(col)
	c.dc.DrawRectangle(x1, y1, x2-x1, y2-y1)
	c.dc.Fill()
}

// Circle draws a circle outline, or a solid disc if fill is true
func (c *Canvas) Circle(x, y, radius float64, col color.Color, fill bool) {
	c.dc.SetColor(col)
	c.dc.DrawCircle(x, y, radius)
	if fill {
		c.dc.Fill()
	} else {
		c.dc.Stroke()
	}
}

// Text draws s with its baseline at y
func (c *Canvas) Text(s string, x, y float64, col color.Color) {
	c.dc.SetColor(col)
	c.dc.DrawString(s, x, y)
}

// Label draws s on a solid background, so that it is legible on any frame
func (c *Canvas) Label(s string, x, y float64, fg, bg color.Color) {
	w, h := c.dc.MeasureString(s)
	c.FillRect(x-2, y-h-2, x+w+2, y+3, bg)
	c.Text(s, x, y, fg)
}

// Finish copies the drawing back into the frame, and returns the frame
func (c *Canvas) Finish() *cimg.Image {
	for y := 0; y < c.img.Height; y++ {
		src := c.rgba.Pix[y*c.rgba.Stride:]
		dst := c.img.Pixels[y*c.img.Stride:]
		for x := 0; x < c.img.Width; x++ {
			dst[x*3+0] = src[x*4+0]
			dst[x*3+1] = src[x*4+1]
			dst[x*3+2] = src[x*4+2]
		}
	}
	return c.img
}

// LabelColor returns a stable color for a class label
func LabelColor(label int) color.RGBA {
	if label < 0 {
		label = -label
	}
	palette := []color.RGBA{
		{255, 56, 56, 255},
		{255, 157, 151, 255},
		{255, 112, 31, 255},
		{255, 178, 29, 255},
		{207, 210, 49, 255},
		{72, 249, 10, 255},
		{146, 204, 23, 255},
		{61, 219, 134, 255},
		{26, 147, 52, 255},
		{0, 212, 187, 255},
		{44, 153, 168, 255},
		{0, 194, 255, 255},
		{52, 69, 147, 255},
		{100, 115, 255, 255},
		{0, 24, 236, 255},
		{132, 56, 255, 255},
		{82, 0, 133, 255},
		{203, 56, 255, 255},
		{255, 149, 200, 255},
		{255, 55, 199, 255},
	}
	return palette[label%len(palette)]
}

package dot

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// grayMat converts an image.Image into a single channel 8-bit gocv.Mat.
// The caller owns the returned Mat.
func grayMat(img image.Image) gocv.Mat {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC1)
	g, isGray := img.(*image.Gray)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			px, py := x+bounds.Min.X, y+bounds.Min.Y
			if isGray {
				mat.SetUCharAt(y, x, g.GrayAt(px, py).Y)
				continue
			}
			gray := color.GrayModel.Convert(img.At(px, py)).(color.Gray)
			mat.SetUCharAt(y, x, gray.Y)
		}
	}
	return mat
}

// Mark is a cross drawn by Annotate.
type Mark struct {
	U, V  float64
	Color color.RGBA
}

var (
	Blue  = color.RGBA{B: 255, A: 255}
	Green = color.RGBA{G: 255, A: 255}
	Red   = color.RGBA{R: 255, A: 255}
)

// Annotate returns a color copy of img with a cross drawn at each mark.
func Annotate(img image.Image, size int, marks ...Mark) (image.Image, error) {
	gray := grayMat(img)
	defer gray.Close()

	out := gocv.NewMat()
	defer out.Close()
	gocv.CvtColor(gray, &out, gocv.ColorGrayToBGR)

	for _, m := range marks {
		c := image.Pt(int(m.U+0.5), int(m.V+0.5))
		gocv.Line(&out, image.Pt(c.X-size, c.Y), image.Pt(c.X+size, c.Y), m.Color, 1)
		gocv.Line(&out, image.Pt(c.X, c.Y-size), image.Pt(c.X, c.Y+size), m.Color, 1)
	}
	return out.ToImage()
}

package slide

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"strconv"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Chart colors
var (
	chartBackground = color.RGBA{250, 250, 250, 255}
	chartAxis       = color.RGBA{60, 60, 60, 255}
	chartLine       = color.RGBA{30, 100, 200, 255}
	chartThreshold  = color.RGBA{220, 50, 50, 255}
	chartSelected   = color.RGBA{20, 160, 60, 255}
)

// RenderFitnessChart plots F_v_I against scale with the plateau threshold as
// a horizontal line and the selected scale marked
func RenderFitnessChart(table FitnessTable, width, height int) *image.RGBA {
	if width <= 0 {
		width = 640
	}
	if height <= 0 {
		height = 360
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, chartBackground)
		}
	}

	const left, right, top, bottom = 50, 20, 30, 40
	plotW := width - left - right
	plotH := height - top - bottom
	if plotW <= 0 || plotH <= 0 {
		return img
	}

	drawLine(img, left, top, left, top+plotH, chartAxis)
	drawLine(img, left, top+plotH, left+plotW, top+plotH, chartAxis)
	drawText(img, 10, 18, "F_v_I by scale", chartAxis)

	if len(table.Rows) == 0 {
		drawText(img, left+10, top+plotH/2, "no candidates", chartAxis)
		return img
	}

	minS, maxS := float64(table.Rows[0].Scale), float64(table.Rows[len(table.Rows)-1].Scale)
	if maxS == minS {
		minS--
		maxS++
	}
	maxY := table.Threshold
	for _, r := range table.Rows {
		maxY = math.Max(maxY, r.FTotal)
	}
	if maxY <= 0 {
		maxY = 1
	}
	maxY *= 1.1

	toPx := func(scale, v float64) (int, int) {
		x := left + int((scale-minS)/(maxS-minS)*float64(plotW))
		y := top + plotH - int(v/maxY*float64(plotH))
		return x, y
	}

	ty := top + plotH - int(table.Threshold/maxY*float64(plotH))
	drawLine(img, left, ty, left+plotW, ty, chartThreshold)
	drawText(img, left+plotW-120, ty-4, fmt.Sprintf("threshold %.3f", table.Threshold), chartThreshold)

	px, py := -1, -1
	for _, r := range table.Rows {
		x, y := toPx(float64(r.Scale), r.FTotal)
		if px >= 0 {
			drawLine(img, px, py, x, y, chartLine)
		}
		c := chartLine
		if r.Scale == table.Selected {
			c = chartSelected
		}
		fillSquare(img, x, y, 5, c)
		drawText(img, x-6, top+plotH+16, strconv.Itoa(r.Scale), chartAxis)
		px, py = x, y
	}
	return img
}

// SaveFitnessChart writes the chart as PNG
func SaveFitnessChart(path string, table FitnessTable) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return png.Encode(f, RenderFitnessChart(table, 0, 0))
}

// drawLine draws a line with Bresenham's algorithm
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx := int(math.Abs(float64(x1 - x0)))
	dy := -int(math.Abs(float64(y1 - y0)))
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		if image.Pt(x0, y0).In(img.Bounds()) {
			img.Set(x0, y0, c)
		}
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

// fillSquare draws a filled square centered on (cx, cy)
func fillSquare(img *image.RGBA, cx, cy, size int, c color.RGBA) {
	half := size / 2
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			if p := image.Pt(cx+dx, cy+dy); p.In(img.Bounds()) {
				img.Set(p.X, p.Y, c)
			}
		}
	}
}

// drawText renders text onto an image at the specified position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

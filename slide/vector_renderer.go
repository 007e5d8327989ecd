package slide

import (
	"fmt"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// MapLayer is a set of polygons drawn with one style. A nil Fill colors
// each polygon from the segment palette.
type MapLayer struct {
	Features []*Feature
	Fill     *color.RGBA
	Stroke   color.RGBA
}

// MapRenderer draws polygon layers as SVG or PNG. Map units are scaled so
// the longer side of the combined extent is Size millimeters.
type MapRenderer struct {
	Layers     []MapLayer
	Size       float64
	Padding    float64
	Resolution canvas.Resolution
}

// Landslide map colors
var (
	PositiveColor = color.RGBA{200, 30, 30, 200}
	NegativeColor = color.RGBA{150, 150, 150, 120}
	OutlineColor  = color.RGBA{40, 40, 40, 255}
)

// NewMapRenderer creates a renderer with default settings
func NewMapRenderer(layers ...MapLayer) *MapRenderer {
	return &MapRenderer{
		Layers:     layers,
		Size:       200,
		Padding:    5,
		Resolution: canvas.DPI(150),
	}
}

// TrainingLayers splits a training table into negative and positive layers
func TrainingLayers(records []TrainingRecord) []MapLayer {
	var pos, neg []*Feature
	for _, r := range records {
		f := NewFeature(r.ID, r.Geometry)
		if r.Landslide == 1 {
			pos = append(pos, f)
		} else {
			neg = append(neg, f)
		}
	}
	return []MapLayer{
		{Features: neg, Fill: &NegativeColor, Stroke: OutlineColor},
		{Features: pos, Fill: &PositiveColor, Stroke: OutlineColor},
	}
}

// SegmentPalette returns n well separated colors, cycling the hue with the
// golden angle
func SegmentPalette(n int) []color.RGBA {
	out := make([]color.RGBA, n)
	for i := range out {
		h := math.Mod(float64(i)*137.508, 360)
		r, g, b := colorful.Hsv(h, 0.55, 0.9).RGB255()
		out[i] = color.RGBA{r, g, b, 255}
	}
	return out
}

func (r *MapRenderer) bound() (orb.Bound, bool) {
	var b orb.Bound
	found := false
	for _, l := range r.Layers {
		for _, f := range l.Features {
			if len(f.Geometry) == 0 {
				continue
			}
			fb := f.Geometry.Bound()
			if !found {
				b, found = fb, true
			} else {
				b = b.Union(fb)
			}
		}
	}
	return b, found
}

type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// dimensions returns the page size and the map-to-page scale
func (r *MapRenderer) dimensions() (orb.Bound, float64, float64, float64) {
	b, ok := r.bound()
	if !ok {
		return b, r.Size, r.Size, 1
	}
	span := math.Max(b.Max[0]-b.Min[0], b.Max[1]-b.Min[1])
	scale := 1.0
	if span > 0 {
		scale = (r.Size - 2*r.Padding) / span
	}
	width := (b.Max[0]-b.Min[0])*scale + 2*r.Padding
	height := (b.Max[1]-b.Min[1])*scale + 2*r.Padding
	return b, width, height, scale
}

// RenderToSVG writes the map as an SVG to the provided writer
func (r *MapRenderer) RenderToSVG(w io.Writer) error {
	b, width, height, scale := r.dimensions()
	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, b, width, height, scale)
	return svgRenderer.Close()
}

// RenderToPNG writes the map as a PNG to the provided writer
func (r *MapRenderer) RenderToPNG(w io.Writer) error {
	b, width, height, scale := r.dimensions()
	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, b, width, height, scale)
	return png.Encode(w, rast)
}

// SaveMap writes an .svg or .png file depending on the extension
func (r *MapRenderer) SaveMap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".svg":
		return r.RenderToSVG(f)
	case ".png":
		return r.RenderToPNG(f)
	}
	return fmt.Errorf("rendering map %s: %w", path, ErrUnsupportedFormat)
}

func (r *MapRenderer) renderToCanvas(renderer canvasRenderer, b orb.Bound, width, height, scale float64) {
	bg := canvas.DefaultStyle
	bg.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bg, canvas.Identity)

	// canvas has its origin at the bottom left, like map coordinates
	toCanvas := func(p orb.Point) (float64, float64) {
		return (p[0]-b.Min[0])*scale + r.Padding, (p[1]-b.Min[1])*scale + r.Padding
	}

	for _, layer := range r.Layers {
		var palette []color.RGBA
		if layer.Fill == nil {
			palette = SegmentPalette(len(layer.Features))
		}
		for i, f := range layer.Features {
			style := canvas.DefaultStyle
			style.FillRule = canvas.EvenOdd
			if layer.Fill != nil {
				style.Fill = canvas.Paint{Color: *layer.Fill}
			} else {
				style.Fill = canvas.Paint{Color: palette[i]}
			}
			style.Stroke = canvas.Paint{Color: layer.Stroke}
			style.StrokeWidth = 0.2

			cp := &canvas.Path{}
			for _, poly := range f.Geometry {
				for _, ring := range poly {
					for k, pt := range ring {
						x, y := toCanvas(pt)
						if k == 0 {
							cp.MoveTo(x, y)
						} else {
							cp.LineTo(x, y)
						}
					}
					cp.Close()
				}
			}
			renderer.RenderPath(cp, style, canvas.Identity)
		}
	}
}

package swap

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// maxImageSize caps the longer side of a rendered map
const maxImageSize = 2000

var (
	backgroundColor = color.RGBA{240, 240, 240, 255}
	unownedColor    = color.RGBA{200, 200, 200, 255}
	outlineColor    = color.RGBA{90, 90, 90, 255}
	seedColor       = color.RGBA{0, 0, 0, 255}
)

// OwnerPalette returns a distinct fill color for the i-th owner
func OwnerPalette(i int) color.RGBA {
	base := []color.RGBA{
		{100, 149, 237, 255}, // Cornflower blue
		{255, 99, 71, 255},   // Tomato
		{144, 238, 144, 255}, // Light green
		{255, 215, 0, 255},   // Gold
		{186, 85, 211, 255},  // Medium orchid
		{64, 224, 208, 255},  // Turquoise
		{244, 164, 96, 255},  // Sandy brown
		{255, 182, 193, 255}, // Light pink
	}
	if i < len(base) {
		return base[i]
	}
	// golden-angle hues past the fixed palette
	return hsvColor(math.Mod(float64(i)*137.508, 360), 0.55, 0.9)
}

// ParseHexColor parses "#RRGGBB" or "RRGGBB"
func ParseHexColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(s, "#")
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid color %q: want #RRGGBB", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.RGBA{uint8(v >> 16), uint8(v >> 8), uint8(v), 255}, nil
}

// OwnershipRenderer draws units filled by owner with seeds marked
type OwnershipRenderer struct {
	Units   []Unit
	Owners  []OwnerID
	Seeds   map[OwnerID][]UnitID
	Colors  map[OwnerID]color.RGBA // overrides OwnerPalette
	Scale   float64                // pixels per map unit; 0 fits the longer side to maxImageSize
	Padding int
	Legend  bool
}

// NewOwnershipRenderer renders the dataset's current ownership
func NewOwnershipRenderer(ds *Dataset, seeds map[OwnerID][]UnitID) *OwnershipRenderer {
	return &OwnershipRenderer{
		Units:   ds.Units(),
		Owners:  ds.Owners(),
		Seeds:   seeds,
		Padding: 20,
		Legend:  true,
	}
}

// Bounds returns the bound of all unit geometries
func (r *OwnershipRenderer) Bounds() orb.Bound {
	var b orb.Bound
	first := true
	for _, u := range r.Units {
		var ub orb.Bound
		if u.Geometry != nil {
			ub = u.Geometry.Bound()
		} else {
			ub = u.Centroid.Bound()
		}
		if first {
			b, first = ub, false
			continue
		}
		b = b.Union(ub)
	}
	return b
}

// Render creates the image
func (r *OwnershipRenderer) Render() *image.RGBA {
	bound := r.Bounds()
	scale := r.Scale
	span := math.Max(bound.Right()-bound.Left(), bound.Top()-bound.Bottom())
	if scale <= 0 {
		scale = 1
		if span > 0 {
			scale = float64(maxImageSize-2*r.Padding) / span
		}
	}
	width := int((bound.Right()-bound.Left())*scale) + 2*r.Padding + 1
	height := int((bound.Top()-bound.Bottom())*scale) + 2*r.Padding + 1
	width, height = min(width, maxImageSize), min(height, maxImageSize)

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, backgroundColor)
		}
	}

	// image y grows downward, map y grows upward
	toImage := func(p orb.Point) (int, int) {
		x := int((p[0]-bound.Left())*scale) + r.Padding
		y := height - 1 - (int((p[1]-bound.Bottom())*scale) + r.Padding)
		return x, y
	}
	toMap := func(x, y int) orb.Point {
		return orb.Point{
			bound.Left() + (float64(x-r.Padding)+0.5)/scale,
			bound.Bottom() + (float64(height-1-y-r.Padding)+0.5)/scale,
		}
	}

	colors := r.ownerColors()
	for _, u := range r.Units {
		fill, ok := colors[u.Owner]
		if !ok {
			fill = unownedColor
		}
		r.fillUnit(img, u, fill, toImage, toMap)
	}
	for _, u := range r.Units {
		r.outlineUnit(img, u, toImage)
	}

	for _, owner := range r.Owners {
		for _, id := range r.Seeds[owner] {
			for _, u := range r.Units {
				if u.ID == id {
					x, y := toImage(u.Centroid)
					drawSquare(img, x, y, 6, seedColor)
				}
			}
		}
	}

	if r.Legend {
		r.drawLegend(img, colors)
	}
	return img
}

func (r *OwnershipRenderer) ownerColors() map[OwnerID]color.RGBA {
	colors := make(map[OwnerID]color.RGBA, len(r.Owners))
	for i, owner := range r.Owners {
		if c, ok := r.Colors[owner]; ok {
			colors[owner] = c
			continue
		}
		colors[owner] = OwnerPalette(i)
	}
	return colors
}

// fillUnit scans the unit's bounding box and sets pixels whose centers fall
// inside the geometry
func (r *OwnershipRenderer) fillUnit(img *image.RGBA, u Unit, c color.RGBA,
	toImage func(orb.Point) (int, int), toMap func(int, int) orb.Point) {
	if u.Geometry == nil {
		x, y := toImage(u.Centroid)
		drawSquare(img, x, y, 4, c)
		return
	}
	b := u.Geometry.Bound()
	x0, y1 := toImage(b.Min)
	x1, y0 := toImage(b.Max)
	bounds := img.Bounds()
	for y := max(y0, 0); y <= min(y1, bounds.Max.Y-1); y++ {
		for x := max(x0, 0); x <= min(x1, bounds.Max.X-1); x++ {
			if containsPoint(u.Geometry, toMap(x, y)) {
				img.SetRGBA(x, y, c)
			}
		}
	}
}

func (r *OwnershipRenderer) outlineUnit(img *image.RGBA, u Unit, toImage func(orb.Point) (int, int)) {
	for _, ring := range rings(u.Geometry) {
		for i := 1; i < len(ring); i++ {
			x0, y0 := toImage(ring[i-1])
			x1, y1 := toImage(ring[i])
			drawLine(img, x0, y0, x1, y1, outlineColor)
		}
	}
}

func (r *OwnershipRenderer) drawLegend(img *image.RGBA, colors map[OwnerID]color.RGBA) {
	y := 15
	for _, owner := range r.Owners {
		c := colors[owner]
		for dy := 0; dy < 12; dy++ {
			for dx := 0; dx < 12; dx++ {
				img.SetRGBA(10+dx, y+dy-10, c)
			}
		}
		drawText(img, 28, y, string(owner), color.RGBA{0, 0, 0, 255})
		y += 18
		if y > img.Bounds().Max.Y-5 {
			return
		}
	}
}

// WritePNG encodes the rendered image to w
func (r *OwnershipRenderer) WritePNG(w io.Writer) error {
	return png.Encode(w, r.Render())
}

// SavePNG renders to a file
func (r *OwnershipRenderer) SavePNG(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	if err := r.WritePNG(f); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return nil
}

func containsPoint(g orb.Geometry, p orb.Point) bool {
	switch t := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(t, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(t, p)
	case orb.Bound:
		return t.Contains(p)
	}
	return false
}

// drawSquare draws a filled square
func drawSquare(img *image.RGBA, cx, cy, size int, c color.RGBA) {
	half := size / 2
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			x, y := cx+dx, cy+dy
			if (image.Point{x, y}).In(img.Bounds()) {
				img.SetRGBA(x, y, c)
			}
		}
	}
}

// drawLine draws a one pixel line (Bresenham)
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		if (image.Point{x0, y0}).In(img.Bounds()) {
			img.SetRGBA(x0, y0, c)
		}
		if x0 == x1 && y0 == y1 {
			return
		}
		if e2 := 2 * e; e2 >= dy {
			e += dy
			x0 += sx
		} else {
			e += dx
			y0 += sy
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

func hsvColor(h, s, v float64) color.RGBA {
	c := v * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := v - c
	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	return color.RGBA{uint8((r + m) * 255), uint8((g + m) * 255), uint8((b + m) * 255), 255}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

package locate

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"gonum.org/v1/gonum/mat"
)

// SceneRenderer draws a solve scene: station markers, the range circle of
// every sample (green for inliers, red for outliers), the estimated
// position, and the 2-sigma covariance ellipse when available. 3D scenes
// are projected onto the first two axes.
type SceneRenderer struct {
	Stations   map[string]Point
	Samples    []DistanceSample
	Result     *EstimationResult
	Padding    float64           // padding in world units (meters)
	Resolution canvas.Resolution // resolution for PNG output
}

// NewSceneRenderer creates a scene renderer with default settings.
func NewSceneRenderer(stations map[string]Point, samples []DistanceSample, result *EstimationResult) *SceneRenderer {
	return &SceneRenderer{
		Stations:   stations,
		Samples:    samples,
		Result:     result,
		Padding:    5.0,
		Resolution: canvas.DPI(150),
	}
}

// canvasRenderer is the interface both the svg and rasterizer backends
// implement.
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// RenderToSVG writes the scene as an SVG to the provided writer.
func (r *SceneRenderer) RenderToSVG(w io.Writer) error {
	minX, minY, width, height := r.worldBounds()
	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, minX, minY, width, height)
	return svgRenderer.Close()
}

// RenderToPNG writes the scene as a PNG to the provided writer. Station
// markers get text labels; the vector output stays label-free.
func (r *SceneRenderer) RenderToPNG(w io.Writer) error {
	minX, minY, width, height := r.worldBounds()
	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, minX, minY, width, height)

	dpmm := r.Resolution.DPMM()
	imgHeight := rast.Bounds().Dy()
	for id, p := range r.Stations {
		px := int((p[0]-minX+r.Padding)*dpmm) + 4
		py := imgHeight - int((p[1]-minY+r.Padding)*dpmm) - 4
		drawText(rast, px, py, id, stationColor)
	}
	return png.Encode(w, rast)
}

// drawText renders text onto an image at the specified position.
func drawText(img draw.Image, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// worldBounds computes the drawing extent over stations, sample ranges and
// the estimate.
func (r *SceneRenderer) worldBounds() (minX, minY, width, height float64) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	include := func(x, y float64) {
		minX = math.Min(minX, x)
		minY = math.Min(minY, y)
		maxX = math.Max(maxX, x)
		maxY = math.Max(maxY, y)
	}
	for _, p := range r.Stations {
		include(p[0], p[1])
	}
	for _, s := range r.Samples {
		include(s.Position[0]-s.Distance, s.Position[1]-s.Distance)
		include(s.Position[0]+s.Distance, s.Position[1]+s.Distance)
	}
	if r.Result != nil && r.Result.Position.Dims() >= 2 {
		include(r.Result.Position[0], r.Result.Position[1])
	}
	if math.IsInf(minX, 1) {
		minX, minY, maxX, maxY = 0, 0, 1, 1
	}
	width = (maxX - minX) + 2*r.Padding
	height = (maxY - minY) + 2*r.Padding
	return minX, minY, width, height
}

var (
	inlierColor  = color.RGBA{R: 0x2e, G: 0x8b, B: 0x57, A: 0xff} // sea green
	outlierColor = color.RGBA{R: 0xd0, G: 0x30, B: 0x30, A: 0xff}
	stationColor = color.RGBA{R: 0x20, G: 0x40, B: 0x80, A: 0xff}
	estimateFill = color.RGBA{R: 0xff, G: 0x8c, B: 0x00, A: 0xff}
	ellipseColor = color.RGBA{R: 0xff, G: 0x8c, B: 0x00, A: 0x60}
)

// renderToCanvas draws the scene (shared between SVG and PNG backends).
func (r *SceneRenderer) renderToCanvas(renderer canvasRenderer, minX, minY, width, height float64) {
	toCanvas := func(x, y float64) (float64, float64) {
		return (x - minX) + r.Padding, (y - minY) + r.Padding
	}

	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	// Range circles, classified by the inlier mask when present.
	for i, s := range r.Samples {
		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: canvas.Transparent}
		c := inlierColor
		if r.Result != nil && r.Result.Inliers != nil &&
			i < len(r.Result.Inliers.InlierMask) && !r.Result.Inliers.InlierMask[i] {
			c = outlierColor
		}
		style.Stroke = canvas.Paint{Color: c}
		style.StrokeWidth = 0.05
		cx, cy := toCanvas(s.Position[0], s.Position[1])
		renderer.RenderPath(canvas.Circle(s.Distance), style, canvas.Identity.Translate(cx, cy))
	}

	// Station markers.
	stationStyle := canvas.DefaultStyle
	stationStyle.Fill = canvas.Paint{Color: stationColor}
	for _, p := range r.Stations {
		cx, cy := toCanvas(p[0], p[1])
		renderer.RenderPath(canvas.Circle(0.25), stationStyle, canvas.Identity.Translate(cx, cy))
	}

	if r.Result == nil || r.Result.Position.Dims() < 2 {
		return
	}

	// Covariance ellipse (2 sigma) behind the estimate marker.
	if cov := r.Result.Covariance; cov != nil {
		if rx, ry, angle, ok := ellipseAxes(cov); ok {
			ex, ey := toCanvas(r.Result.Position[0], r.Result.Position[1])
			ellipseStyle := canvas.DefaultStyle
			ellipseStyle.Fill = canvas.Paint{Color: ellipseColor}
			m := canvas.Identity.Translate(ex, ey).Rotate(angle * 180 / math.Pi)
			renderer.RenderPath(canvas.Ellipse(2*rx, 2*ry), ellipseStyle, m)
		}
	}

	estStyle := canvas.DefaultStyle
	estStyle.Fill = canvas.Paint{Color: estimateFill}
	ex, ey := toCanvas(r.Result.Position[0], r.Result.Position[1])
	renderer.RenderPath(canvas.Circle(0.2), estStyle, canvas.Identity.Translate(ex, ey))
}

// ellipseAxes extracts the semi-axes and orientation of the 1-sigma error
// ellipse from the leading 2x2 block of the covariance.
func ellipseAxes(cov *mat.SymDense) (rx, ry, angle float64, ok bool) {
	block := mat.NewSymDense(2, []float64{
		cov.At(0, 0), cov.At(0, 1),
		cov.At(0, 1), cov.At(1, 1),
	})
	var eig mat.EigenSym
	if !eig.Factorize(block, true) {
		return 0, 0, 0, false
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)
	if values[0] < 0 || values[1] < 0 {
		return 0, 0, 0, false
	}
	// Largest eigenvalue last in gonum's ascending order.
	rx = math.Sqrt(values[1])
	ry = math.Sqrt(values[0])
	angle = math.Atan2(vectors.At(1, 1), vectors.At(0, 1))
	return rx, ry, angle, true
}

package plot

import (
	"fmt"
	"html/template"
	"io"
	"strconv"
	"strings"
)

const (
	chartWidth  = 960
	chartHeight = 420
	margin      = 60
)

type svgPoint struct {
	X, Y  float64
	Day   string
	Value string
}

type chartData struct {
	Title    string
	Width    int
	Height   int
	Left     int
	Right    int
	Top      int
	Bottom   int
	Polyline string
	Points   []svgPoint
	MinLabel string
	MaxLabel string
	First    string
	Last     string
	Skipped  int
}

var chartTmpl = template.Must(template.New("chart").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
.line { fill: none; stroke: #1f77b4; stroke-width: 2; }
.point { fill: #1f77b4; }
.axis { stroke: #444; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<svg xmlns="http://www.w3.org/2000/svg" width="{{.Width}}" height="{{.Height}}" viewBox="0 0 {{.Width}} {{.Height}}">
<line class="axis" x1="{{.Left}}" y1="{{.Bottom}}" x2="{{.Right}}" y2="{{.Bottom}}"/>
<line class="axis" x1="{{.Left}}" y1="{{.Top}}" x2="{{.Left}}" y2="{{.Bottom}}"/>
{{if .Points}}<polyline class="line" points="{{.Polyline}}"/>
{{range .Points}}<circle class="point" cx="{{.X}}" cy="{{.Y}}" r="3" data-date="{{.Day}}" data-value="{{.Value}}"><title>{{.Day}}: {{.Value}}</title></circle>
{{end}}<text class="label x-first" x="{{.Left}}" y="{{.Height}}">{{.First}}</text>
<text class="label x-last" x="{{.Right}}" y="{{.Height}}" text-anchor="end">{{.Last}}</text>
<text class="label y-min" x="0" y="{{.Bottom}}">{{.MinLabel}}</text>
<text class="label y-max" x="0" y="{{.Top}}">{{.MaxLabel}}</text>
{{end}}</svg>
<p class="note">Data: date / value (daily sum){{if .Skipped}}; {{.Skipped}} unparseable rows skipped{{end}}</p>
</body>
</html>
`))

// RenderHTML writes a line-and-point chart of s, ordered by date.
func RenderHTML(w io.Writer, title string, s Series) error {
	d := chartData{
		Title:   title,
		Width:   chartWidth,
		Height:  chartHeight,
		Left:    margin,
		Right:   chartWidth - margin,
		Top:     margin,
		Bottom:  chartHeight - margin,
		Skipped: s.Skipped,
	}

	n := len(s.Points)
	if n > 0 {
		lo, hi := s.Points[0].Value, s.Points[0].Value
		for _, p := range s.Points[1:] {
			lo = min(lo, p.Value)
			hi = max(hi, p.Value)
		}

		plotW := float64(d.Right - d.Left)
		plotH := float64(d.Bottom - d.Top)
		coords := make([]string, n)
		d.Points = make([]svgPoint, n)
		for i, p := range s.Points {
			x := float64(d.Left) + plotW/2
			if n > 1 {
				x = float64(d.Left) + plotW*float64(i)/float64(n-1)
			}
			y := float64(d.Top) + plotH/2
			if hi > lo {
				y = float64(d.Bottom) - plotH*(p.Value-lo)/(hi-lo)
			}
			d.Points[i] = svgPoint{X: round2(x), Y: round2(y), Day: p.Day, Value: formatValue(p.Value)}
			coords[i] = fmt.Sprintf("%g,%g", round2(x), round2(y))
		}
		d.Polyline = strings.Join(coords, " ")
		d.MinLabel = formatValue(lo)
		d.MaxLabel = formatValue(hi)
		d.First = s.Points[0].Day
		d.Last = s.Points[n-1].Day
	}

	if err := chartTmpl.Execute(w, d); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}

func round2(f float64) float64 {
	v, _ := strconv.ParseFloat(strconv.FormatFloat(f, 'f', 2, 64), 64)
	return v
}

func formatValue(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

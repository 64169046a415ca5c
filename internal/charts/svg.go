package charts

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// SVGCapturer renders a bar chart from a JSON object of label to numeric
// value. It holds no state but allocates per-render buffers proportional to
// the data, which is why callers wrap it in Serialized.
type SVGCapturer struct {
	Width  int
	Height int
}

const (
	defaultWidth  = 640
	defaultHeight = 320
	barGap        = 8
	labelBand     = 24
)

func NewSVGCapturer() *SVGCapturer {
	return &SVGCapturer{Width: defaultWidth, Height: defaultHeight}
}

func (c *SVGCapturer) Capture(ctx context.Context, name string, spec []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var values map[string]float64
	if err := json.Unmarshal(spec, &values); err != nil {
		return nil, fmt.Errorf("chart %q: spec must be an object of numbers: %w", name, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("chart %q: empty spec", name)
	}

	labels := make([]string, 0, len(values))
	for label := range values {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	max := 0.0
	for _, v := range values {
		if v > max {
			max = v
		}
	}
	if max == 0 {
		max = 1
	}

	width, height := c.Width, c.Height
	if width <= 0 {
		width = defaultWidth
	}
	if height <= 0 {
		height = defaultHeight
	}

	plotHeight := height - labelBand
	barWidth := (width - barGap*(len(labels)+1)) / len(labels)
	if barWidth < 1 {
		barWidth = 1
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d">`, width, height)
	fmt.Fprintf(&b, `<title>%s</title>`, escape(name))

	x := barGap
	for _, label := range labels {
		v := values[label]
		barHeight := int(float64(plotHeight) * v / max)
		y := plotHeight - barHeight
		fmt.Fprintf(&b, `<rect x="%d" y="%d" width="%d" height="%d" fill="#4a7bd0"/>`, x, y, barWidth, barHeight)
		fmt.Fprintf(&b, `<text x="%d" y="%d" font-size="11" text-anchor="middle">%s</text>`,
			x+barWidth/2, height-8, escape(label))
		x += barWidth + barGap
	}
	b.WriteString(`</svg>`)

	return []byte(b.String()), nil
}

func escape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}

var _ Capturer = (*SVGCapturer)(nil)

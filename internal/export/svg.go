// Package export renders run results for use outside the terminal.
package export

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
)

// palette cycles over the series of a plot.
var palette = []string{"#00d7af", "#ffd700", "#ff5fd7", "#5fafff", "#87ff5f", "#ff8700"}

// SeriesToSVG plots every series against times on shared axes, one
// polyline per series, with a legend in sorted name order. Series whose
// length differs from times are skipped.
func SeriesToSVG(w io.Writer, times []float64, series map[string][]float64, width, height int) error {
	if len(times) < 2 {
		return fmt.Errorf("need at least two samples, got %d", len(times))
	}
	names := make([]string, 0, len(series))
	for name, v := range series {
		if len(v) == len(times) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return fmt.Errorf("no series to plot")
	}
	sort.Strings(names)

	minX, maxX := times[0], times[len(times)-1]
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, name := range names {
		for _, v := range series[name] {
			minY = math.Min(minY, v)
			maxY = math.Max(maxY, v)
		}
	}

	// Add padding
	rangeX := maxX - minX
	rangeY := maxY - minY
	if rangeX == 0 {
		rangeX = 1
	}
	if rangeY == 0 {
		rangeY = 1
	}
	minY -= rangeY * 0.1
	maxY += rangeY * 0.1
	rangeY = maxY - minY

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
`, width, height, width, height))

	if minY < 0 && maxY > 0 {
		y := float64(height) - (0-minY)/rangeY*float64(height)
		sb.WriteString(fmt.Sprintf(`<line x1="0" y1="%.1f" x2="%d" y2="%.1f" stroke="#444" stroke-dasharray="4"/>
`, y, width, y))
	}

	for k, name := range names {
		color := palette[k%len(palette)]
		sb.WriteString(fmt.Sprintf(`<path fill="none" stroke="%s" stroke-width="1.5" d="M`, color))
		for i, v := range series[name] {
			x := (times[i] - minX) / rangeX * float64(width)
			y := float64(height) - (v-minY)/rangeY*float64(height)
			if i == 0 {
				sb.WriteString(fmt.Sprintf("%.1f,%.1f", x, y))
			} else {
				sb.WriteString(fmt.Sprintf(" L%.1f,%.1f", x, y))
			}
		}
		sb.WriteString("\"/>\n")
		sb.WriteString(fmt.Sprintf(`<text x="8" y="%d" fill="%s" font-family="monospace" font-size="12">%s</text>
`, 16*(k+1), color, name))
	}

	sb.WriteString("</svg>\n")
	_, err := io.WriteString(w, sb.String())
	return err
}

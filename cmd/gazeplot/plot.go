package main

import (
	"fmt"
	"image/color"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/eyetrack/internal/event"
	"github.com/banshee-data/eyetrack/internal/security"
)

var (
	gazeColor  = color.RGBA{R: 49, G: 104, B: 142, A: 255}
	xColor     = color.RGBA{R: 68, G: 1, B: 84, A: 255}
	yColor     = color.RGBA{R: 53, G: 183, B: 121, A: 255}
	pupilColor = color.RGBA{R: 253, G: 231, B: 37, A: 255}
)

// plotSession writes <prefix>_gaze.png and <prefix>_series.png into dir
// and returns their paths. prefix is sanitized before use. ticksPerSecond converts software timestamps to
// seconds from the first sample.
func plotSession(positions []event.Position, ticksPerSecond int64, dir, prefix string) ([]string, error) {
	if len(positions) == 0 {
		return nil, fmt.Errorf("no positions to plot")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	prefix = security.SanitizeFilename(prefix)
	gazeFile, err := security.OutputPath(dir, prefix+"_gaze.png")
	if err != nil {
		return nil, err
	}
	seriesFile, err := security.OutputPath(dir, prefix+"_series.png")
	if err != nil {
		return nil, err
	}

	gaze := make(plotter.XYs, len(positions))
	xs := make(plotter.XYs, len(positions))
	ys := make(plotter.XYs, len(positions))
	pupil := make(plotter.XYs, len(positions))
	start := positions[0].SoftwareTimestamp
	for i, p := range positions {
		t := float64(p.SoftwareTimestamp-start) / float64(ticksPerSecond)
		gaze[i] = plotter.XY{X: p.XC, Y: p.YC}
		xs[i] = plotter.XY{X: t, Y: p.XC}
		ys[i] = plotter.XY{X: t, Y: p.YC}
		pupil[i] = plotter.XY{X: t, Y: p.Pupil}
	}

	// Gaze trace over the screen
	pGaze := plot.New()
	pGaze.Title.Text = fmt.Sprintf("Session %s - Gaze", prefix)
	pGaze.X.Label.Text = "X (px)"
	pGaze.Y.Label.Text = "Y (px)"
	scatter, err := plotter.NewScatter(gaze)
	if err != nil {
		return nil, err
	}
	scatter.GlyphStyle.Color = gazeColor
	scatter.GlyphStyle.Radius = vg.Points(1)
	pGaze.Add(plotter.NewGrid(), scatter)

	// Gaze and pupil over time
	pSeries := plot.New()
	pSeries.Title.Text = fmt.Sprintf("Session %s - Time Series", prefix)
	pSeries.X.Label.Text = "Time (s)"
	pSeries.Y.Label.Text = "Value"
	for _, s := range []struct {
		label string
		pts   plotter.XYs
		c     color.Color
	}{
		{"xc", xs, xColor},
		{"yc", ys, yColor},
		{"pupil", pupil, pupilColor},
	} {
		line, err := plotter.NewLine(s.pts)
		if err != nil {
			return nil, err
		}
		line.Color = s.c
		line.Width = vg.Points(1)
		pSeries.Add(line)
		pSeries.Legend.Add(s.label, line)
	}
	pSeries.Legend.Top = true
	pSeries.Legend.Left = false
	pSeries.Legend.XOffs = -10
	pSeries.Legend.YOffs = -10

	if err := pGaze.Save(8*vg.Inch, 6*vg.Inch, gazeFile); err != nil {
		return nil, fmt.Errorf("failed to save %s: %w", gazeFile, err)
	}
	if err := pSeries.Save(14*vg.Inch, 6*vg.Inch, seriesFile); err != nil {
		return nil, fmt.Errorf("failed to save %s: %w", seriesFile, err)
	}
	return []string{gazeFile, seriesFile}, nil
}

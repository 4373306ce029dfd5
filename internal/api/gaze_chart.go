package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/eyetrack/internal/httputil"
)

// gazeChart renders the recent calibrated positions as a scatter over the
// screen, coloured by pupil size.
func (s *Server) gazeChart(w http.ResponseWriter, r *http.Request) {
	recent := s.Recent()
	cal := s.node.Status().Calibration

	data := make([]opts.ScatterData, 0, len(recent))
	minPupil, maxPupil := 0.0, 1.0
	for i, p := range recent {
		if i == 0 || p.Pupil < minPupil {
			minPupil = p.Pupil
		}
		if i == 0 || p.Pupil > maxPupil {
			maxPupil = p.Pupil
		}
		data = append(data, opts.ScatterData{Value: []interface{}{p.XC, p.YC, p.Pupil}})
	}
	if maxPupil <= minPupil {
		maxPupil = minPupil + 1
	}

	width := 2 * cal.ScreenCenterX
	height := 2 * cal.ScreenCenterY

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Gaze", Theme: "dark", Width: "1024px", Height: "768px"}),
		charts.WithTitleOpts(opts.Title{Title: "Recent Gaze", Subtitle: fmt.Sprintf("mode=%s points=%d", cal.Mode, len(data))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: width, Name: "X (px)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: height, Name: "Y (px)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Dimension:  "2",
			Min:        float32(minPupil),
			Max:        float32(maxPupil),
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#31688e", "#35b779", "#fde725"}},
		}),
	)
	scatter.AddSeries("gaze", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

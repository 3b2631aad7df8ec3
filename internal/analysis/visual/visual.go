// Package visual renders one symbol's daily history as an HTML chart page:
// candlesticks with SMA20/SMA50 overlays and a volume pane underneath. The
// live API serves the page directly; nothing here touches a browser.
package visual

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	talib "github.com/markcheno/go-talib"

	"swell/internal/analysis/indicator"
	"swell/internal/market"
)

// ReportInput is one symbol's chartable state. Read is optional; when present
// the latest technical read annotates the title.
type ReportInput struct {
	Symbol string
	Series market.Series
	Read   *indicator.Read
}

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorSMAFast       = "#3b82f6"
	colorSMASlow       = "#fbbf24"

	chartWidthPx   = 1280
	klineHeightPx  = 560
	volumeHeightPx = 240

	smaFastPeriod = 20
	smaSlowPeriod = 50
)

// RenderReport builds the chart page for one symbol.
func RenderReport(in ReportInput) ([]byte, error) {
	symbol := strings.ToUpper(strings.TrimSpace(in.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol required for chart report")
	}
	bars := in.Series.Bars()
	if len(bars) == 0 {
		return nil, fmt.Errorf("no history to chart for %s", symbol)
	}

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)

	xAxis := buildXAxis(bars)
	page.AddCharts(
		buildKline(symbol, in.Read, bars, xAxis),
		buildVolume(xAxis, bars),
	)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildKline(symbol string, read *indicator.Read, bars []market.Bar, xAxis []string) *charts.Kline {
	minPrice, maxPrice := priceBounds(bars)
	padding := (maxPrice - minPrice) * 0.05
	if padding <= 0 {
		padding = math.Max(1, math.Abs(maxPrice)*0.01)
	}

	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", klineHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("%s daily", symbol),
			Subtitle:      readSubtitle(read, bars),
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			Min:       round(minPrice-padding, 4),
			Max:       round(maxPrice+padding, 4),
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)

	klineData := make([]opts.KlineData, 0, len(bars))
	for _, b := range bars {
		klineData = append(klineData, opts.KlineData{Value: [4]float64{b.Open, b.Close, b.Low, b.High}})
	}
	kline.SetXAxis(xAxis)
	kline.AddSeries("Price", klineData)
	kline.Overlap(buildSMALines(bars, xAxis))
	return kline
}

func buildSMALines(bars []market.Bar, xAxis []string) *charts.Line {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	line := charts.NewLine()
	line.SetSeriesOptions(
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	line.SetXAxis(xAxis)
	line.AddSeries(fmt.Sprintf("SMA%d", smaFastPeriod),
		toLineData(talib.Sma(closes, smaFastPeriod), len(bars)),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorSMAFast, Width: 2}))
	line.AddSeries(fmt.Sprintf("SMA%d", smaSlowPeriod),
		toLineData(talib.Sma(closes, smaSlowPeriod), len(bars)),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorSMASlow, Width: 2}))
	return line
}

func buildVolume(xAxis []string, bars []market.Bar) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", volumeHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{Title: "Volume", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			SplitNumber: 6,
			AxisLabel:   &opts.AxisLabel{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	vols := make([]opts.BarData, len(bars))
	for i, b := range bars {
		color := colorBear
		if b.Close >= b.Open {
			color = colorBull
		}
		vols[i] = opts.BarData{
			Value: b.Volume,
			ItemStyle: &opts.ItemStyle{
				Color:   color,
				Opacity: opts.Float(0.6),
			},
		}
	}
	bar.SetXAxis(xAxis)
	bar.AddSeries("Volume", vols)
	return bar
}

func readSubtitle(read *indicator.Read, bars []market.Bar) string {
	last := bars[len(bars)-1]
	if read == nil {
		return fmt.Sprintf("close %.2f | %d bars", last.Close, len(bars))
	}
	return fmt.Sprintf("%s score %.4f | RSI %.1f | momentum %+.2f%% | close %.2f",
		read.Side, read.Score, read.RSI, read.MomentumPct, last.Close)
}

func buildXAxis(bars []market.Bar) []string {
	x := make([]string, len(bars))
	for i, b := range bars {
		x[i] = b.Timestamp.UTC().Format("2006-01-02")
	}
	return x
}

func toLineData(series []float64, length int) []opts.LineData {
	line := make([]opts.LineData, length)
	offset := length - len(series)
	if offset < 0 {
		offset = 0
	}
	for i := 0; i < offset; i++ {
		line[i] = opts.LineData{Value: nil}
	}
	for i := 0; i < len(series) && offset+i < length; i++ {
		val := series[i]
		if math.IsNaN(val) {
			line[offset+i] = opts.LineData{Value: nil}
		} else {
			line[offset+i] = opts.LineData{Value: round(val, 4)}
		}
	}
	return line
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}

func priceBounds(bars []market.Bar) (minVal, maxVal float64) {
	if len(bars) == 0 {
		return 0, 0
	}
	minVal = bars[0].Low
	maxVal = bars[0].High
	for _, b := range bars {
		if b.Low < minVal {
			minVal = b.Low
		}
		if b.High > maxVal {
			maxVal = b.High
		}
	}
	return minVal, maxVal
}

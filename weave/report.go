package weave

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-analyze/bulk"
	"github.com/go-analyze/charts"
)

const reportTableMaxRecords = 12

// chart color constants
var greenTextColor = charts.ColorGreenAlt3
var orangeTextColor = charts.ColorOrangeAlt1.WithAdjustHSL(0, .2, 0)
var redTextColor = charts.ColorRed.WithAdjustHSL(0, .1, -.1)

// WeaveReport summarizes one engine run.
type WeaveReport struct {
	GeneratedAt time.Time      `json:"generated_at"`
	RunDuration int64          `json:"run_ms"`
	Modules     []ModuleReport `json:"modules"`
}

// ModuleReport summarizes the pass over one module.
type ModuleReport struct {
	Module       string          `json:"module"`
	Version      string          `json:"version,omitempty"`
	Input        string          `json:"input"`
	Output       string          `json:"output,omitempty"`
	Error        string          `json:"error,omitempty"`
	Woven        int             `json:"woven"`
	Skipped      int             `json:"skipped"`
	Failed       int             `json:"failed"`
	SkippedTypes []string        `json:"skipped_types,omitempty"`
	SkipReasons  map[string]int  `json:"skip_reasons,omitempty"`
	Outcomes     []MethodOutcome `json:"outcomes,omitempty"`
}

// NewModuleReport builds the report entry for a completed pass.
func NewModuleReport(input string, mod *Module, result *PassResult) ModuleReport {
	counts := result.Counts()
	var reasons []string
	for _, o := range result.Outcomes {
		if o.Status != StatusWoven {
			reasons = append(reasons, reasonCategory(o.Reason))
		}
	}
	report := ModuleReport{
		Module:       mod.Name,
		Version:      mod.Version,
		Input:        input,
		Woven:        counts[StatusWoven],
		Skipped:      counts[StatusSkipped],
		Failed:       counts[StatusFailed],
		SkippedTypes: result.SkippedTypes,
		Outcomes:     result.Outcomes,
	}
	if len(reasons) > 0 {
		report.SkipReasons = bulk.SliceToCounts(reasons)
	}
	return report
}

// reasonCategory strips the per method detail from a wrapped rejection reason.
func reasonCategory(reason string) string {
	if category, _, ok := strings.Cut(reason, ": "); ok {
		return category
	}
	return reason
}

// Totals returns the outcome counts across all modules.
func (r *WeaveReport) Totals() (woven, skipped, failed int) {
	for _, m := range r.Modules {
		woven += m.Woven
		skipped += m.Skipped
		failed += m.Failed
	}
	return
}

// WriteToFile writes the report as indented JSON, doing nothing for an empty path.
func (r *WeaveReport) WriteToFile(path string) error {
	if path == "" {
		return nil
	}

	encodedReport, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report failed: %w", err)
	}
	if err := os.WriteFile(path, encodedReport, 0644); err != nil {
		return fmt.Errorf("write report file failed: %w", err)
	}
	return nil
}

// ReadReportFile loads a report written by WriteToFile.
func ReadReportFile(path string) (*WeaveReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var report WeaveReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", path, err)
	}
	return &report, nil
}

// WriteChartFile renders the report chart, the image format is selected by the path extension.
func (r *WeaveReport) WriteChartFile(path string) error {
	if path == "" {
		return nil
	}
	var outputType string
	if strings.HasSuffix(path, ".png") {
		outputType = charts.ChartOutputPNG
	} else if strings.HasSuffix(path, ".jpg") || strings.HasSuffix(path, ".jpeg") {
		outputType = charts.ChartOutputJPG
	} else if strings.HasSuffix(path, ".svg") {
		outputType = charts.ChartOutputSVG
	} else {
		return fmt.Errorf("unhandled chart file type: %s", path)
	}

	if buf, err := r.RenderChart(outputType); err != nil {
		return fmt.Errorf("render charts failed: %w", err)
	} else if err = os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("write chart file failed: %w", err)
	}
	return nil
}

// RenderChart renders the outcome gauge and the per module table.
func (r *WeaveReport) RenderChart(outputType string) ([]byte, error) {
	rows := min(len(r.Modules), reportTableMaxRecords)
	p := charts.NewPainter(charts.PainterOptions{
		OutputFormat: outputType,
		Width:        1024,
		Height:       240 + 40*(rows+1),
	})
	if err := r.renderToPainter(p); err != nil {
		return nil, err
	}
	return p.Bytes()
}

func (r *WeaveReport) renderToPainter(p *charts.Painter) error {
	const chartPadding = 10
	p.FilledRect(0, 0, p.Width(), p.Height(), charts.ColorWhite, charts.ColorWhite, 0)
	p = p.Child(charts.PainterPaddingOption(charts.NewBox(0, chartPadding, chartPadding, chartPadding)))

	painters, err := p.LayoutByRows().
		Row().Height("128").Columns("gauge").
		Row().Columns("table"). // remaining space
		Build()
	if err != nil {
		return fmt.Errorf("error building chart layout: %w", err)
	}
	gauge := painters["gauge"]
	table := painters["table"]

	woven, skipped, failed := r.Totals()
	total := woven + skipped + failed
	gaugeOpt := charts.NewHorizontalBarChartOptionWithData([][]float64{
		{float64(woven)}, {float64(skipped)}, {float64(failed)},
	})
	gaugeOpt.StackSeries = charts.Ptr(true)
	gaugeOpt.Theme = charts.GetTheme(charts.ThemeLight).
		WithBackgroundColor(charts.ColorTransparent).
		WithSeriesColors([]charts.Color{
			charts.ColorGreenAlt1,
			{ /* Golden yellow */ R: 220, G: 210, B: 100, A: 255},
			charts.ColorRed,
		})
	gaugeOpt.Title.Text = "Methods Instrumented"
	gaugeOpt.XAxis.Unit = axisUnitForMax(total)
	gaugeOpt.YAxis.Show = charts.Ptr(false)
	gaugeOpt.SeriesList[2].Label.Show = charts.Ptr(true)
	gaugeOpt.SeriesList[2].Label.FontStyle.FontColor = wovenRankColor(woven, total)
	gaugeOpt.SeriesList[2].Label.ValueFormatter = func(float64) string {
		if total == 0 {
			return "No methods"
		}
		return charts.FormatValueHumanize(100.0*float64(woven)/float64(total), 1, false) + "%"
	}
	if err := gauge.HorizontalBarChart(gaugeOpt); err != nil {
		return fmt.Errorf("error rendering chart: %w", err)
	}

	modules := slices.Clone(r.Modules)
	slices.SortStableFunc(modules, func(a, b ModuleReport) int {
		if (a.Error != "") != (b.Error != "") { // errors first
			if a.Error != "" {
				return -1
			}
			return 1
		} else if a.Failed != b.Failed {
			return b.Failed - a.Failed
		}
		return strings.Compare(a.Module, b.Module)
	})
	if len(modules) > reportTableMaxRecords {
		modules = modules[:reportTableMaxRecords]
	}
	data := make([][]string, len(modules))
	for i, m := range modules {
		status := strconv.Itoa(m.Failed)
		if m.Error != "" {
			status = "ERROR"
		}
		data[i] = []string{m.Module, strconv.Itoa(m.Woven), strconv.Itoa(m.Skipped), status}
	}
	if len(data) == 0 {
		return nil
	}
	cellFont := charts.FontStyle{
		FontSize:  12,
		FontColor: charts.Color{R: 50, G: 50, B: 50, A: 255},
		Font:      charts.GetDefaultFont(),
	}
	tableOpt := charts.TableChartOption{
		Header:                []string{"Module", "Woven", "Skipped", "Failed"},
		Data:                  data,
		HeaderBackgroundColor: charts.Color{R: 210, G: 210, B: 210, A: 255},
		RowBackgroundColors: []charts.Color{
			{R: 240, G: 240, B: 240, A: 255},
			charts.ColorTransparent,
		},
		Padding:    charts.NewBoxEqual(10),
		Spans:      []int{40, 10, 10, 10},
		TextAligns: []string{charts.AlignLeft, charts.AlignCenter, charts.AlignCenter, charts.AlignCenter},
		CellModifier: func(cell charts.TableCell) charts.TableCell {
			if cell.Row == 0 {
				return cell
			}
			cell.FontStyle = cellFont
			if cell.Column == 3 {
				if cell.Text == "0" {
					cell.FontStyle.FontColor = greenTextColor
				} else if cell.Text == "ERROR" {
					cell.FontStyle.FontColor = redTextColor
				} else {
					cell.FontStyle.FontColor = orangeTextColor
				}
			}
			return cell
		},
	}
	if err := table.TableChart(tableOpt); err != nil {
		return fmt.Errorf("error rendering table: %w", err)
	}
	return nil
}

func wovenRankColor(woven, total int) charts.Color {
	if total == 0 || woven*2 < total {
		return redTextColor
	} else if float64(woven) < float64(total)*.8 {
		return orangeTextColor
	}
	return charts.ColorBlack
}

func axisUnitForMax(val int) float64 {
	if val >= 8000 {
		return 2000
	} else if val > 2000 {
		return 1000
	} else if val >= 800 {
		return 200
	} else if val > 200 {
		return 100
	} else if val >= 80 {
		return 20
	} else if val > 20 {
		return 10
	} else if val >= 10 {
		return 2
	} else {
		return 1
	}
}

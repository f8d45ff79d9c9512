package report

import (
	"fmt"
	"os"
	"slices"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

// WriteStats renders the archive statistics page: records by type and
// removal candidates by disposition.
func WriteStats(path string, doc Document) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write stats: %w", err)
	}
	defer f.Close()

	// 1. Archive composition
	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Archived Records"}),
		charts.WithInitializationOpts(opts.Initialization{Theme: types.ThemeWesteros}),
	)
	pie.AddSeries("Records", []opts.PieData{
		{Name: "Posts", Value: len(doc.Posts)},
		{Name: "Likes", Value: len(doc.Likes)},
		{Name: "Reposts", Value: len(doc.Reposts)},
		{Name: "Others", Value: len(doc.Others)},
	})

	// 2. Removal candidates
	bar := charts.NewBar()
	bar.SetGlobalOptions(charts.WithTitleOpts(opts.Title{Title: "Removal Candidates"}))

	var barX []string
	for k := range doc.Candidates {
		barX = append(barX, k)
	}
	slices.Sort(barX)
	var barY []opts.BarData
	for _, k := range barX {
		barY = append(barY, opts.BarData{Value: doc.Candidates[k]})
	}
	bar.SetXAxis(barX).AddSeries("Items", barY)

	page := components.NewPage()
	page.PageTitle = "Archive Statistics"
	page.AddCharts(pie, bar)
	if err := page.Render(f); err != nil {
		return fmt.Errorf("render stats: %w", err)
	}
	return f.Close()
}

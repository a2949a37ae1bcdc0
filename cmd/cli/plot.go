package main

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// writeErrorPlot draws ||s - s*||² per iteration from a history response.
func writeErrorPlot(resp map[string]interface{}, path string) error {
	records, ok := resp["records"].([]interface{})
	if !ok {
		return fmt.Errorf("history response has no records")
	}
	if len(records) == 0 {
		return fmt.Errorf("no iterations recorded")
	}

	pts := make(plotter.XYs, 0, len(records))
	for _, r := range records {
		m, ok := r.(map[string]interface{})
		if !ok {
			continue
		}
		pts = append(pts, plotter.XY{X: number(m["iteration"]), Y: number(m["error_sum_square"])})
	}

	p := plot.New()
	p.Title.Text = "visual servo error"
	p.X.Label.Text = "iteration"
	p.Y.Label.Text = "|| s - s* ||²"

	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Width = vg.Points(1)
	p.Add(line)

	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return err
	}
	fmt.Printf("wrote %d iterations to %s\n", len(pts), path)
	return nil
}

// number reads a numeric DoCommand value; remote responses carry float64, local ones int.
func number(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

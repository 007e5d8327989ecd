package slide

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/parquet-go/parquet-go"
)

// FitnessCSVHeader is the column layout of POF.csv
var FitnessCSVHeader = []string{"hr", "v", "I", "F_v", "F_I", "F_v_I"}

// WriteFitnessCSV writes the fitness table, one row per candidate scale
func WriteFitnessCSV(path string, table FitnessTable) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	w := csv.NewWriter(file)
	if err := w.Write(FitnessCSVHeader); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, r := range table.Rows {
		row := []string{strconv.Itoa(r.Scale), f(r.WeightedVariance), f(r.MoransI), f(r.FV), f(r.FI), f(r.FTotal)}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("writing CSV row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

// ReadFitnessCSV loads a table written by WriteFitnessCSV and recomputes the
// threshold from its rows
func ReadFitnessCSV(path string) (FitnessTable, error) {
	file, err := os.Open(path)
	if err != nil {
		return FitnessTable{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return FitnessTable{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(rows) == 0 {
		return FitnessTable{}, nil
	}
	records := make([]CandidateScale, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) < 3 {
			return FitnessTable{}, fmt.Errorf("%s line %d: expected at least 3 columns", path, i+2)
		}
		scale, err := strconv.Atoi(row[0])
		if err != nil {
			return FitnessTable{}, fmt.Errorf("%s line %d: %w", path, i+2, err)
		}
		v, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return FitnessTable{}, fmt.Errorf("%s line %d: %w", path, i+2, err)
		}
		moran, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return FitnessTable{}, fmt.Errorf("%s line %d: %w", path, i+2, err)
		}
		records = append(records, CandidateScale{Scale: scale, WeightedVariance: v, MoransI: moran})
	}
	return BuildFitnessTable(records), nil
}

// FitnessRecord is one fitness table row in Parquet form
type FitnessRecord struct {
	// RunID identifies the pipeline run that produced the row
	RunID string `parquet:"run_id,snappy"`

	// Scale is the candidate range radius
	Scale int32 `parquet:"hr,snappy"`

	WeightedVariance float64 `parquet:"v,snappy"`
	MoransI          float64 `parquet:"I,snappy"`
	FV               float64 `parquet:"F_v,snappy"`
	FI               float64 `parquet:"F_I,snappy"`
	FTotal           float64 `parquet:"F_v_I,snappy"`

	// Segments is the number of polygons at this scale
	Segments int32 `parquet:"segments,snappy"`

	Selected  bool      `parquet:"selected,snappy"`
	CreatedAt time.Time `parquet:"created_at,snappy"`
}

// WriteFitnessParquet writes the fitness table to a Parquet file
func WriteFitnessParquet(path string, table FitnessTable, runID string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	now := time.Now().UTC()
	data := make([]FitnessRecord, len(table.Rows))
	for i, r := range table.Rows {
		data[i] = FitnessRecord{
			RunID:            runID,
			Scale:            int32(r.Scale),
			WeightedVariance: r.WeightedVariance,
			MoransI:          r.MoransI,
			FV:               r.FV,
			FI:               r.FI,
			FTotal:           r.FTotal,
			Segments:         int32(r.Segments),
			Selected:         r.Scale == table.Selected,
			CreatedAt:        now,
		}
	}

	writer := parquet.NewGenericWriter[FitnessRecord](file)
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("writing parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing parquet writer: %w", err)
	}
	return nil
}

// TrainingRow is one training record in Parquet form
type TrainingRow struct {
	RunID      string  `parquet:"run_id,snappy"`
	FID        int64   `parquet:"fid,snappy"`
	Meanbright float64 `parquet:"Meanbright,snappy"`
	Meanndvi   float64 `parquet:"Meanndvi,snappy"`
	Meanslope  float64 `parquet:"Meanslope,snappy"`
	Glcmhomog  float64 `parquet:"glcmhomog,snappy"`
	Glcmmean   float64 `parquet:"glcmmean,snappy"`
	Landslide  int32   `parquet:"landslide,snappy"`

	// Overlap is the largest overlap percentage with a manual polygon
	Overlap float64 `parquet:"overlap,snappy"`
	Area    float64 `parquet:"area,snappy"`
}

// WriteTrainingParquet writes the training table to a Parquet file
func WriteTrainingParquet(path string, records []TrainingRecord, runID string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	data := make([]TrainingRow, len(records))
	for i, r := range records {
		data[i] = TrainingRow{
			RunID:      runID,
			FID:        int64(r.ID),
			Meanbright: r.Predictors[PropMeanBright],
			Meanndvi:   r.Predictors[PropMeanNDVI],
			Meanslope:  r.Predictors[PropMeanSlope],
			Glcmhomog:  r.Predictors[PropGLCMHomog],
			Glcmmean:   r.Predictors[PropGLCMMean],
			Landslide:  int32(r.Landslide),
			Overlap:    r.Overlap,
			Area:       polygonArea(r.Geometry),
		}
	}

	writer := parquet.NewGenericWriter[TrainingRow](file)
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("writing parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing parquet writer: %w", err)
	}
	return nil
}

// PrintFitnessTable renders the fitness table for the console, highlighting
// the selected scale and the rows above the threshold
func PrintFitnessTable(out io.Writer, table FitnessTable) error {
	t := tablewriter.NewWriter(out)
	t.Header([]string{"hr", "v", "I", "F_v", "F_I", "F_v_I"})
	t.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	green := color.New(color.FgGreen, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	var data [][]string
	for _, r := range table.Rows {
		total := fmt.Sprintf("%.4f", r.FTotal)
		scale := strconv.Itoa(r.Scale)
		switch {
		case r.Scale == table.Selected:
			scale = green(scale + " *")
			total = green(total)
		case r.FTotal > table.Threshold:
			total = yellow(total)
		}
		data = append(data, []string{
			scale,
			fmt.Sprintf("%.4f", r.WeightedVariance),
			fmt.Sprintf("%.4f", r.MoransI),
			fmt.Sprintf("%.4f", r.FV),
			fmt.Sprintf("%.4f", r.FI),
			total,
		})
	}
	if err := t.Bulk(data); err != nil {
		return err
	}
	if err := t.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "threshold = %.4f (max F_v_I - stdev %.4f)\n", table.Threshold, table.StdDev)
	return err
}

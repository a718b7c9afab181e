package bench

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Row is the report entry of one benchmark run in one mode.
// Durations are in seconds.
type Row struct {
	Mode        string
	RunID       int
	GenDataset  float64
	Fit         float64
	Transform   float64
	Total       float64
	NumVecs     int
	Dim         int
	NComponents int
	NumGPUs     int
	NumCPUs     int
	DType       string
	Confs       []ConfPair // unique keys, see DedupConfPairs
}

// baseColumns precede the engine conf columns in every report.
var baseColumns = []string{
	"mode", "run_id", "gen_dataset", "fit", "transform", "total",
	"num_vecs", "dim", "n_components", "num_gpus", "num_cpus", "dtype",
}

// NewRow creates the row for run runID of cfg, with timings left at zero.
func NewRow(cfg *Config, runID int) Row {
	return Row{
		Mode:        cfg.Mode(),
		RunID:       runID,
		NumVecs:     cfg.NumVecs,
		Dim:         cfg.Dim,
		NComponents: cfg.NComponents,
		NumGPUs:     cfg.NumGPUs,
		NumCPUs:     cfg.NumCPUs,
		DType:       cfg.DType,
		Confs:       DedupConfPairs(cfg.EngineConfs),
	}
}

// DedupConfPairs keeps each key once, at its first position, with its last value.
func DedupConfPairs(pairs []ConfPair) []ConfPair {
	idx := make(map[string]int, len(pairs))
	var out []ConfPair
	for _, p := range pairs {
		if i, ok := idx[p.Key]; ok {
			out[i].Value = p.Value
			continue
		}
		idx[p.Key] = len(out)
		out = append(out, p)
	}
	return out
}

func (r *Row) confValue(key string) string {
	for _, p := range r.Confs {
		if p.Key == key {
			return p.Value
		}
	}
	return ""
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// Report accumulates rows across runs. Columns are the base columns followed
// by every engine conf key in first-seen order.
type Report struct {
	rows     []Row
	confKeys []string
}

// Append adds rows to the report.
func (r *Report) Append(rows ...Row) {
	for _, row := range rows {
		for _, p := range row.Confs {
			if !slices.Contains(r.confKeys, p.Key) {
				r.confKeys = append(r.confKeys, p.Key)
			}
		}
		r.rows = append(r.rows, row)
	}
}

// Merge appends all rows of other.
func (r *Report) Merge(other *Report) {
	r.Append(other.rows...)
}

// Rows returns a copy of the rows.
func (r *Report) Rows() []Row {
	return slices.Clone(r.rows)
}

// Len returns the number of rows.
func (r *Report) Len() int { return len(r.rows) }

// CountMode returns the number of rows for mode.
func (r *Report) CountMode(mode string) int {
	n := 0
	for _, row := range r.rows {
		if row.Mode == mode {
			n++
		}
	}
	return n
}

// Columns returns the report header.
func (r *Report) Columns() []string {
	return append(slices.Clone(baseColumns), r.confKeys...)
}

func (r *Report) records() [][]string {
	out := make([][]string, 0, len(r.rows))
	for i := range r.rows {
		row := &r.rows[i]
		rec := []string{
			row.Mode,
			strconv.Itoa(row.RunID),
			formatSeconds(row.GenDataset),
			formatSeconds(row.Fit),
			formatSeconds(row.Transform),
			formatSeconds(row.Total),
			strconv.Itoa(row.NumVecs),
			strconv.Itoa(row.Dim),
			strconv.Itoa(row.NComponents),
			strconv.Itoa(row.NumGPUs),
			strconv.Itoa(row.NumCPUs),
			row.DType,
		}
		for _, k := range r.confKeys {
			rec = append(rec, row.confValue(k))
		}
		out = append(out, rec)
	}
	return out
}

// WriteCSV writes the rows, preceded by the header when header is true.
func (r *Report) WriteCSV(w io.Writer, header bool) error {
	cw := csv.NewWriter(w)
	if header {
		if err := cw.Write(r.Columns()); err != nil {
			return fmt.Errorf("writing CSV header: %w", err)
		}
	}
	for i, rec := range r.records() {
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("writing CSV row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// AppendFile appends the rows to the CSV file at path. The header is written
// only when the file is new or empty; an existing file must carry the same
// header.
func (r *Report) AppendFile(path string) error {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("opening report file: %w", err)
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat report file: %w", err)
	}
	writeHeader := info.Size() == 0
	if !writeHeader {
		existing, err := csv.NewReader(file).Read()
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading report header: %w", err)
		}
		if !slices.Equal(existing, r.Columns()) {
			return fmt.Errorf("report file %s has columns %v, expected %v", path, existing, r.Columns())
		}
		if _, err := file.Seek(0, io.SeekEnd); err != nil {
			return fmt.Errorf("seeking report file: %w", err)
		}
		if err := terminateLastLine(file, info.Size()); err != nil {
			return err
		}
	}
	return r.WriteCSV(file, writeHeader)
}

// terminateLastLine appends a newline when the file's last byte is not one,
// so the next record starts on its own line. file must be positioned at end.
func terminateLastLine(file *os.File, size int64) error {
	last := make([]byte, 1)
	if _, err := file.ReadAt(last, size-1); err != nil {
		return fmt.Errorf("reading report file: %w", err)
	}
	if last[0] == '\n' {
		return nil
	}
	if _, err := file.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("terminating report file: %w", err)
	}
	return nil
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// Table renders the report for terminal output.
func (r *Report) Table() string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(r.Columns()...).
		Rows(r.records()...)
	return t.String()
}

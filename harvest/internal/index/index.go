// Package index serializes a run's outputs: the tabular CSV index, the
// portal link snapshot, and the structure metadata consumed by reporting.
package index

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hazyhaar/recolte/linkex"
)

// utf8BOM is prepended to CSV artifacts so spreadsheet applications pick up
// the encoding for the Japanese headers.
const utf8BOM = "\uFEFF"

// CSVHeader matches the layout the downstream reporting sheets expect.
var CSVHeader = []string{
	"年度", "カテゴリ", "ファイル名", "URL",
	"ダウンロード日時", "ファイルサイズ(KB)", "ステータス", "備考",
}

// Row is one CSV line; the driver maps its records into this shape.
type Row struct {
	Year         string
	Category     string
	FileName     string
	URL          string
	DownloadedAt string
	SizeKB       float64
	Status       string
	Note         string
}

// WriteCSV writes the index rows with a UTF-8 BOM and header line.
// An empty row set still produces the file, headers included.
func WriteCSV(path string, rows []Row) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("index: create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(utf8BOM); err != nil {
		return fmt.Errorf("index: bom: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(CSVHeader); err != nil {
		return fmt.Errorf("index: header: %w", err)
	}
	for _, r := range rows {
		record := []string{
			r.Year, r.Category, r.FileName, r.URL, r.DownloadedAt,
			strconv.FormatFloat(r.SizeKB, 'f', 1, 64), r.Status, r.Note,
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("index: row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("index: flush: %w", err)
	}
	return nil
}

// WriteLinks writes the portal link snapshot as a JSON array of
// {text, url} objects.
func WriteLinks(path string, links []linkex.Link) error {
	data, err := json.MarshalIndent(links, "", "  ")
	if err != nil {
		return fmt.Errorf("index: marshal links: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("index: write %s: %w", path, err)
	}
	return nil
}

// Structure is the per-run taxonomy summary.
type Structure struct {
	PortalURL    string                    `json:"portal_url"`
	GeneratedAt  string                    `json:"generated_at"`
	Counts       map[string]map[string]int `json:"counts"` // year -> category label -> records
	TotalRecords int                       `json:"total_records"`
}

// BuildStructure aggregates (year, category) pairs into the metadata shape.
func BuildStructure(portalURL string, generatedAt time.Time, pairs [][2]string) *Structure {
	counts := make(map[string]map[string]int)
	for _, p := range pairs {
		year, category := p[0], p[1]
		if counts[year] == nil {
			counts[year] = make(map[string]int)
		}
		counts[year][category]++
	}
	return &Structure{
		PortalURL:    portalURL,
		GeneratedAt:  generatedAt.Format("2006-01-02 15:04:05"),
		Counts:       counts,
		TotalRecords: len(pairs),
	}
}

// WriteStructure writes the structure metadata JSON.
func WriteStructure(path string, s *Structure) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("index: marshal structure: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("index: write %s: %w", path, err)
	}
	return nil
}

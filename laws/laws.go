// Package laws downloads the statute texts backing the reimbursement rules
// from the e-Gov law API and materializes them as annotated text artifacts
// plus a CSV index.
package laws

import (
	"context"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/hazyhaar/recolte/fetch"
)

// DefaultAPIBase is the e-Gov law data endpoint. A law's XML lives at
// <base>/<law_id>.
const DefaultAPIBase = "https://laws.e-gov.go.jp/api/1/lawdata"

// minTextRunes rejects responses whose extracted text is too short to be a
// real statute (error pages serialized as XML, empty bodies).
const minTextRunes = 100

// Target identifies one law to download.
type Target struct {
	Name     string // official Japanese title
	Kind     string // 法律, 施行令, 施行規則, 省令
	LawID    string // e-Gov law identifier
	FileName string // artifact name under text/
}

// Targets is the fixed set of statutes the reimbursement corpus depends on.
var Targets = []Target{
	{Name: "健康保険法", Kind: "法律", LawID: "211AC0000000070", FileName: "kenko-hoken-hou.txt"},
	{Name: "健康保険法施行令", Kind: "施行令", LawID: "211IO0000000243", FileName: "kenko-hoken-seirei.txt"},
	{Name: "健康保険法施行規則", Kind: "施行規則", LawID: "211M10000008036", FileName: "kenko-hoken-kisoku.txt"},
	{Name: "保険医療機関及び保険医療養担当規則", Kind: "省令", LawID: "332M50000100015", FileName: "ryoutan-kisoku.txt"},
	{Name: "医療法", Kind: "法律", LawID: "323AC0000000205", FileName: "iryo-hou.txt"},
	{Name: "医療法施行令", Kind: "施行令", LawID: "323IO0000000326", FileName: "iryo-seirei.txt"},
	{Name: "医療法施行規則", Kind: "施行規則", LawID: "323M40000100050", FileName: "iryo-kisoku.txt"},
	{Name: "医師法", Kind: "法律", LawID: "323AC0000000201", FileName: "ishi-hou.txt"},
	{Name: "高齢者の医療の確保に関する法律", Kind: "法律", LawID: "357AC0000000080", FileName: "koureisha-iryo-hou.txt"},
	{Name: "介護保険法", Kind: "法律", LawID: "409AC0000000123", FileName: "kaigo-hoken-hou.txt"},
}

// Config configures a law download run.
type Config struct {
	// OutputDir is the artifact root. Default: output/ai-hourei-db.
	OutputDir string `yaml:"output_dir"`
	// APIBase overrides the e-Gov endpoint, for tests.
	APIBase string `yaml:"api_base"`
	// Delay paces requests against the API. Default: 1s.
	Delay time.Duration `yaml:"delay"`
	// Fetch is the HTTP client policy. Timeout defaults to 30s here.
	Fetch fetch.Config `yaml:"fetch"`
}

func (c *Config) defaults() {
	if c.OutputDir == "" {
		c.OutputDir = filepath.Join("output", "ai-hourei-db")
	}
	if c.APIBase == "" {
		c.APIBase = DefaultAPIBase
	}
	if c.Delay <= 0 {
		c.Delay = time.Second
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 30 * time.Second
	}
}

func (c *Config) textDir() string  { return filepath.Join(c.OutputDir, "text") }
func (c *Config) dataDir() string  { return filepath.Join(c.OutputDir, "data") }
func (c *Config) indexCSV() string { return filepath.Join(c.dataDir(), "laws_index.csv") }

// Row is one line of the laws index.
type Row struct {
	Name      string
	Kind      string
	URL       string
	FetchedAt string
	Status    string
	SizeKB    float64
}

// Summary reports a completed run.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Rows      []Row
}

// Service downloads the target statutes sequentially.
type Service struct {
	config  Config
	client  *fetch.Client
	logger  *slog.Logger
	limiter *rate.Limiter
	now     func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Service {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		config:  cfg,
		client:  fetch.New(cfg.Fetch),
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(cfg.Delay), 1),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run downloads every target, writes the text artifacts and the CSV index,
// and returns the per-target outcomes. A single failed target does not abort
// the run; only a context cancellation or an index write failure does.
func (s *Service) Run(ctx context.Context) (*Summary, error) {
	if err := os.MkdirAll(s.config.textDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create text dir: %w", err)
	}
	if err := os.MkdirAll(s.config.dataDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	summary := &Summary{Total: len(Targets)}
	s.limiter.Allow()
	for i, target := range Targets {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		row := s.processTarget(ctx, target)
		summary.Rows = append(summary.Rows, row)
		if row.Status == "成功" {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
		if i < len(Targets)-1 {
			if err := s.limiter.Wait(ctx); err != nil {
				return summary, err
			}
		}
	}

	if err := writeIndex(s.config.indexCSV(), summary.Rows); err != nil {
		return summary, fmt.Errorf("write laws index: %w", err)
	}
	s.logger.Info("laws run finished",
		"succeeded", summary.Succeeded, "failed", summary.Failed, "total", summary.Total)
	return summary, nil
}

func (s *Service) processTarget(ctx context.Context, target Target) Row {
	url := s.config.APIBase + "/" + target.LawID
	row := Row{
		Name:      target.Name,
		Kind:      target.Kind,
		URL:       url,
		FetchedAt: s.now().Format("2006-01-02 15:04:05"),
	}
	s.logger.Info("downloading law", "name", target.Name, "law_id", target.LawID)

	sizeKB, err := s.download(ctx, target, url)
	if err != nil {
		row.Status = "失敗: " + err.Error()
		s.logger.Error("law download failed", "name", target.Name, "error", err)
		return row
	}
	row.Status = "成功"
	row.SizeKB = sizeKB
	s.logger.Info("law saved", "name", target.Name, "file", target.FileName, "size_kb", sizeKB)
	return row
}

func (s *Service) download(ctx context.Context, target Target, url string) (float64, error) {
	resp, err := s.client.Get(ctx, url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}
	text, err := ExtractText(raw)
	if err != nil {
		return 0, err
	}
	if n := utf8.RuneCountInString(text); n < minTextRunes {
		return 0, fmt.Errorf("extracted text too short (%d runes)", n)
	}

	path := filepath.Join(s.config.textDir(), target.FileName)
	content := fmt.Sprintf("# %s\n# 取得日時: %s\n# ソース: e-Gov法令API\n\n%s",
		target.Name, s.now().Format("2006-01-02 15:04:05"), text)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return 0, fmt.Errorf("write artifact: %w", err)
	}
	return math.Round(float64(len(content))/1024*10) / 10, nil
}

// ExtractText pulls the statute text out of an e-Gov law XML document. It
// scopes extraction to the LawFullText element, then LawBody, and only falls
// back to the whole document when neither is present.
func ExtractText(xmlSrc []byte) (string, error) {
	var full, body, all []string
	fullDepth, bodyDepth := 0, 0

	dec := xml.NewDecoder(strings.NewReader(string(xmlSrc)))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse law xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "LawFullText" || fullDepth > 0 {
				fullDepth++
			}
			if t.Name.Local == "LawBody" || bodyDepth > 0 {
				bodyDepth++
			}
		case xml.EndElement:
			if fullDepth > 0 {
				fullDepth--
			}
			if bodyDepth > 0 {
				bodyDepth--
			}
		case xml.CharData:
			line := strings.TrimSpace(string(t))
			if line == "" {
				continue
			}
			all = append(all, line)
			if fullDepth > 0 {
				full = append(full, line)
			}
			if bodyDepth > 0 {
				body = append(body, line)
			}
		}
	}

	switch {
	case len(full) > 0:
		return strings.Join(full, "\n"), nil
	case len(body) > 0:
		return strings.Join(body, "\n"), nil
	default:
		return strings.Join(all, "\n"), nil
	}
}

var indexHeader = []string{"法令名", "種類", "URL", "取得日時", "ステータス", "ファイルサイズ(KB)"}

func writeIndex(path string, rows []Row) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	// BOM first so spreadsheet tools pick up UTF-8.
	if _, err := f.WriteString("\uFEFF"); err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(indexHeader); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{
			row.Name, row.Kind, row.URL, row.FetchedAt, row.Status,
			strconv.FormatFloat(row.SizeKB, 'f', 1, 64),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

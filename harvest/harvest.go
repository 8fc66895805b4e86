// Package harvest implements the portal acquisition pipeline: discover the
// document links of one portal page, classify each by fiscal year and
// category, materialize the in-scope ones as content-hashed local
// artifacts, and emit the index artifacts reporting consumes.
//
// Processing is strictly sequential — one origin, one link at a time, a
// politeness delay in between — so record order always equals link order
// and the dedup ledger needs no locking.
package harvest

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"github.com/hazyhaar/recolte/classify"
	"github.com/hazyhaar/recolte/fetch"
	"github.com/hazyhaar/recolte/harvest/internal/index"
	"github.com/hazyhaar/recolte/harvest/internal/materialize"
	"github.com/hazyhaar/recolte/harvest/internal/runlog"
	"github.com/hazyhaar/recolte/linkex"
)

// Service is the acquisition driver.
type Service struct {
	config  *Config
	client  *fetch.Client
	mat     *materialize.Materializer
	logger  *slog.Logger
	limiter *rate.Limiter
	runlog  *runlog.Store // nil when disabled
	now     func() time.Time
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithRunLog attaches a run-log store. The Service does not own it; the
// caller closes it after Run returns.
func WithRunLog(s *runlog.Store) Option {
	return func(svc *Service) { svc.runlog = s }
}

// OpenRunLog opens (creating if needed) the SQLite run log at path. The
// returned store is passed to WithRunLog and closed by the caller.
func OpenRunLog(path string) (*runlog.Store, error) {
	return runlog.Open(path)
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(svc *Service) { svc.now = now }
}

// New creates a Service.
func New(cfg *Config, logger *slog.Logger, opts ...Option) *Service {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	client := fetch.New(cfg.Fetch)
	svc := &Service{
		config: cfg,
		client: client,
		mat: materialize.New(client, materialize.Config{
			Format:    materialize.Format(cfg.Format),
			VerifyPDF: cfg.VerifyPDF,
			Logger:    logger,
		}),
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(cfg.Delay), 1),
		now:     time.Now,
	}
	for _, o := range opts {
		o(svc)
	}
	return svc
}

// Run executes the whole pipeline. Per-link failures are recorded, not
// fatal; only an unreachable portal page aborts the run.
func (s *Service) Run(ctx context.Context) (*Summary, error) {
	if err := s.config.EnsureDirectories(); err != nil {
		return nil, err
	}

	s.logger.Info("harvest: start", "portal", s.config.PortalURL)

	links, err := s.extractPortalLinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("portal page: %w", err)
	}
	s.logger.Info("harvest: links extracted", "total", len(links))

	if err := index.WriteLinks(s.config.linksJSON(), links); err != nil {
		return nil, err
	}

	relevant := make([]linkex.Link, 0, len(links))
	for _, l := range links {
		if classify.IsRelevant(l.Text, l.URL) {
			relevant = append(relevant, l)
		}
	}
	if s.config.Limit > 0 && len(relevant) > s.config.Limit {
		relevant = relevant[:s.config.Limit]
	}
	s.logger.Info("harvest: relevant links", "count", len(relevant), "of", len(links))

	var runID string
	if s.runlog != nil {
		runID, err = s.runlog.BeginRun(ctx, s.config.PortalURL, s.now())
		if err != nil {
			s.logger.Warn("harvest: run log unavailable", "error", err)
			s.runlog = nil
		}
	}

	summary := &Summary{TotalLinks: len(links), RelevantLinks: len(relevant)}
	led := newLedger()

	// Drain the limiter's initial token so every inter-link wait is a full
	// politeness delay.
	s.limiter.Allow()

	for i, link := range relevant {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		rec := s.processLink(ctx, link, led)
		summary.Records = append(summary.Records, rec)
		switch rec.Status {
		case StatusSuccess:
			summary.Success++
		case StatusSkipped:
			summary.Skipped++
		default:
			summary.Failed++
		}

		s.logger.Info("harvest: link done",
			"n", i+1, "of", len(relevant), "url", link.URL,
			"status", string(rec.Status), "file", rec.FileName, "size_kb", rec.SizeKB)

		s.recordOutcome(ctx, runID, &rec)

		// Politeness pacing against the single origin.
		if err := s.limiter.Wait(ctx); err != nil {
			return summary, err
		}
	}

	if err := s.writeArtifacts(summary); err != nil {
		return summary, err
	}

	if s.runlog != nil {
		if err := s.runlog.FinishRun(ctx, runID, summary.Success, summary.Skipped, summary.Failed); err != nil {
			s.logger.Warn("harvest: finish run log", "error", err)
		}
	}

	s.logger.Info("harvest: done",
		"success", summary.Success, "skipped", summary.Skipped,
		"failed", summary.Failed, "total", len(summary.Records))
	return summary, nil
}

// extractPortalLinks fetches and parses the seed page.
func (s *Service) extractPortalLinks(ctx context.Context) ([]linkex.Link, error) {
	resp, err := s.client.Get(ctx, s.config.PortalURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	decoded, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("charset: %w", err)
	}

	base, err := url.Parse(s.config.PortalURL)
	if err != nil {
		return nil, fmt.Errorf("portal url: %w", err)
	}
	return linkex.Extract(decoded, base)
}

// processLink runs the per-link state machine to a terminal record.
func (s *Service) processLink(ctx context.Context, link linkex.Link, led *ledger) Record {
	now := s.now()
	stamp := now.Format("2006-01-02 15:04:05")
	dateToken := now.Format("20060102")

	descriptor := linkex.Normalize(link.Text)
	if descriptor == "" {
		descriptor = urlBasename(link.URL)
	}

	year := classify.DetectYear(descriptor)
	catSlug, catLabel := classify.DetectCategory(descriptor)

	rec := Record{
		Year:         year,
		Category:     catLabel,
		URL:          link.URL,
		DownloadedAt: stamp,
	}

	outDir := filepath.Join(s.config.textRoot(), year, catSlug)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		rec.Status = StatusFailed
		rec.Note = fmt.Sprintf("%s: %v", KindIO, err)
		return rec
	}

	// Best-effort HEAD probe; failure only degrades content-type knowledge.
	var contentType string
	if head, err := s.client.Head(ctx, link.URL); err == nil {
		contentType = strings.ToLower(head.Header.Get("Content-Type"))
	}

	format := materialize.Format(s.config.Format)
	ext := materialize.ChooseExtension(link.URL, contentType, format)
	base := sanitizeFilename(year + "_" + descriptor + "_" + dateToken)
	rec.FileName = base + ext

	if led.nameSeen(rec.FileName) {
		rec.Status = StatusSkipped
		rec.Note = NoteDuplicateName
		return rec
	}

	res, err := s.mat.Materialize(ctx, link.URL, outDir, base, ext, contentType)
	if err != nil {
		kind := classifyError(err)
		rec.Status = StatusFailed
		rec.Note = fmt.Sprintf("%s: %v", kind, err)
		s.logger.Warn("harvest: materialize failed", "url", link.URL, "kind", string(kind), "error", err)
		return rec
	}
	rec.FileName = res.FileName // may have been reclassified
	rec.Hash = res.Hash

	if led.hashSeen(res.Hash) {
		os.Remove(res.Path)
		rec.Status = StatusSkipped
		rec.Note = NoteDuplicateHash
		return rec
	}

	led.accept(res.FileName, res.Hash)
	rec.Status = StatusSuccess
	rec.SizeKB = res.SizeKB
	rec.Note = truncateRunes(descriptor, 200)
	if res.Note != "" {
		rec.Note += " / " + res.Note
	}
	return rec
}

func (s *Service) recordOutcome(ctx context.Context, runID string, rec *Record) {
	if s.runlog == nil {
		return
	}
	var kind string
	if rec.Status == StatusFailed {
		kind, _, _ = strings.Cut(rec.Note, ":")
	}
	err := s.runlog.RecordOutcome(ctx, runID, &runlog.Outcome{
		URL:         rec.URL,
		Year:        rec.Year,
		Category:    rec.Category,
		FileName:    rec.FileName,
		Status:      string(rec.Status),
		ErrorKind:   kind,
		Note:        rec.Note,
		SizeKB:      rec.SizeKB,
		ContentHash: rec.Hash,
	})
	if err != nil {
		s.logger.Warn("harvest: record outcome", "error", err)
	}
}

func (s *Service) writeArtifacts(summary *Summary) error {
	rows := make([]index.Row, 0, len(summary.Records))
	pairs := make([][2]string, 0, len(summary.Records))
	for _, r := range summary.Records {
		rows = append(rows, index.Row{
			Year: r.Year, Category: r.Category, FileName: r.FileName,
			URL: r.URL, DownloadedAt: r.DownloadedAt, SizeKB: r.SizeKB,
			Status: string(r.Status), Note: r.Note,
		})
		pairs = append(pairs, [2]string{r.Year, r.Category})
	}
	if err := index.WriteCSV(s.config.indexCSV(), rows); err != nil {
		return err
	}
	st := index.BuildStructure(s.config.PortalURL, s.now(), pairs)
	return index.WriteStructure(s.config.structureJSON(), st)
}

// urlBasename returns the last path segment of a URL, for descriptors of
// anchors without display text.
func urlBasename(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return path.Base(u.Path)
}

// filesystem-unsafe characters replaced in artifact names
const unsafeChars = `\/:*?"<>|`

// sanitizeFilename makes a descriptor safe as an artifact base name:
// unsafe characters become underscores, whitespace is stripped, and the
// result is capped at 120 runes with a literal fallback when empty.
func sanitizeFilename(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch {
		case strings.ContainsRune(unsafeChars, r):
			sb.WriteRune('_')
		case r == ' ', r == '\t', r == '\n', r == '\r', r == '　':
			// dropped
		default:
			sb.WriteRune(r)
		}
	}
	out := truncateRunes(sb.String(), 120)
	if out == "" {
		return "no-title"
	}
	return out
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

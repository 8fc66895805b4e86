// Package materialize fetches one URL and writes exactly one local artifact,
// computing a SHA-256 content hash along the way.
//
// Handling mode is decided from the URL's file extension and the declared
// Content-Type: known document extensions stream raw bytes to disk with an
// incremental digest; HTML (or extensionless) URLs are fetched whole,
// reduced to visible text, and digested over the text. A binary download
// that turns out to be HTML (the ".bin" fallback case) is discarded and
// redone in text mode with the extension corrected — an explicit
// reclassify transition, not an exception path.
package materialize

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/hazyhaar/recolte/extract"
	"github.com/hazyhaar/recolte/fetch"
)

// Known document extensions that always stream as raw bytes.
var binaryExtensions = map[string]bool{
	".pdf": true, ".xls": true, ".xlsx": true, ".doc": true,
	".docx": true, ".csv": true, ".txt": true, ".zip": true,
}

// Format selects the artifact form for HTML sources.
type Format string

const (
	FormatText     Format = "text"     // visible text, .txt
	FormatMarkdown Format = "markdown" // structured markdown, .md
)

// Config configures a Materializer.
type Config struct {
	// Format for HTML-derived artifacts. Default: FormatText.
	Format Format
	// VerifyPDF runs a structural check over downloaded .pdf artifacts and
	// reports the page count in the result note.
	VerifyPDF bool
	Logger    *slog.Logger
}

// Materializer downloads URLs into content-hashed local artifacts.
type Materializer struct {
	client *fetch.Client
	config Config
}

// New creates a Materializer on top of the shared client policy.
func New(client *fetch.Client, cfg Config) *Materializer {
	if cfg.Format == "" {
		cfg.Format = FormatText
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Materializer{client: client, config: cfg}
}

// Result describes one materialized artifact.
type Result struct {
	FileName string  // final artifact name (may differ from the candidate on reclassify)
	Path     string  // full path written
	SizeKB   float64 // rounded to one decimal
	Hash     string  // SHA-256 hex: raw bytes in binary mode, extracted text in text mode
	Note     string  // optional annotation (e.g. PDF page count)
}

// ChooseExtension resolves the artifact extension from the URL path suffix
// first, the declared Content-Type second, and ".bin" as the fallback.
// HTML content maps to the text artifact extension.
func ChooseExtension(rawURL, contentType string, format Format) string {
	if u, err := url.Parse(rawURL); err == nil {
		if suffix := strings.ToLower(path.Ext(u.Path)); binaryExtensions[suffix] {
			return suffix
		}
	}
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "pdf"):
		return ".pdf"
	case strings.Contains(ct, "excel"), strings.Contains(ct, "spreadsheet"):
		return ".xlsx"
	case strings.Contains(ct, "word"):
		return ".docx"
	case strings.Contains(ct, "text/plain"):
		return ".txt"
	case strings.Contains(ct, "html"):
		return textExtension(format)
	}
	return ".bin"
}

func textExtension(f Format) string {
	if f == FormatMarkdown {
		return ".md"
	}
	return ".txt"
}

// wantsTextMode reports whether the candidate extension and declared type
// select HTML-to-text handling: the extension already resolved to a text
// artifact AND the source is declared HTML or has no path extension at all.
func wantsTextMode(rawURL, ext, contentType string, format Format) bool {
	if ext != textExtension(format) {
		return false
	}
	if strings.Contains(strings.ToLower(contentType), "html") {
		return true
	}
	u, err := url.Parse(rawURL)
	return err == nil && path.Ext(u.Path) == ""
}

// Materialize fetches rawURL and writes the artifact dir/baseName+ext.
// contentType is the declared type from the HEAD probe ("" when the probe
// failed). On failure, no partial file remains (cleanup is best-effort).
func (m *Materializer) Materialize(ctx context.Context, rawURL, dir, baseName, ext, contentType string) (*Result, error) {
	fileName := baseName + ext
	target := filepath.Join(dir, fileName)

	if wantsTextMode(rawURL, ext, contentType, m.config.Format) {
		return m.textMode(ctx, rawURL, dir, fileName)
	}

	res, detected, err := m.binaryMode(ctx, rawURL, target)
	if err != nil {
		return nil, err
	}

	// Reclassify: the extension was unresolved and the body is HTML after
	// all. Discard the raw download and redo as text.
	if ext == ".bin" && strings.Contains(detected, "html") {
		os.Remove(target)
		return m.textMode(ctx, rawURL, dir, baseName+textExtension(m.config.Format))
	}

	if m.config.VerifyPDF && strings.HasSuffix(fileName, ".pdf") {
		res.Note = verifyPDF(target)
	}
	return res, nil
}

// binaryMode streams the response body to disk, hashing the raw bytes as
// they pass through. Returns the lowercased response Content-Type so the
// caller can reclassify.
func (m *Materializer) binaryMode(ctx context.Context, rawURL, target string) (*Result, string, error) {
	resp, err := m.client.Get(ctx, rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("get: %w", err)
	}
	defer resp.Body.Close()
	detected := strings.ToLower(resp.Header.Get("Content-Type"))

	f, err := os.Create(target)
	if err != nil {
		return nil, "", fmt.Errorf("create %s: %w", target, err)
	}

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(f, hasher), resp.Body)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(target) // best-effort: no partial artifacts
		return nil, "", fmt.Errorf("stream %s: %w", rawURL, err)
	}

	return &Result{
		FileName: filepath.Base(target),
		Path:     target,
		SizeKB:   roundKB(written),
		Hash:     fmt.Sprintf("%x", hasher.Sum(nil)),
	}, detected, nil
}

// textMode fetches the whole document, decodes it per its charset, extracts
// visible text (or markdown), writes UTF-8, and digests the extracted form.
func (m *Materializer) textMode(ctx context.Context, rawURL, dir, fileName string) (*Result, error) {
	resp, err := m.client.Get(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("get: %w", err)
	}
	defer resp.Body.Close()

	// Decode the body to UTF-8 before extraction; government portals still
	// serve Shift_JIS and EUC-JP.
	decoded, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("charset: %w", err)
	}

	var text string
	if m.config.Format == FormatMarkdown {
		raw, err := io.ReadAll(decoded)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		text, err = extract.Markdown(string(raw), rawURL)
		if err != nil {
			return nil, fmt.Errorf("markdown: %w", err)
		}
	} else {
		text, err = extract.Text(decoded)
		if err != nil {
			return nil, fmt.Errorf("text: %w", err)
		}
	}

	target := filepath.Join(dir, fileName)
	if err := os.WriteFile(target, []byte(text), 0o644); err != nil {
		os.Remove(target)
		return nil, fmt.Errorf("write %s: %w", target, err)
	}

	hash := sha256.Sum256([]byte(text))
	return &Result{
		FileName: fileName,
		Path:     target,
		SizeKB:   roundKB(int64(len(text))),
		Hash:     fmt.Sprintf("%x", hash),
	}, nil
}

func roundKB(bytes int64) float64 {
	return math.Round(float64(bytes)/1024*10) / 10
}

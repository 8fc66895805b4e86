package harvest

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/recolte/fetch"
	"github.com/hazyhaar/recolte/harvest/internal/index"
)

// portalMux builds an origin with a portal page and document endpoints.
func portalMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/portal.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><body>
			<a href="/docs/yakka.pdf">令和7年度 薬価改定通知</a>
			<a href="/docs/shisetsu.pdf">施設基準について</a>
			<a href="/docs/copy.pdf">薬価基準の写し</a>
			<a href="/news.html">お知らせ</a>
			<a href="/docs/gone.pdf">疑義解釈資料</a>
			<a href="/kaitei/overview">診療報酬改定の概要</a>
		</body></html>`))
	})
	pdf := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/pdf")
			w.Write([]byte(body))
		}
	}
	mux.HandleFunc("/docs/yakka.pdf", pdf("%PDF yakka content"))
	mux.HandleFunc("/docs/shisetsu.pdf", pdf("%PDF shisetsu content"))
	// Byte-identical to yakka.pdf: must be caught by the hash ledger.
	mux.HandleFunc("/docs/copy.pdf", pdf("%PDF yakka content"))
	mux.HandleFunc("/docs/gone.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/kaitei/overview", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><body><p>改定の概要ページ</p></body></html>`))
	})
	return mux
}

func testService(t *testing.T, portalURL, outDir string, opts ...Option) *Service {
	t.Helper()
	cfg := &Config{
		PortalURL: portalURL,
		OutputDir: outDir,
		Delay:     time.Millisecond,
		Fetch: fetch.Config{
			URLValidator: fetch.AllowAll,
			Backoff:      time.Millisecond,
			Timeout:      5 * time.Second,
		},
	}
	return New(cfg, testLogger(), opts...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRun_EndToEnd(t *testing.T) {
	srv := httptest.NewServer(portalMux())
	defer srv.Close()

	out := t.TempDir()
	s := testService(t, srv.URL+"/portal.html", out)

	summary, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.TotalLinks != 6 {
		t.Errorf("total links: got %d, want 6", summary.TotalLinks)
	}
	// お知らせ is filtered out by the relevance test.
	if summary.RelevantLinks != 5 {
		t.Errorf("relevant links: got %d, want 5", summary.RelevantLinks)
	}
	if summary.Success != 3 {
		t.Errorf("success: got %d, want 3 (%+v)", summary.Success, summary.Records)
	}
	if summary.Skipped != 1 {
		t.Errorf("skipped: got %d, want 1", summary.Skipped)
	}
	if summary.Failed != 1 {
		t.Errorf("failed: got %d, want 1", summary.Failed)
	}

	// Scenario: the duplicate-content link is skipped and its file removed.
	var dup *Record
	for i := range summary.Records {
		if strings.Contains(summary.Records[i].URL, "copy.pdf") {
			dup = &summary.Records[i]
		}
	}
	if dup == nil {
		t.Fatal("copy.pdf record missing")
	}
	if dup.Status != StatusSkipped || dup.Note != NoteDuplicateHash {
		t.Errorf("dup record: %+v", dup)
	}
	if _, err := os.Stat(filepath.Join(out, "text", dup.Year)); err != nil {
		// The year directory exists from the accepted sibling; the dup file
		// itself must be gone.
		t.Logf("year dir: %v", err)
	}

	// The classified taxonomy path exists for the accepted PDF.
	yakka := summary.Records[0]
	if yakka.Year != "2025" || yakka.Category != "薬価改定通知" {
		t.Errorf("classification: %+v", yakka)
	}
	if _, err := os.Stat(filepath.Join(out, "text", "2025", "yakka-kaitei", yakka.FileName)); err != nil {
		t.Errorf("artifact missing: %v", err)
	}

	// Dedup invariant: accepted records share no file name.
	seen := make(map[string]bool)
	for _, r := range summary.Records {
		if r.Status != StatusSuccess {
			continue
		}
		if seen[r.FileName] {
			t.Errorf("duplicate accepted file name %q", r.FileName)
		}
		seen[r.FileName] = true
	}
}

func TestRun_WritesArtifacts(t *testing.T) {
	srv := httptest.NewServer(portalMux())
	defer srv.Close()

	out := t.TempDir()
	s := testService(t, srv.URL+"/portal.html", out)
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	// Links snapshot.
	var links []Link
	data, err := os.ReadFile(filepath.Join(out, "data", "portalpage_links.json"))
	if err != nil {
		t.Fatalf("links snapshot: %v", err)
	}
	if err := json.Unmarshal(data, &links); err != nil {
		t.Fatalf("links snapshot: %v", err)
	}
	if len(links) != 6 {
		t.Errorf("snapshot links: got %d", len(links))
	}

	// CSV index with BOM.
	csvData, err := os.ReadFile(filepath.Join(out, "data", "comprehensive_index.csv"))
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if !strings.HasPrefix(string(csvData), "\uFEFF") {
		t.Error("csv missing BOM")
	}

	// Structure metadata.
	var st index.Structure
	stData, err := os.ReadFile(filepath.Join(out, "metadata", "portalpage_structure.json"))
	if err != nil {
		t.Fatalf("structure: %v", err)
	}
	if err := json.Unmarshal(stData, &st); err != nil {
		t.Fatalf("structure: %v", err)
	}
	if st.TotalRecords != 5 {
		t.Errorf("structure total: got %d", st.TotalRecords)
	}
	if st.Counts["2025"]["薬価改定通知"] == 0 {
		t.Errorf("structure counts: %+v", st.Counts)
	}
}

func TestRun_RunLogPersistsContentHash(t *testing.T) {
	srv := httptest.NewServer(portalMux())
	defer srv.Close()

	out := t.TempDir()
	dbPath := filepath.Join(out, "runlog.db")
	store, err := OpenRunLog(dbPath)
	if err != nil {
		t.Fatalf("open run log: %v", err)
	}

	s := testService(t, srv.URL+"/portal.html", out, WithRunLog(store))
	summary, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close run log: %v", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("reopen run log: %v", err)
	}
	defer db.Close()

	// WHAT: every successful outcome carries the artifact's dedup hash.
	var success, hashed int
	row := db.QueryRow(
		`SELECT COUNT(*), COUNT(CASE WHEN content_hash != '' THEN 1 END)
		FROM outcomes WHERE status = ?`, string(StatusSuccess))
	if err := row.Scan(&success, &hashed); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if success != summary.Success {
		t.Errorf("persisted success rows: got %d, want %d", success, summary.Success)
	}
	if hashed != success {
		t.Errorf("outcomes with content_hash: got %d, want %d", hashed, success)
	}

	// The hash-duplicate skip records the same hash as the accepted copy.
	var dupHash, origHash string
	if err := db.QueryRow(
		`SELECT content_hash FROM outcomes WHERE url LIKE '%copy.pdf'`).Scan(&dupHash); err != nil {
		t.Fatalf("dup hash: %v", err)
	}
	if err := db.QueryRow(
		`SELECT content_hash FROM outcomes WHERE url LIKE '%/yakka.pdf'`).Scan(&origHash); err != nil {
		t.Fatalf("orig hash: %v", err)
	}
	if dupHash == "" || dupHash != origHash {
		t.Errorf("dup hash %q, original hash %q, want equal and non-empty", dupHash, origHash)
	}
}

func TestRun_Limit(t *testing.T) {
	srv := httptest.NewServer(portalMux())
	defer srv.Close()

	out := t.TempDir()
	s := testService(t, srv.URL+"/portal.html", out)
	s.config.Limit = 2

	summary, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(summary.Records) != 2 {
		t.Errorf("records: got %d, want 2", len(summary.Records))
	}
}

func TestRun_PortalUnreachableIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := testService(t, srv.URL+"/portal.html", t.TempDir())
	if _, err := s.Run(context.Background()); err == nil {
		t.Fatal("expected fatal error for unreachable portal")
	}
}

func TestProcessLink_DuplicateNameSkipsIO(t *testing.T) {
	// WHAT: A candidate name already in the ledger is skipped before any
	// network fetch.
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			hits++
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF content"))
	}))
	defer srv.Close()

	out := t.TempDir()
	s := testService(t, srv.URL+"/portal.html", out)
	if err := s.config.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}

	led := newLedger()
	first := s.processLink(context.Background(), Link{Text: "薬価改定通知", URL: srv.URL + "/a.pdf"}, led)
	if first.Status != StatusSuccess {
		t.Fatalf("first: %+v", first)
	}
	getsAfterFirst := hits

	// Same display text and extension produce the same candidate name.
	second := s.processLink(context.Background(), Link{Text: "薬価改定通知", URL: srv.URL + "/b.pdf"}, led)
	if second.Status != StatusSkipped || second.Note != NoteDuplicateName {
		t.Fatalf("second: %+v", second)
	}
	if hits != getsAfterFirst {
		t.Error("duplicate name still performed a GET")
	}
	if second.SizeKB != 0 {
		t.Errorf("size: got %v, want 0", second.SizeKB)
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct{ in, want string }{
		{`2025_薬価/改定:通知_20250101`, "2025_薬価_改定_通知_20250101"},
		{"2025_a b\tc_x", "2025_abc_x"},
		{"", "no-title"},
		{"   ", "no-title"},
	}
	for _, c := range cases {
		if got := sanitizeFilename(c.in); got != c.want {
			t.Errorf("sanitizeFilename(%q): got %q, want %q", c.in, got, c.want)
		}
	}
	long := strings.Repeat("あ", 200)
	if got := sanitizeFilename(long); len([]rune(got)) != 120 {
		t.Errorf("truncation: got %d runes", len([]rune(got)))
	}
}

func TestClassifyError_Kinds(t *testing.T) {
	if kind := classifyError(&fetch.StatusError{Code: 404}); kind != KindHTTPStatus {
		t.Errorf("status: got %s", kind)
	}
	if kind := classifyError(os.ErrNotExist); kind != KindUnknown {
		t.Errorf("bare error: got %s", kind)
	}
	if kind := classifyError(&os.PathError{Op: "open", Path: "/x", Err: os.ErrPermission}); kind != KindIO {
		t.Errorf("io: got %s", kind)
	}
}

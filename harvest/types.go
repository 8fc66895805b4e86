package harvest

import "github.com/hazyhaar/recolte/linkex"

// Status is the terminal outcome of one processed link. The values are the
// strings written to the CSV index, kept compatible with the downstream
// spreadsheet tooling.
type Status string

const (
	StatusSuccess Status = "成功"
	StatusSkipped Status = "スキップ"
	StatusFailed  Status = "失敗"
)

// Notes for skip outcomes.
const (
	NoteDuplicateName = "ファイル名重複"
	NoteDuplicateHash = "ハッシュ重複"
)

// Record is one row of the acquisition index: the terminal state of one
// processed link. Immutable once appended.
type Record struct {
	Year         string
	Category     string // display label, not slug
	FileName     string
	URL          string
	DownloadedAt string // "2006-01-02 15:04:05"
	SizeKB       float64
	Status       Status
	Note         string
	// Hash is the SHA-256 content hash of the materialized artifact. It is
	// the dedup key, persisted to the run log but not a CSV column. Empty
	// for failures and name-duplicate skips, where nothing was downloaded.
	Hash string
}

// Summary aggregates a finished run.
type Summary struct {
	TotalLinks    int // all links on the portal page
	RelevantLinks int // after the relevance filter and limit
	Success       int
	Skipped       int
	Failed        int
	Records       []Record
}

// ledger is the run-scoped dedup state. Owned and mutated exclusively by
// the driver loop, in link-processing order; discarded at the end of a run.
type ledger struct {
	names  map[string]struct{}
	hashes map[string]struct{}
}

func newLedger() *ledger {
	return &ledger{
		names:  make(map[string]struct{}),
		hashes: make(map[string]struct{}),
	}
}

func (l *ledger) nameSeen(name string) bool {
	_, ok := l.names[name]
	return ok
}

func (l *ledger) hashSeen(hash string) bool {
	_, ok := l.hashes[hash]
	return ok
}

func (l *ledger) accept(name, hash string) {
	l.names[name] = struct{}{}
	l.hashes[hash] = struct{}{}
}

// Link re-exports linkex.Link for callers of the service API.
type Link = linkex.Link

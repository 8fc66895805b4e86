package extract

import (
	"strings"
	"testing"
)

func TestText_StripsBoilerplate(t *testing.T) {
	doc := `<html><head>
		<script>var x = 1;</script>
		<style>body { color: red }</style>
	</head><body>
		<noscript>enable javascript</noscript>
		<p>本文テキスト</p>
	</body></html>`
	got, err := Text(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("text: %v", err)
	}
	if got != "本文テキスト" {
		t.Errorf("got %q", got)
	}
}

func TestText_BlockBoundaries(t *testing.T) {
	// WHAT: Inline runs join with spaces, block boundaries become newlines.
	doc := `<body><h1>題名</h1><p>第一 <b>段落</b>  です</p><p>第二段落</p></body>`
	got, err := Text(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("text: %v", err)
	}
	want := "題名\n第一 段落 です\n第二段落"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestText_HiddenStyleSkipped(t *testing.T) {
	doc := `<body><p>visible</p><p style="display: none">hidden</p></body>`
	got, err := Text(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("text: %v", err)
	}
	if strings.Contains(got, "hidden") {
		t.Errorf("hidden text leaked: %q", got)
	}
}

func TestText_Deterministic(t *testing.T) {
	// WHY: Content hashes are computed over this output; it must be stable.
	doc := `<body><div>a</div><div>b  c</div></body>`
	a, _ := Text(strings.NewReader(doc))
	b, _ := Text(strings.NewReader(doc))
	if a != b {
		t.Errorf("non-deterministic: %q vs %q", a, b)
	}
	if a != "a\nb c" {
		t.Errorf("got %q", a)
	}
}

func TestTitle(t *testing.T) {
	doc := `<html><head><title> 令和7年度資料 </title></head><body></body></html>`
	if got := Title(strings.NewReader(doc)); got != "令和7年度資料" {
		t.Errorf("title: got %q", got)
	}
	if got := Title(strings.NewReader("<body>no title</body>")); got != "" {
		t.Errorf("missing title: got %q", got)
	}
}

func TestMarkdown_FallsBackOnEmpty(t *testing.T) {
	// A document the converter renders empty still yields the plain text.
	got, err := Markdown("<body><p>text only</p></body>", "https://example.com")
	if err != nil {
		t.Fatalf("markdown: %v", err)
	}
	if !strings.Contains(got, "text only") {
		t.Errorf("got %q", got)
	}
}

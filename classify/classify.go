// Package classify maps free-text descriptors of regulatory documents to a
// fiscal-year bucket and a category bucket, and decides whether a link is
// in scope at all.
//
// All three checks are total functions over ordered keyword tables: rules
// are evaluated top to bottom, the first any-of substring match wins, and a
// documented default applies when nothing matches. Matching is
// case-insensitive. Keeping the rules as data lets tests enumerate them
// exhaustively.
package classify

import "strings"

// YearRule maps marker substrings to a fiscal-year label.
type YearRule struct {
	Year    string
	Markers []string
}

// CategoryRule maps keyword substrings to a category slug and display label.
type CategoryRule struct {
	Slug     string
	Label    string
	Keywords []string
}

// DefaultYear is returned when no year rule matches.
const DefaultYear = "2026"

// Default category when no rule matches.
const (
	DefaultCategorySlug  = "other"
	DefaultCategoryLabel = "その他関連資料"
)

// YearRules is evaluated in order; earlier rules win on ties.
var YearRules = []YearRule{
	{Year: "2026", Markers: []string{"令和8", "R8", "2026"}},
	{Year: "2025", Markers: []string{"令和7", "R7", "2025", "薬価"}},
	{Year: "2024", Markers: []string{"令和6", "R6", "2024"}},
}

// CategoryRules is evaluated in order. Specific document families come
// before the generic revision-notice rule: 改定通知 is a substring of
// 薬価改定通知 and 材料価格改定通知, so listing it early would shadow them.
var CategoryRules = []CategoryRule{
	{Slug: "kihon-hoshishin", Label: "基本方針", Keywords: []string{"基本方針"}},
	{Slug: "yakka-kaitei", Label: "薬価改定通知", Keywords: []string{"薬価改定", "薬価基準"}},
	{Slug: "zairyo-kakaku-tsuutatsu", Label: "材料価格改定通知", Keywords: []string{"材料価格", "特定保険医療材料"}},
	{Slug: "iryo-kiki-tsuutatsu", Label: "医療機器保険適用通知", Keywords: []string{"医療機器", "保険適用"}},
	{Slug: "dpc-tsuutatsu", Label: "DPC/PDPS関連", Keywords: []string{"DPC", "PDPS"}},
	{Slug: "shisetsu-kijun", Label: "施設基準", Keywords: []string{"施設基準"}},
	{Slug: "gisoku-kaishaku", Label: "疑義解釈", Keywords: []string{"疑義", "Q&A", "問", "答"}},
	{Slug: "kobetsu-kaitei", Label: "個別改定項目説明", Keywords: []string{"個別改定", "改定項目"}},
	{Slug: "iyakuhin-list", Label: "医薬品リスト", Keywords: []string{"医薬品", "収載", "リスト"}},
	{Slug: "tokurei-rinji", Label: "特例措置・臨時改定", Keywords: []string{"特例", "臨時", "経過措置"}},
	{Slug: "chiho-kouseikyoku", Label: "地方厚生局別通知", Keywords: []string{"地方厚生局", "厚生局"}},
	{Slug: "hosei-tsuuchi-i", Label: "改定通知", Keywords: []string{"改定通知", "医科", "歯科", "調剤"}},
}

// RelevantKeywords is the allow-list filter applied before processing.
var RelevantKeywords = []string{
	"診療報酬", "改定", "通知", "施設基準", "疑義", "DPC", "PDPS",
	"薬価", "医療機器", "材料価格", "地方厚生局", "特例", "臨時",
	"調剤", "医科", "歯科", "点数表", "告示", "省令", "答申",
	"諮問", "基本方針", "中医協", "公聴会", "パブリックコメント",
	"個別改定", "ベースアップ", "届出", "報酬",
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// DetectYear returns the fiscal-year label for a descriptor, or DefaultYear.
func DetectYear(descriptor string) string {
	d := strings.ToLower(descriptor)
	for _, rule := range YearRules {
		if containsAny(d, rule.Markers) {
			return rule.Year
		}
	}
	return DefaultYear
}

// DetectCategory returns the category slug and label for a descriptor, or
// the default category.
func DetectCategory(descriptor string) (slug, label string) {
	d := strings.ToLower(descriptor)
	for _, rule := range CategoryRules {
		if containsAny(d, rule.Keywords) {
			return rule.Slug, rule.Label
		}
	}
	return DefaultCategorySlug, DefaultCategoryLabel
}

// IsRelevant reports whether a link's display text or URL mentions any
// in-scope domain keyword.
func IsRelevant(text, url string) bool {
	haystack := strings.ToLower(text + " " + url)
	return containsAny(haystack, RelevantKeywords)
}

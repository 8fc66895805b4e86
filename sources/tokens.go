package sources

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	whitespaceRE = regexp.MustCompile(`\s+`)
	nonWordRE    = regexp.MustCompile(`[^\p{L}\p{N}_-]`)

	eraYearRE     = regexp.MustCompile(`令和\s*([0-9]{1,2})\s*年度`)
	westernYearRE = regexp.MustCompile(`(20[0-9]{2})\s*年度`)
	bareYearRE    = regexp.MustCompile(`20[0-9]{2}`)

	westernDateRE = regexp.MustCompile(`(20[0-9]{2})[\-/年]([0-9]{1,2})[\-/月]([0-9]{1,2})`)
	eraDateRE     = regexp.MustCompile(`令和\s*([0-9]{1,2})年\s*([0-9]{1,2})月\s*([0-9]{1,2})日`)
)

// Slugify reduces a label to a filename-safe token: whitespace becomes
// underscores, anything that is not a letter, digit, underscore or hyphen is
// dropped, and the result is capped at 80 runes.
func Slugify(value string) string {
	value = whitespaceRE.ReplaceAllString(value, "_")
	value = nonWordRE.ReplaceAllString(value, "")
	value = strings.Trim(value, "_")
	runes := []rune(value)
	if len(runes) > 80 {
		runes = runes[:80]
	}
	return string(runes)
}

// ExtractYear finds a fiscal-year token: Reiwa era years ("令和7年度" → R7)
// take precedence over western fiscal years ("2025年度"), then any bare 20xx
// year. Returns "unknownYear" when nothing matches.
func ExtractYear(text string) string {
	if m := eraYearRE.FindStringSubmatch(text); m != nil {
		return "R" + m[1]
	}
	if m := westernYearRE.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := bareYearRE.FindString(text); m != "" {
		return m
	}
	return "unknownYear"
}

// ExtractDate finds a YYYYMMDD token from western (2025-03-05, 2025/3/5,
// 2025年3月5日) or Reiwa era (令和7年3月5日) date forms. Falls back to now.
func ExtractDate(text string, now time.Time) string {
	if m := westernDateRE.FindStringSubmatch(text); m != nil {
		return formatDate(m[1], m[2], m[3])
	}
	if m := eraDateRE.FindStringSubmatch(text); m != nil {
		era, _ := strconv.Atoi(m[1])
		return formatDate(strconv.Itoa(2018+era), m[2], m[3])
	}
	return now.Format("20060102")
}

func formatDate(year, month, day string) string {
	y, _ := strconv.Atoi(year)
	m, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)
	return fmt.Sprintf("%04d%02d%02d", y, m, d)
}

package extract

import (
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
)

var mdConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
		table.NewTablePlugin(),
	),
)

// Markdown converts an HTML document to structured markdown. If conversion
// fails or produces empty output, it falls back to Text over the same
// document.
func Markdown(htmlSrc string, sourceURL string) (string, error) {
	result, err := mdConverter.ConvertString(htmlSrc, converter.WithDomain(sourceURL))
	if err == nil && strings.TrimSpace(result) != "" {
		return strings.TrimSpace(result), nil
	}
	return Text(strings.NewReader(htmlSrc))
}

package tools

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/microcosm-cc/bluemonday"
)

const defaultExtractChars = 20000

func newMarkdownConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
}

// htmlToMarkdown sanitizes html and converts it, resolving links against pageURL.
func htmlToMarkdown(html, pageURL string) (string, error) {
	clean := bluemonday.UGCPolicy().Sanitize(html)
	md, err := newMarkdownConverter().ConvertString(clean, converter.WithDomain(pageURL))
	if err != nil {
		return "", fmt.Errorf("convert to markdown: %w", err)
	}
	return strings.TrimSpace(md), nil
}

func extractTool() Tool {
	return &definition{
		name:        "browser_extract",
		capability:  CapExtract,
		description: "Return the readable content of the page, or of one element, as markdown",
		schema: object(nil, map[string]*jsonschema.Schema{
			"element":  str(elementDesc),
			"ref":      nonEmpty("Element ref from the page snapshot; omit for the whole page"),
			"maxChars": integer("Truncate the markdown after this many characters", 1),
		}),
		refArgs: []string{"ref"},
		plan: func(ctx context.Context, call *Call) (*PendingAction, error) {
			tab, err := call.Tab()
			if err != nil {
				return nil, err
			}
			limit, given, err := call.Args.Int("maxChars")
			if err != nil {
				return nil, err
			}
			if !given {
				limit = defaultExtractChars
			}

			selector, line := "", "html := page.MustHTML()"
			if call.Args.String("ref") != "" {
				target, err := call.Target("ref")
				if err != nil {
					return nil, err
				}
				selector = target.Selector
				line = "html := " + elementExpr(selector) + ".MustHTML()"
			}

			page := tab.Page()
			return &PendingAction{
				Code: []string{
					line,
					"md, _ := converter.ConvertString(bluemonday.UGCPolicy().Sanitize(html))",
				},
				Run: func(ctx context.Context) (*Payload, error) {
					html, err := page.HTML(ctx, selector)
					if err != nil {
						return nil, err
					}
					info, err := page.Info(ctx)
					if err != nil {
						return nil, err
					}
					md, err := htmlToMarkdown(html, info.URL)
					if err != nil {
						return nil, err
					}
					if utf8.RuneCountInString(md) > limit {
						md = string([]rune(md)[:limit]) + fmt.Sprintf("\n\n[truncated at %d characters]", limit)
					}
					if md == "" {
						md = "(no readable content)"
					}
					return &Payload{Text: []string{md}}, nil
				},
			}, nil
		},
	}
}

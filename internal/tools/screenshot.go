package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tabpilot-mcp-server/internal/browser"

	"github.com/google/jsonschema-go/jsonschema"
)

func screenshotTool(outputDir string) Tool {
	return &definition{
		name:        "browser_take_screenshot",
		capability:  CapCore,
		description: "Take a screenshot of the viewport, the full page or one element",
		schema: object(nil, map[string]*jsonschema.Schema{
			"type":     enum("Image format, defaults to png", "png", "jpeg"),
			"filename": str("File name to save the screenshot as when an output directory is configured"),
			"element":  str(elementDesc),
			"ref":      nonEmpty("Element ref from the page snapshot; omit for a page screenshot"),
			"fullPage": boolean("Capture the full scrollable page instead of the viewport"),
		}),
		refArgs: []string{"ref"},
		plan: func(ctx context.Context, call *Call) (*PendingAction, error) {
			tab, err := call.Tab()
			if err != nil {
				return nil, err
			}
			jpeg := call.Args.String("type") == "jpeg"
			opts := browser.ScreenshotOptions{FullPage: call.Args.Bool("fullPage"), JPEG: jpeg}

			what := "viewport"
			line := "page.MustScreenshot()"
			if opts.FullPage {
				what = "full page"
				line = "page.MustScreenshotFullPage()"
			}
			if call.Args.String("ref") != "" {
				if opts.FullPage {
					return nil, invalidArgs("fullPage cannot be combined with an element ref")
				}
				target, err := call.Target("ref")
				if err != nil {
					return nil, err
				}
				opts.Selector = target.Selector
				what = target.Describe()
				line = elementExpr(target.Selector) + ".MustScreenshot()"
			}

			ext, mime := "png", "image/png"
			if jpeg {
				ext, mime = "jpeg", "image/jpeg"
			}
			var path string
			if outputDir != "" {
				name := filepath.Base(call.Args.String("filename"))
				if name == "" || name == "." || name == string(filepath.Separator) {
					name = fmt.Sprintf("page-%s.%s", time.Now().UTC().Format("20060102T150405.000"), ext)
				} else if !strings.Contains(name, ".") {
					name += "." + ext
				}
				path = filepath.Join(outputDir, name)
			}

			page := tab.Page()
			return &PendingAction{
				Code: []string{fmt.Sprintf("// Screenshot %s", what), line},
				Run: func(ctx context.Context) (*Payload, error) {
					data, err := page.Screenshot(ctx, opts)
					if err != nil {
						return nil, err
					}
					text := fmt.Sprintf("Took a screenshot of the %s", what)
					if path != "" {
						if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
							return nil, fmt.Errorf("create output dir: %w", err)
						}
						if err := os.WriteFile(path, data, 0o644); err != nil {
							return nil, fmt.Errorf("save screenshot: %w", err)
						}
						text += " and saved it as " + path
					}
					return &Payload{
						Text:  []string{text},
						Image: &Image{Data: data, MIMEType: mime},
					}, nil
				},
			}, nil
		},
	}
}

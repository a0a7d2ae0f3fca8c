package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"tabpilot-mcp-server/internal/browser"

	"github.com/google/jsonschema-go/jsonschema"
)

func fileUploadTool() Tool {
	return &definition{
		name:        "browser_file_upload",
		capability:  CapFiles,
		description: "Answer the open file chooser with local files; an empty list cancels it",
		schema: object([]string{"paths"}, map[string]*jsonschema.Schema{
			"paths": stringList("Absolute paths of the files to upload"),
		}),
		clears: browser.ModalFileChooser,
		plan: func(ctx context.Context, call *Call) (*PendingAction, error) {
			paths := call.Args.Strings("paths")
			for _, p := range paths {
				if !filepath.IsAbs(p) {
					return nil, invalidArgs("path %q is not absolute", p)
				}
				info, err := os.Stat(p)
				if err != nil {
					return nil, invalidArgs("cannot upload %q: %v", p, err)
				}
				if info.IsDir() {
					return nil, invalidArgs("cannot upload %q: is a directory", p)
				}
			}

			tab, ok := call.Session.ModalTab(browser.ModalFileChooser)
			if !ok {
				var err error
				if tab, err = call.Tab(); err != nil {
					return nil, err
				}
			}
			page := tab.Page()
			return &PendingAction{
				Code: []string{fmt.Sprintf("proto.DOMSetFileInputFiles{Files: []string{%s}}.Call(page)", quoteAll(paths))},
				Run: func(ctx context.Context) (*Payload, error) {
					return nil, page.SetFiles(ctx, paths)
				},
				CaptureSnapshot: true,
				WaitForNetwork:  true,
			}, nil
		},
	}
}

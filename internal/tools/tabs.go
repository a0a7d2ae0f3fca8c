package tools

import (
	"context"
	"fmt"

	"tabpilot-mcp-server/internal/browser"

	"github.com/google/jsonschema-go/jsonschema"
)

func listTabs(ctx context.Context, session *browser.Context) []string {
	tabs := session.Tabs()
	if len(tabs) == 0 {
		return []string{"No open tabs. Use browser_navigate to open one."}
	}
	current := session.CurrentIndex()
	lines := []string{"### Open tabs"}
	for i, tab := range tabs {
		info, err := tab.Info(ctx)
		if err != nil {
			info.URL = tab.URL()
		}
		marker := ""
		if i == current {
			marker = " (current)"
		}
		lines = append(lines, fmt.Sprintf("- %d:%s [%s] (%s)", i, marker, info.Title, info.URL))
	}
	return lines
}

func tabListTool() Tool {
	return &definition{
		name:        "browser_tab_list",
		capability:  CapTabs,
		description: "List the open tabs of this session",
		schema:      object(nil, nil),
		plan: func(ctx context.Context, call *Call) (*PendingAction, error) {
			return &PendingAction{
				Run: func(ctx context.Context) (*Payload, error) {
					return &Payload{Text: listTabs(ctx, call.Session)}, nil
				},
			}, nil
		},
	}
}

func tabNewTool() Tool {
	return &definition{
		name:        "browser_tab_new",
		capability:  CapTabs,
		description: "Open a new tab and make it current, optionally navigating it",
		schema: object(nil, map[string]*jsonschema.Schema{
			"url": str("URL to open in the new tab; blank when omitted"),
		}),
		plan: func(ctx context.Context, call *Call) (*PendingAction, error) {
			url := call.Args.String("url")
			if url != "" {
				url = normalizeURL(url)
			}
			code := []string{`page := browser.MustPage("")`}
			if url != "" {
				code = []string{fmt.Sprintf("page := browser.MustPage(%q).MustWaitLoad()", url)}
			}
			return &PendingAction{
				Code: code,
				Run: func(ctx context.Context) (*Payload, error) {
					tab, err := call.Session.NewTab(ctx)
					if err != nil {
						return nil, err
					}
					if url != "" {
						if err := tab.Page().Navigate(ctx, url); err != nil {
							return nil, err
						}
					}
					return &Payload{Text: listTabs(ctx, call.Session)}, nil
				},
				CaptureSnapshot: true,
			}, nil
		},
	}
}

func tabSelectTool() Tool {
	return &definition{
		name:        "browser_tab_select",
		capability:  CapTabs,
		description: "Make the tab at index current",
		schema: object([]string{"index"}, map[string]*jsonschema.Schema{
			"index": integer("Index of the tab as listed by browser_tab_list", 0),
		}),
		plan: func(ctx context.Context, call *Call) (*PendingAction, error) {
			index, _, err := call.Args.Int("index")
			if err != nil {
				return nil, err
			}
			if n := len(call.Session.Tabs()); index >= n {
				return nil, invalidArgs("tab index %d out of range (%d open)", index, n)
			}
			return &PendingAction{
				Code: []string{fmt.Sprintf("browser.MustPages()[%d].MustActivate()", index)},
				Run: func(ctx context.Context) (*Payload, error) {
					if _, err := call.Session.SelectTab(ctx, index); err != nil {
						return nil, err
					}
					return &Payload{Text: listTabs(ctx, call.Session)}, nil
				},
				CaptureSnapshot: true,
			}, nil
		},
	}
}

func tabCloseTool() Tool {
	return &definition{
		name:        "browser_tab_close",
		capability:  CapTabs,
		description: "Close the tab at index, or the current tab when index is omitted",
		schema: object(nil, map[string]*jsonschema.Schema{
			"index": integer("Index of the tab to close", 0),
		}),
		plan: func(ctx context.Context, call *Call) (*PendingAction, error) {
			index, given, err := call.Args.Int("index")
			if err != nil {
				return nil, err
			}
			n := len(call.Session.Tabs())
			if n == 0 {
				return nil, browser.ErrNoTab
			}
			if !given {
				index = -1
			} else if index >= n {
				return nil, invalidArgs("tab index %d out of range (%d open)", index, n)
			}
			line := "page.MustClose()"
			if given {
				line = fmt.Sprintf("browser.MustPages()[%d].MustClose()", index)
			}
			return &PendingAction{
				Code: []string{line},
				Run: func(ctx context.Context) (*Payload, error) {
					if err := call.Session.CloseTab(ctx, index); err != nil {
						return nil, err
					}
					return &Payload{Text: listTabs(ctx, call.Session)}, nil
				},
				CaptureSnapshot: true,
			}, nil
		},
	}
}

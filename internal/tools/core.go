package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"tabpilot-mcp-server/internal/browser"

	"github.com/google/jsonschema-go/jsonschema"
)

func elementExpr(selector string) string {
	return "page.MustElement(`" + selector + "`)"
}

func quoteAll(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = strconv.Quote(v)
	}
	return strings.Join(quoted, ", ")
}

// normalizeURL adds https:// to bare hosts such as "example.com/path".
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "://") || strings.HasPrefix(raw, "about:") || strings.HasPrefix(raw, "data:") {
		return raw
	}
	if strings.HasPrefix(raw, "localhost") || strings.HasPrefix(raw, "127.0.0.1") {
		return "http://" + raw
	}
	return "https://" + raw
}

func navigateTool() Tool {
	return &definition{
		name:        "browser_navigate",
		capability:  CapCore,
		description: "Navigate the current tab to a URL, opening a tab when none is open",
		schema: object([]string{"url"}, map[string]*jsonschema.Schema{
			"url": nonEmpty("The URL to navigate to"),
		}),
		plan: func(ctx context.Context, call *Call) (*PendingAction, error) {
			url := normalizeURL(call.Args.String("url"))
			return &PendingAction{
				Code: []string{
					fmt.Sprintf("// Navigate to %s", url),
					fmt.Sprintf("page.MustNavigate(%q).MustWaitLoad()", url),
				},
				Run: func(ctx context.Context) (*Payload, error) {
					tab, err := call.Session.EnsureTab(ctx)
					if err != nil {
						return nil, err
					}
					return nil, tab.Page().Navigate(ctx, url)
				},
				CaptureSnapshot: true,
			}, nil
		},
	}
}

func snapshotTool() Tool {
	return &definition{
		name:        "browser_snapshot",
		capability:  CapCore,
		description: "Capture an accessibility snapshot of the current page; its refs address elements in later calls",
		schema:      object(nil, nil),
		plan: func(ctx context.Context, call *Call) (*PendingAction, error) {
			if _, err := call.Tab(); err != nil {
				return nil, err
			}
			return &PendingAction{
				Code:            []string{"// Capture accessibility snapshot"},
				CaptureSnapshot: true,
			}, nil
		},
	}
}

func clickTool() Tool {
	return &definition{
		name:        "browser_click",
		capability:  CapCore,
		description: "Click an element on the page",
		schema: object([]string{"element", "ref"}, elementProps(map[string]*jsonschema.Schema{
			"doubleClick": boolean("Whether to perform a double click instead of a single click"),
			"button":      enum("Button to click, defaults to left", "left", "right", "middle"),
		}, "")),
		refArgs: []string{"ref"},
		plan: func(ctx context.Context, call *Call) (*PendingAction, error) {
			tab, err := call.Tab()
			if err != nil {
				return nil, err
			}
			target, err := call.Target("ref")
			if err != nil {
				return nil, err
			}
			opts := browser.ClickOptions{Button: call.Args.String("button"), Double: call.Args.Bool("doubleClick")}

			verb, expr := "Click", ".MustClick()"
			switch {
			case opts.Double:
				verb, expr = "Double click", ".MustDoubleClick()"
			case opts.Button == "right":
				verb, expr = "Right click", ".Click(proto.InputMouseButtonRight, 1)"
			case opts.Button == "middle":
				verb, expr = "Middle click", ".Click(proto.InputMouseButtonMiddle, 1)"
			}
			page := tab.Page()
			return &PendingAction{
				Code: []string{
					fmt.Sprintf("// %s %s", verb, target.Describe()),
					elementExpr(target.Selector) + expr,
				},
				Run: func(ctx context.Context) (*Payload, error) {
					return nil, page.Click(ctx, target.Selector, opts)
				},
				CaptureSnapshot: true,
				WaitForNetwork:  true,
			}, nil
		},
	}
}

func hoverTool() Tool {
	return &definition{
		name:        "browser_hover",
		capability:  CapCore,
		description: "Hover over an element on the page",
		schema:      object([]string{"element", "ref"}, elementProps(map[string]*jsonschema.Schema{}, "")),
		refArgs:     []string{"ref"},
		plan: func(ctx context.Context, call *Call) (*PendingAction, error) {
			tab, err := call.Tab()
			if err != nil {
				return nil, err
			}
			target, err := call.Target("ref")
			if err != nil {
				return nil, err
			}
			page := tab.Page()
			return &PendingAction{
				Code: []string{
					fmt.Sprintf("// Hover over %s", target.Describe()),
					elementExpr(target.Selector) + ".MustHover()",
				},
				Run: func(ctx context.Context) (*Payload, error) {
					return nil, page.Hover(ctx, target.Selector)
				},
				CaptureSnapshot: true,
			}, nil
		},
	}
}

func typeTool() Tool {
	return &definition{
		name:        "browser_type",
		capability:  CapCore,
		description: "Type text into an editable element, replacing its content",
		schema: object([]string{"element", "ref", "text"}, elementProps(map[string]*jsonschema.Schema{
			"text":   str("Text to type into the element"),
			"submit": boolean("Whether to press Enter after typing"),
		}, "")),
		refArgs: []string{"ref"},
		plan: func(ctx context.Context, call *Call) (*PendingAction, error) {
			tab, err := call.Tab()
			if err != nil {
				return nil, err
			}
			target, err := call.Target("ref")
			if err != nil {
				return nil, err
			}
			text := call.Args.String("text")
			submit := call.Args.Bool("submit")

			code := []string{
				fmt.Sprintf("// Fill %q into %s", text, target.Describe()),
				elementExpr(target.Selector) + fmt.Sprintf(".MustSelectAllText().MustInput(%q)", text),
			}
			if submit {
				code = append(code, "page.Keyboard.MustType(input.Enter)")
			}
			page := tab.Page()
			return &PendingAction{
				Code: code,
				Run: func(ctx context.Context) (*Payload, error) {
					if err := page.Type(ctx, target.Selector, text); err != nil {
						return nil, err
					}
					if submit {
						return nil, page.PressKey(ctx, "Enter")
					}
					return nil, nil
				},
				CaptureSnapshot: true,
				WaitForNetwork:  submit,
			}, nil
		},
	}
}

func selectOptionTool() Tool {
	values := stringList("Option labels to select; more than one for multi-selects")
	one := 1
	values.MinItems = &one
	return &definition{
		name:        "browser_select_option",
		capability:  CapCore,
		description: "Select options in a dropdown or list box",
		schema: object([]string{"element", "ref", "values"}, elementProps(map[string]*jsonschema.Schema{
			"values": values,
		}, "")),
		refArgs: []string{"ref"},
		plan: func(ctx context.Context, call *Call) (*PendingAction, error) {
			tab, err := call.Tab()
			if err != nil {
				return nil, err
			}
			target, err := call.Target("ref")
			if err != nil {
				return nil, err
			}
			vals := call.Args.Strings("values")
			page := tab.Page()
			return &PendingAction{
				Code: []string{
					fmt.Sprintf("// Select %s in %s", quoteAll(vals), target.Describe()),
					elementExpr(target.Selector) + fmt.Sprintf(".MustSelect(%s)", quoteAll(vals)),
				},
				Run: func(ctx context.Context) (*Payload, error) {
					return nil, page.SelectOptions(ctx, target.Selector, vals)
				},
				CaptureSnapshot: true,
				WaitForNetwork:  true,
			}, nil
		},
	}
}

func dragTool() Tool {
	props := elementProps(map[string]*jsonschema.Schema{}, "start")
	props = elementProps(props, "end")
	return &definition{
		name:        "browser_drag",
		capability:  CapCore,
		description: "Drag one element and drop it onto another",
		schema:      object([]string{"startElement", "startRef", "endElement", "endRef"}, props),
		refArgs:     []string{"startRef", "endRef"},
		plan: func(ctx context.Context, call *Call) (*PendingAction, error) {
			tab, err := call.Tab()
			if err != nil {
				return nil, err
			}
			from, err := call.Target("startRef")
			if err != nil {
				return nil, err
			}
			to, err := call.Target("endRef")
			if err != nil {
				return nil, err
			}
			page := tab.Page()
			return &PendingAction{
				Code: []string{
					fmt.Sprintf("// Drag %s onto %s", from.Describe(), to.Describe()),
					"from := " + elementExpr(from.Selector) + ".MustShape().OnePointInside()",
					"to := " + elementExpr(to.Selector) + ".MustShape().OnePointInside()",
					"page.Mouse.MustMoveTo(from.X, from.Y).MustDown(proto.InputMouseButtonLeft)",
					"page.Mouse.MustMoveTo(to.X, to.Y).MustUp(proto.InputMouseButtonLeft)",
				},
				Run: func(ctx context.Context) (*Payload, error) {
					return nil, page.Drag(ctx, from.Selector, to.Selector)
				},
				CaptureSnapshot: true,
				WaitForNetwork:  true,
			}, nil
		},
	}
}

func pressKeyTool() Tool {
	return &definition{
		name:        "browser_press_key",
		capability:  CapCore,
		description: "Press a key: a named key such as Enter, Escape or ArrowLeft, or a single character",
		schema: object([]string{"key"}, map[string]*jsonschema.Schema{
			"key": nonEmpty("Name of the key to press or a character to generate, such as `ArrowLeft` or `a`"),
		}),
		plan: func(ctx context.Context, call *Call) (*PendingAction, error) {
			key := call.Args.String("key")
			if !browser.SupportedKey(key) {
				return nil, invalidArgs("unsupported key %q: use a named key such as Enter, Tab, Escape, ArrowDown, or a single character", key)
			}
			tab, err := call.Tab()
			if err != nil {
				return nil, err
			}
			line := fmt.Sprintf("page.MustInsertText(%q)", key)
			if browser.IsNamedKey(key) {
				line = "page.Keyboard.MustType(input." + key + ")"
			}
			page := tab.Page()
			return &PendingAction{
				Code: []string{fmt.Sprintf("// Press %s", key), line},
				Run: func(ctx context.Context) (*Payload, error) {
					return nil, page.PressKey(ctx, key)
				},
				CaptureSnapshot: true,
				WaitForNetwork:  true,
			}, nil
		},
	}
}

func handleDialogTool() Tool {
	return &definition{
		name:        "browser_handle_dialog",
		capability:  CapCore,
		description: "Accept or dismiss the open dialog",
		schema: object([]string{"accept"}, map[string]*jsonschema.Schema{
			"accept":     boolean("Whether to accept the dialog"),
			"promptText": str("Text to enter in case of a prompt dialog"),
		}),
		clears: browser.ModalDialog,
		plan: func(ctx context.Context, call *Call) (*PendingAction, error) {
			tab, ok := call.Session.ModalTab(browser.ModalDialog)
			if !ok {
				var err error
				if tab, err = call.Tab(); err != nil {
					return nil, err
				}
			}
			accept := call.Args.Bool("accept")
			prompt := call.Args.String("promptText")
			page := tab.Page()
			return &PendingAction{
				Code: []string{
					fmt.Sprintf("proto.PageHandleJavaScriptDialog{Accept: %t, PromptText: %q}.Call(page)", accept, prompt),
				},
				Run: func(ctx context.Context) (*Payload, error) {
					return nil, page.HandleDialog(ctx, accept, prompt)
				},
				CaptureSnapshot: true,
			}, nil
		},
	}
}

func closeTool() Tool {
	return &definition{
		name:        "browser_close",
		capability:  CapCore,
		description: "Close every tab of this session",
		schema:      object(nil, nil),
		plan: func(ctx context.Context, call *Call) (*PendingAction, error) {
			return &PendingAction{
				Code: []string{"browser.MustClose()"},
				Run: func(ctx context.Context) (*Payload, error) {
					if err := call.Session.Close(ctx); err != nil {
						return nil, err
					}
					return &Payload{Text: []string{"Closed all tabs"}}, nil
				},
			}, nil
		},
	}
}

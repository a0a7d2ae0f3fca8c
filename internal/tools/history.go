package tools

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
)

func navigateBackTool() Tool {
	return historyTool("browser_navigate_back", "Go back to the previous page", "page.MustNavigateBack()", false)
}

func navigateForwardTool() Tool {
	return historyTool("browser_navigate_forward", "Go forward to the next page", "page.MustNavigateForward()", true)
}

func historyTool(name, desc, line string, forward bool) Tool {
	return &definition{
		name:        name,
		capability:  CapHistory,
		description: desc,
		schema:      object(nil, map[string]*jsonschema.Schema{}),
		plan: func(ctx context.Context, call *Call) (*PendingAction, error) {
			tab, err := call.Tab()
			if err != nil {
				return nil, err
			}
			page := tab.Page()
			return &PendingAction{
				Code: []string{line},
				Run: func(ctx context.Context) (*Payload, error) {
					if forward {
						return nil, page.NavigateForward(ctx)
					}
					return nil, page.NavigateBack(ctx)
				},
				CaptureSnapshot: true,
				WaitForNetwork:  true,
			}, nil
		},
	}
}

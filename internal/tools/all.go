package tools

import (
	"context"
	"time"

	"tabpilot-mcp-server/internal/mangle"
)

// FactQuerier answers browser_query_facts.
type FactQuerier interface {
	Query(ctx context.Context, query string) ([]mangle.QueryResult, error)
	Evaluate(ctx context.Context, predicate string) ([]mangle.Fact, error)
	AddRule(source string) error
}

// Deps are the collaborators some tools need. Zero values are valid.
type Deps struct {
	// Facts backs browser_query_facts; nil disables the query.
	Facts FactQuerier
	// OutputDir receives screenshot files when non-empty.
	OutputDir string
	// MaxWait caps browser_wait.
	MaxWait time.Duration
}

// All returns every tool the server knows, in catalog order.
func All(deps Deps) []Tool {
	if deps.MaxWait <= 0 {
		deps.MaxWait = 30 * time.Second
	}
	return []Tool{
		navigateTool(),
		snapshotTool(),
		clickTool(),
		hoverTool(),
		typeTool(),
		selectOptionTool(),
		dragTool(),
		pressKeyTool(),
		screenshotTool(deps.OutputDir),
		handleDialogTool(),
		closeTool(),

		navigateBackTool(),
		navigateForwardTool(),

		tabListTool(),
		tabNewTool(),
		tabSelectTool(),
		tabCloseTool(),

		waitTool(deps.MaxWait),

		fileUploadTool(),

		extractTool(),

		consoleMessagesTool(),
		queryFactsTool(deps.Facts),
	}
}

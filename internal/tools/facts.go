package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

func consoleMessagesTool() Tool {
	return &definition{
		name:        "browser_console_messages",
		capability:  CapFacts,
		description: "Return the console messages logged by the current tab",
		schema: object(nil, map[string]*jsonschema.Schema{
			"onlyErrors": boolean("Only return error messages"),
		}),
		plan: func(ctx context.Context, call *Call) (*PendingAction, error) {
			tab, err := call.Tab()
			if err != nil {
				return nil, err
			}
			onlyErrors := call.Args.Bool("onlyErrors")
			return &PendingAction{
				Run: func(ctx context.Context) (*Payload, error) {
					var lines []string
					for _, m := range tab.ConsoleMessages() {
						if onlyErrors && m.Level != "error" {
							continue
						}
						lines = append(lines, fmt.Sprintf("- [%s] %s", m.Level, m.Text))
					}
					if len(lines) == 0 {
						lines = []string{"No console messages"}
					}
					return &Payload{Text: lines}, nil
				},
			}, nil
		},
	}
}

func queryFactsTool(facts FactQuerier) Tool {
	return &definition{
		name:        "browser_query_facts",
		capability:  CapFacts,
		description: "Run a Mangle query over recorded pipeline facts, e.g. tool_call(S, Tool, Outcome, At). or blocked_call(S, Tool). A bare predicate name lists every fact of it. Optional rules are added to the engine for the rest of the process before the query runs.",
		schema: object([]string{"query"}, map[string]*jsonschema.Schema{
			"query": nonEmpty("Mangle query atom ending with a period, or a predicate name"),
			"rules": str("Mangle declarations and rules to add first, e.g. Decl slow(S).\nslow(S) :- interrupted_call(S, _)."),
		}),
		plan: func(ctx context.Context, call *Call) (*PendingAction, error) {
			if facts == nil {
				return nil, precondition("the fact engine is disabled (mangle.enable: false)")
			}
			query := strings.TrimSpace(call.Args.String("query"))
			rules := strings.TrimSpace(call.Args.String("rules"))
			predicate := strings.TrimSuffix(query, ".")
			bare := !strings.Contains(predicate, "(")

			var code []string
			if rules != "" {
				code = append(code, fmt.Sprintf("engine.AddRule(%q)", rules))
			}
			if bare {
				code = append(code, fmt.Sprintf("engine.Evaluate(ctx, %q)", predicate))
			} else {
				code = append(code, fmt.Sprintf("engine.Query(ctx, %q)", query))
			}

			return &PendingAction{
				Code: code,
				Run: func(ctx context.Context) (*Payload, error) {
					if rules != "" {
						if err := facts.AddRule(rules); err != nil {
							return nil, &Error{Kind: KindInvalidArguments, Message: fmt.Sprintf("rules: %v", err), Err: err}
						}
					}
					var (
						rows []interface{}
						err  error
					)
					if bare {
						rows, err = evaluateRows(ctx, facts, predicate)
					} else {
						rows, err = queryRows(ctx, facts, query)
					}
					if err != nil {
						return nil, &Error{Kind: KindInvalidArguments, Message: fmt.Sprintf("query %q: %v", query, err), Err: err}
					}
					if len(rows) == 0 {
						return &Payload{Text: []string{"No matching facts"}}, nil
					}
					lines := make([]string, 0, len(rows))
					for _, r := range rows {
						data, err := json.Marshal(r)
						if err != nil {
							return nil, fmt.Errorf("encode query result: %w", err)
						}
						lines = append(lines, string(data))
					}
					return &Payload{Text: lines}, nil
				},
			}, nil
		},
	}
}

func queryRows(ctx context.Context, facts FactQuerier, query string) ([]interface{}, error) {
	results, err := facts.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	rows := make([]interface{}, 0, len(results))
	for _, r := range results {
		rows = append(rows, r)
	}
	return rows, nil
}

// evaluateRows lists every fact of predicate as its argument list.
func evaluateRows(ctx context.Context, facts FactQuerier, predicate string) ([]interface{}, error) {
	derived, err := facts.Evaluate(ctx, predicate)
	if err != nil {
		return nil, err
	}
	rows := make([]interface{}, 0, len(derived))
	for _, f := range derived {
		rows = append(rows, f.Args)
	}
	return rows, nil
}

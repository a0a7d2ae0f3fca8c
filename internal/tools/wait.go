package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

func waitTool(maxWait time.Duration) Tool {
	return &definition{
		name:        "browser_wait",
		capability:  CapWait,
		description: fmt.Sprintf("Wait for text to appear or disappear, or for a number of seconds (at most %s)", maxWait),
		schema: object(nil, map[string]*jsonschema.Schema{
			"time":     number("Seconds to wait", 0),
			"text":     str("Text to wait for"),
			"textGone": str("Text to wait to disappear"),
		}),
		plan: func(ctx context.Context, call *Call) (*PendingAction, error) {
			secs, hasTime := call.Args.Number("time")
			text := call.Args.String("text")
			gone := call.Args.String("textGone")
			if !hasTime && text == "" && gone == "" {
				return nil, invalidArgs("one of time, text or textGone is required")
			}
			if text != "" && gone != "" {
				return nil, invalidArgs("text and textGone cannot be combined")
			}

			delay := time.Duration(secs * float64(time.Second))
			if delay > maxWait {
				delay = maxWait
			}

			var code []string
			if hasTime {
				code = append(code, fmt.Sprintf("time.Sleep(%s)", delay))
			}
			needle, wantGone := text, false
			if gone != "" {
				needle, wantGone = gone, true
			}
			if needle != "" {
				code = append(code, fmt.Sprintf("page.MustWait(`() => document.body.innerText.includes(%q) === %t`)", needle, !wantGone))
			}

			run := func(ctx context.Context) (*Payload, error) {
				if hasTime {
					timer := time.NewTimer(delay)
					select {
					case <-timer.C:
					case <-ctx.Done():
						timer.Stop()
						return nil, ctx.Err()
					}
				}
				if needle == "" {
					return &Payload{Text: []string{fmt.Sprintf("Waited for %s", delay)}}, nil
				}
				tab, err := call.Tab()
				if err != nil {
					return nil, err
				}
				wctx, cancel := context.WithTimeout(ctx, maxWait)
				defer cancel()
				if err := tab.Page().WaitText(wctx, needle, wantGone); err != nil {
					return nil, fmt.Errorf("wait for text %q: %w", needle, err)
				}
				if wantGone {
					return &Payload{Text: []string{fmt.Sprintf("Text %q is gone", needle)}}, nil
				}
				return &Payload{Text: []string{fmt.Sprintf("Text %q appeared", needle)}}, nil
			}

			if needle != "" {
				if _, err := call.Tab(); err != nil {
					return nil, err
				}
			}
			return &PendingAction{Code: code, Run: run, CaptureSnapshot: needle != "" || call.Session.CurrentIndex() >= 0}, nil
		},
	}
}

package browser

import (
	"context"
	"net/url"
	"os"
	"testing"
	"time"

	"tabpilot-mcp-server/internal/config"

	"github.com/go-rod/rod/lib/launcher"
)

const livePage = `<html><head><title>Live</title></head><body>
<h1>Checkout</h1>
<label for="email">Email</label><input id="email" type="text">
<button onclick="alert('saved')">Save</button>
</body></html>`

// TestLiveRodPage drives a real Chrome. It runs only with TABPILOT_LIVE_TESTS=1
// and a browser binary on the machine.
func TestLiveRodPage(t *testing.T) {
	if os.Getenv("TABPILOT_LIVE_TESTS") != "1" {
		t.Skip("Skipping live browser tests (set TABPILOT_LIVE_TESTS=1)")
	}
	bin, ok := launcher.LookPath()
	if !ok {
		t.Skip("no Chrome binary found")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	headless := true
	isolated := false
	cfg := config.BrowserConfig{
		Launch:   []string{bin},
		Headless: &headless,
		Isolated: &isolated,
	}
	manager := NewSessionManager(cfg, nil)
	defer func() {
		if err := manager.Shutdown(context.Background()); err != nil {
			t.Logf("Shutdown warning: %v", err)
		}
	}()

	c := manager.Context("live")
	tab, err := c.NewTab(ctx)
	if err != nil {
		t.Fatalf("NewTab: %v", err)
	}
	if err := tab.Page().Navigate(ctx, "data:text/html,"+url.PathEscape(livePage)); err != nil {
		t.Fatalf("Navigate: %v", err)
	}

	snap, err := tab.Capture(ctx)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	var saveRef, emailRef string
	for _, n := range snap.Nodes() {
		switch {
		case n.Role == "button" && n.Name == "Save":
			saveRef = n.Ref
		case n.Role == "textbox" && n.Name == "Email":
			emailRef = n.Ref
		}
	}
	if saveRef == "" || emailRef == "" {
		t.Fatalf("expected Save and Email refs in snapshot:\n%s", snap.Text())
	}

	target, err := snap.Resolve(emailRef)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := tab.Page().Type(ctx, target.Selector, "ada@example.com"); err != nil {
		t.Fatalf("Type: %v", err)
	}

	save, err := snap.Resolve(saveRef)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	clicked := make(chan error, 1)
	go func() { clicked <- tab.Page().Click(ctx, save.Selector, ClickOptions{}) }()

	select {
	case <-c.ModalRaised():
	case <-time.After(10 * time.Second):
		t.Fatal("expected a dialog modal state after clicking Save")
	}
	if !c.HasModalState(ModalDialog) {
		t.Fatalf("expected dialog modal state, got %+v", c.ModalStates())
	}
	if err := tab.Page().HandleDialog(ctx, true, ""); err != nil {
		t.Fatalf("HandleDialog: %v", err)
	}
	c.ClearModalState(ModalDialog)

	select {
	case err := <-clicked:
		if err != nil {
			t.Logf("click returned after dialog: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Error("click did not return after the dialog was handled")
	}

	next, err := tab.Capture(ctx)
	if err != nil {
		t.Fatalf("recapture: %v", err)
	}
	if succ := next.Successors(saveRef); len(succ) != 1 {
		t.Errorf("expected Save to carry its lineage, got %v", succ)
	}
}

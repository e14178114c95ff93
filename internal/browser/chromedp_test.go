package browser

import (
	"strings"
	"testing"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
)

func frameNode(id, name string, children ...*page.FrameTree) *page.FrameTree {
	return &page.FrameTree{Frame: &cdp.Frame{ID: cdp.FrameID(id), Name: name}, ChildFrames: children}
}

func TestFlattenFrameTreeIsDepthFirst(t *testing.T) {
	tree := frameNode("main", "",
		frameNode("a", "menu",
			frameNode("b", "", frameNode("c", "deep")),
		),
		frameNode("d", "content"),
	)

	refs := flattenFrameTree(tree)
	var ids []string
	for _, ref := range refs {
		ids = append(ids, string(ref.ID))
	}
	if got := strings.Join(ids, ","); got != "a,b,c,d" {
		t.Fatalf("expected depth-first a,b,c,d, got %s", got)
	}
	if refs[2].Name != "deep" {
		t.Fatalf("expected nested frame name to survive, got %+v", refs[2])
	}
	if len(flattenFrameTree(nil)) != 0 || len(flattenFrameTree(frameNode("main", ""))) != 0 {
		t.Fatal("expected no sub-frames for an empty tree")
	}
}

func TestAttributeValue(t *testing.T) {
	attrs := []string{"class", "editor", "id", "KISAICERIK_ifr", "src"}
	if got := attributeValue(attrs, "id"); got != "KISAICERIK_ifr" {
		t.Fatalf("expected owner id, got %q", got)
	}
	if got := attributeValue(attrs, "src"); got != "" {
		t.Fatalf("dangling attribute name should not match, got %q", got)
	}
}

func TestFindScriptRequiresVisibleIDMatch(t *testing.T) {
	script := findScript(Query{Kind: ByID, Value: `a"b`}, "7")
	for _, want := range []string{"visible(nodes[i])", `style.visibility === "hidden"`, "getClientRects", `CSS.escape("a\"b")`} {
		if !strings.Contains(script, want) {
			t.Fatalf("id script missing %q:\n%s", want, script)
		}
	}
	if strings.Contains(script, "getElementById") {
		t.Fatal("id script should not return the first node regardless of visibility")
	}
	if !strings.Contains(findScript(Query{Kind: ByText, Value: "x"}, "8"), "var d = document;") {
		t.Fatal("scripts should run against the frame's own document")
	}
}

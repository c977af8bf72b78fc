package host

import (
	"reflect"
	"testing"
)

func TestExtractLinks(t *testing.T) {
	meta := map[string]any{
		"links": []any{"task-20250615-1200-alpha", "note-20250615-1200-beta"},
	}
	content := "See [[task-20250615-1200-alpha]] and [[project-20250615-1200-gamma|the project]]."

	got := ExtractLinks(meta, content)
	want := []string{
		"note-20250615-1200-beta",
		"project-20250615-1200-gamma",
		"task-20250615-1200-alpha",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractLinks = %v, want %v", got, want)
	}
}

func TestExtractLinksEmpty(t *testing.T) {
	if got := ExtractLinks(map[string]any{}, "no links here"); len(got) != 0 {
		t.Errorf("ExtractLinks = %v, want empty", got)
	}
}

func TestLinkGraphBacklinkInvariant(t *testing.T) {
	g := NewLinkGraph()
	g.Set("a", []string{"b", "c"})
	g.Set("d", []string{"b"})

	if got := g.Backlinks("b"); !reflect.DeepEqual(got, []string{"a", "d"}) {
		t.Errorf("Backlinks(b) = %v", got)
	}

	// Every forward edge must appear as a backlink.
	for _, src := range []string{"a", "d"} {
		for _, dst := range g.Links(src) {
			found := false
			for _, back := range g.Backlinks(dst) {
				if back == src {
					found = true
				}
			}
			if !found {
				t.Errorf("edge %s → %s has no backlink", src, dst)
			}
		}
	}
}

func TestLinkGraphSetReplacesEdges(t *testing.T) {
	g := NewLinkGraph()
	g.Set("a", []string{"b"})
	g.Set("a", []string{"c"})

	if got := g.Backlinks("b"); len(got) != 0 {
		t.Errorf("stale backlink on b: %v", got)
	}
	if got := g.Links("a"); !reflect.DeepEqual(got, []string{"c"}) {
		t.Errorf("Links(a) = %v", got)
	}
}

func TestLinkGraphRemoveKeepsIncomingEdges(t *testing.T) {
	g := NewLinkGraph()
	g.Set("a", []string{"b"})
	g.Set("b", []string{"a"})

	g.Remove("b")

	if got := g.Links("b"); len(got) != 0 {
		t.Errorf("removed node still has outgoing edges: %v", got)
	}
	// a's file still references b; the dangling backlink stays.
	if got := g.Backlinks("b"); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("Backlinks(b) = %v, want [a]", got)
	}
	if got := g.Backlinks("a"); len(got) != 0 {
		t.Errorf("Backlinks(a) = %v, want none", got)
	}
}

func TestLinkGraphIgnoresSelfLinks(t *testing.T) {
	g := NewLinkGraph()
	g.Set("a", []string{"a", "b"})
	if got := g.Links("a"); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("Links(a) = %v", got)
	}
}

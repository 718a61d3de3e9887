package links

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const childID = "64f0c2a1b3d4e5f601234567"

func countLinks(t *testing.T, content, id string) int {
	t.Helper()
	n := 0
	for _, block := range gjson.Parse(content).Array() {
		if block.Get("type").String() == BlockTypePageLink && block.Get("pageId").String() == id {
			n++
		}
	}
	return n
}

func TestAddLinkToEmptyContent(t *testing.T) {
	out, changed := AddLink("", childID, "Roadmap", "🗺")
	require.True(t, changed)
	require.True(t, IsStructured(out))
	assert.Equal(t, 1, countLinks(t, out, childID))

	first := gjson.Parse(out).Array()[0]
	assert.Equal(t, "Roadmap", first.Get("title").String())
	assert.Equal(t, "🗺", first.Get("icon").String())
	assert.NotEmpty(t, first.Get("id").String())
}

func TestAddLinkIsIdempotent(t *testing.T) {
	out, changed := AddLink("", childID, "Roadmap", "")
	require.True(t, changed)

	again, changed := AddLink(out, childID, "Roadmap", "")
	assert.False(t, changed)
	assert.Equal(t, out, again)
	assert.Equal(t, 1, countLinks(t, again, childID))
}

func TestAddLinkPreservesExistingBlocks(t *testing.T) {
	content := `[{"id":"b1","type":"paragraph","text":"hello"}]`
	out, changed := AddLink(content, childID, "Notes", "")
	require.True(t, changed)

	blocks := gjson.Parse(out).Array()
	require.Len(t, blocks, 2)
	assert.Equal(t, "paragraph", blocks[0].Get("type").String())
	assert.Equal(t, BlockTypePageLink, blocks[1].Get("type").String())
}

func TestRemoveLinkDropsEveryMatch(t *testing.T) {
	content := `[` +
		`{"type":"page-link","pageId":"` + childID + `","title":"A"},` +
		`{"type":"paragraph","text":"keep me"},` +
		`{"type":"page-link","pageId":"` + childID + `","title":"A again"},` +
		`{"type":"page-link","pageId":"ffffffffffffffffffffffff","title":"other"}]`

	out, changed := RemoveLink(content, childID)
	require.True(t, changed)
	assert.Equal(t, 0, countLinks(t, out, childID))
	assert.Equal(t, 1, countLinks(t, out, "ffffffffffffffffffffffff"))
	assert.True(t, gjson.Get(out, `#(type=="paragraph")`).Exists())
}

func TestRemoveLinkNoMatchIsNoop(t *testing.T) {
	content := `[{"type":"paragraph","text":"x"}]`
	out, changed := RemoveLink(content, childID)
	assert.False(t, changed)
	assert.Equal(t, content, out)
}

func TestUpdateLinkPatchesSnapshotsInPlace(t *testing.T) {
	content, _ := AddLink("", childID, "Old title", "old")
	content, _ = AddLink(content, "ffffffffffffffffffffffff", "Other", "")

	out, changed := UpdateLink(content, childID, "New title", "✨")
	require.True(t, changed)

	blocks := gjson.Parse(out).Array()
	assert.Equal(t, "New title", blocks[0].Get("title").String())
	assert.Equal(t, "✨", blocks[0].Get("icon").String())
	assert.Equal(t, "Other", blocks[1].Get("title").String())
}

func TestUpdateLinkClearsIcon(t *testing.T) {
	content, _ := AddLink("", childID, "Titled", "🔥")
	out, changed := UpdateLink(content, childID, "Titled", "")
	require.True(t, changed)
	assert.False(t, gjson.Parse(out).Array()[0].Get("icon").Exists())
}

// Blocks nest (toggles, columns); references buried in a nested
// children array have to be found and patched too.
const nestedContent = `[` +
	`{"id":"t1","type":"toggle","text":"outer","children":[` +
	`{"id":"c1","type":"column","children":[` +
	`{"type":"page-link","pageId":"` + childID + `","title":"Deep","icon":"📌"}]},` +
	`{"type":"paragraph","text":"keep me"}]},` +
	`{"type":"paragraph","text":"top level"}]`

func TestHasLinkFindsNestedBlocks(t *testing.T) {
	assert.True(t, HasLink(nestedContent, childID))
	assert.False(t, HasLink(nestedContent, "ffffffffffffffffffffffff"))
}

func TestRemoveLinkReachesNestedBlocks(t *testing.T) {
	out, changed := RemoveLink(nestedContent, childID)
	require.True(t, changed)
	assert.False(t, HasLink(out, childID))

	// siblings at every level survive
	assert.True(t, gjson.Get(out, `0.children.1.text`).Exists())
	assert.Equal(t, "top level", gjson.Get(out, "1.text").String())
}

func TestUpdateLinkReachesNestedBlocks(t *testing.T) {
	out, changed := UpdateLink(nestedContent, childID, "Renamed", "")
	require.True(t, changed)

	deep := gjson.Get(out, "0.children.0.children.0")
	assert.Equal(t, "Renamed", deep.Get("title").String())
	assert.False(t, deep.Get("icon").Exists())
	assert.Equal(t, "outer", gjson.Get(out, "0.text").String())
}

func TestMarkupFallbackRoundTrip(t *testing.T) {
	content := "# Heading\n\nsome prose"
	require.False(t, IsStructured(content))

	out, changed := AddLink(content, childID, "Child page", "")
	require.True(t, changed)
	assert.Contains(t, out, "[Child page](/doc/"+childID+")")

	// add is idempotent in the markup format too
	again, changed := AddLink(out, childID, "Child page", "")
	assert.False(t, changed)
	assert.Equal(t, out, again)

	renamed, changed := UpdateLink(out, childID, "Renamed", "ignored-icon")
	require.True(t, changed)
	assert.Contains(t, renamed, "[Renamed](/doc/"+childID+")")
	assert.NotContains(t, renamed, "Child page")

	removed, changed := RemoveLink(renamed, childID)
	require.True(t, changed)
	assert.NotContains(t, removed, childID)
	assert.Contains(t, removed, "# Heading")
}

func TestEmptyTitleFallsBackToUntitled(t *testing.T) {
	out, _ := AddLink("", childID, "", "")
	assert.Equal(t, "Untitled", gjson.Parse(out).Array()[0].Get("title").String())
}

func TestReferencedFiles(t *testing.T) {
	content := `[{"type":"image","url":"/files/cover.png"},` +
		`{"type":"file","url":"/files/report-v2.pdf"},` +
		`{"type":"image","url":"/files/cover.png"}]`
	files := ReferencedFiles(content)
	assert.Equal(t, []string{"cover.png", "report-v2.pdf"}, files)

	assert.Empty(t, ReferencedFiles("no attachments here"))
}

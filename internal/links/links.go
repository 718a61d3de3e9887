// Package links maintains the embedded page-link blocks inside a
// node's content body. A page-link is a denormalized reference to a
// child node carrying a snapshot of its title and icon, so rendering a
// parent never needs a join against its children.
//
// Content comes in two shapes: a JSON array of block objects (the
// structured format) or raw markup (legacy fallback, where a reference
// is an inline link of the form "[title](/doc/<id>)"). Every operation
// sniffs the format and applies either a structural walk or a bounded
// pattern substitution.
package links

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// BlockTypePageLink is the block "type" value for embedded references.
const BlockTypePageLink = "page-link"

// IsStructured reports whether content parses as a block array rather
// than raw markup.
func IsStructured(content string) bool {
	if strings.TrimSpace(content) == "" {
		return false
	}
	return gjson.Valid(content) && gjson.Parse(content).IsArray()
}

// isLinkTo reports whether block is a page-link referencing childID.
func isLinkTo(block gjson.Result, childID string) bool {
	return block.Get("type").String() == BlockTypePageLink && block.Get("pageId").String() == childID
}

// hasLinkIn walks a block array, descending into each block's nested
// "children" array. Blocks nest arbitrarily (toggles, columns), so a
// reference can live at any depth.
func hasLinkIn(arr gjson.Result, childID string) bool {
	for _, block := range arr.Array() {
		if isLinkTo(block, childID) {
			return true
		}
		if children := block.Get("children"); children.IsArray() && hasLinkIn(children, childID) {
			return true
		}
	}
	return false
}

// HasLink reports whether content already references childID, at any
// nesting depth.
func HasLink(content, childID string) bool {
	if IsStructured(content) {
		return hasLinkIn(gjson.Parse(content), childID)
	}
	return strings.Contains(content, "(/doc/"+childID+")")
}

// AddLink appends a page-link block referencing childID, unless one
// already exists. The second return reports whether content changed.
func AddLink(content, childID, title, icon string) (string, bool) {
	if HasLink(content, childID) {
		return content, false
	}
	if title == "" {
		title = "Untitled"
	}

	if content == "" || IsStructured(content) {
		base := content
		if strings.TrimSpace(base) == "" {
			base = "[]"
		}
		block := map[string]interface{}{
			"id":     uuid.New().String(),
			"type":   BlockTypePageLink,
			"pageId": childID,
			"title":  title,
		}
		if icon != "" {
			block["icon"] = icon
		}
		out, err := sjson.Set(base, "-1", block)
		if err != nil {
			return content, false
		}
		return out, true
	}

	// Raw markup: append an inline reference on its own line.
	sep := "\n\n"
	if strings.HasSuffix(content, "\n") {
		sep = "\n"
	}
	return content + sep + fmt.Sprintf("[%s](/doc/%s)", title, childID), true
}

// RemoveLink deletes every reference to childID from content.
func RemoveLink(content, childID string) (string, bool) {
	if !HasLink(content, childID) {
		return content, false
	}

	if IsStructured(content) {
		out, changed := removeFrom(gjson.Parse(content), childID)
		if !changed {
			return content, false
		}
		return out, true
	}

	re := regexp.MustCompile(`\[[^\]]*\]\(/doc/` + regexp.QuoteMeta(childID) + `\)\n?`)
	out := re.ReplaceAllString(content, "")
	return out, out != content
}

// removeFrom rebuilds a block array without any page-link to childID,
// recursing into nested children.
func removeFrom(arr gjson.Result, childID string) (string, bool) {
	out := "[]"
	changed := false
	for _, block := range arr.Array() {
		if isLinkTo(block, childID) {
			changed = true
			continue
		}
		raw := block.Raw
		if children := block.Get("children"); children.IsArray() {
			if rebuilt, ok := removeFrom(children, childID); ok {
				raw, _ = sjson.SetRaw(raw, "children", rebuilt)
				changed = true
			}
		}
		out, _ = sjson.SetRaw(out, "-1", raw)
	}
	return out, changed
}

// UpdateLink patches the snapshotted title and icon of every reference
// to childID in place.
func UpdateLink(content, childID, title, icon string) (string, bool) {
	if !HasLink(content, childID) {
		return content, false
	}
	if title == "" {
		title = "Untitled"
	}

	if IsStructured(content) {
		out, changed := updateIn(gjson.Parse(content), childID, title, icon)
		if !changed {
			return content, false
		}
		return out, true
	}

	// The markup fallback has nowhere to carry an icon; only the
	// visible title is patched.
	re := regexp.MustCompile(`\[[^\]]*\]\(/doc/` + regexp.QuoteMeta(childID) + `\)`)
	out := re.ReplaceAllString(content, fmt.Sprintf("[%s](/doc/%s)", title, childID))
	return out, out != content
}

// updateIn rebuilds a block array with every page-link to childID
// carrying the new title and icon, recursing into nested children.
func updateIn(arr gjson.Result, childID, title, icon string) (string, bool) {
	out := "[]"
	changed := false
	for _, block := range arr.Array() {
		raw := block.Raw
		if isLinkTo(block, childID) {
			raw, _ = sjson.Set(raw, "title", title)
			if icon != "" {
				raw, _ = sjson.Set(raw, "icon", icon)
			} else {
				raw, _ = sjson.Delete(raw, "icon")
			}
			changed = true
		} else if children := block.Get("children"); children.IsArray() {
			if rebuilt, ok := updateIn(children, childID, title, icon); ok {
				raw, _ = sjson.SetRaw(raw, "children", rebuilt)
				changed = true
			}
		}
		out, _ = sjson.SetRaw(out, "-1", raw)
	}
	return out, changed
}

// ReferencedFiles extracts upload paths referenced from content, used
// to clean up stored attachments when a node is hard-deleted. Both
// formats may reference files as "/files/<name>".
var fileRefPattern = regexp.MustCompile(`/files/([A-Za-z0-9._-]+)`)

func ReferencedFiles(content string) []string {
	matches := fileRefPattern.FindAllStringSubmatch(content, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

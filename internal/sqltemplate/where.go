package sqltemplate

import "regexp"

// wherePattern matches "{% where %}...{% endwhere %}" blocks, mirroring the
// original's WhereExtension (a Jinja2 custom tag). text/template has no tag
// extension point, so the block is pre-processed into a plain {{if}}-free
// fragment: its body is rendered first, and any leading "AND"/"OR" left
// over after conditional branches is stripped, then the whole thing is
// wrapped in a literal "WHERE (...)" clause — unless the body rendered
// empty, in which case the entire clause is dropped.
var wherePattern = regexp.MustCompile(`(?s)\{%\s*where\s*%\}(.*?)\{%\s*endwhere\s*%\}`)

var leadingConjunction = regexp.MustCompile(`(?i)^\s*(AND|OR)\s+`)

// stripWhereConjunction removes a leading AND/OR left behind when the first
// conditional clause inside a {% where %} block didn't render (e.g. its
// guarding {{if}} was false), the same cleanup filters.py's where extension
// performs before emitting the final WHERE clause.
func stripWhereConjunction(body string) string {
	return leadingConjunction.ReplaceAllString(body, "")
}

// extractWhereBlocks replaces each "{% where %}...{% endwhere %}" in body
// with a numbered placeholder and returns the block bodies in order.
// Because text/template renders in one pass with no access to intermediate
// output per-block, each where-block is compiled as its own nested
// template and executed separately by Render (see template.go), with this
// function only responsible for locating and extracting the blocks.
func extractWhereBlocks(body string) (rewritten string, blocks []string) {
	idx := 0
	rewritten = wherePattern.ReplaceAllStringFunc(body, func(m string) string {
		sub := wherePattern.FindStringSubmatch(m)
		blocks = append(blocks, sub[1])
		placeholder := placeholderFor(idx)
		idx++
		return placeholder
	})
	return rewritten, blocks
}

func placeholderFor(i int) string {
	return "\x00WHERE_BLOCK_" + itoa(i) + "\x00"
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := []byte{}
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	return string(digits)
}

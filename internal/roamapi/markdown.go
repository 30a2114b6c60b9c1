package roamapi

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	pageRefRe = regexp.MustCompile(`\[\[([^\]]+)\]\]`)
	tagRe     = regexp.MustCompile(`(?:^|\s)#([A-Za-z0-9_][A-Za-z0-9_/-]*)`)
)

// OrdinalSuffix returns the English ordinal suffix for a day of the month.
// 11-13 always take "th" regardless of the trailing digit.
func OrdinalSuffix(day int) string {
	if day%100 >= 11 && day%100 <= 13 {
		return "th"
	}
	switch day % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	default:
		return "th"
	}
}

// CollectLinkedPages adds every page name referenced in content to the set:
// [[Page Name]] references and #tag markers both count.
func CollectLinkedPages(content string, pages map[string]struct{}) {
	for _, m := range pageRefRe.FindAllStringSubmatch(content, -1) {
		pages[m[1]] = struct{}{}
	}
	for _, m := range tagRe.FindAllStringSubmatch(content, -1) {
		pages[m[1]] = struct{}{}
	}
}

// ProcessBlocks renders a block tree as indented bullet markdown, two spaces
// per depth level, depth-first in ordinal order. Blocks with empty content
// are skipped entirely: no empty bullet is emitted and their subtrees are not
// descended into.
//
// When extractLinks is set, page references and tags found in each rendered
// block are added to linkedPages; passing a nil accumulator in that case is
// an error.
func ProcessBlocks(blocks []Block, depth int, extractLinks bool, linkedPages map[string]struct{}) (string, error) {
	if extractLinks && linkedPages == nil {
		return "", fmt.Errorf("linkedPages accumulator is required when extractLinks is set")
	}

	var sb strings.Builder
	indent := strings.Repeat("  ", depth)

	for _, block := range blocks {
		if block.String == "" {
			continue
		}
		if extractLinks {
			CollectLinkedPages(block.String, linkedPages)
		}
		sb.WriteString(indent)
		sb.WriteString("- ")
		sb.WriteString(block.String)
		sb.WriteString("\n")

		if len(block.Children) > 0 {
			child, err := ProcessBlocks(block.Children, depth+1, extractLinks, linkedPages)
			if err != nil {
				return "", err
			}
			sb.WriteString(child)
		}
	}
	return sb.String(), nil
}

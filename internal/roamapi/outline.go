package roamapi

import (
	"context"
	"math/rand/v2"
	"strings"
)

// OutlineNode is one bullet in a parsed markdown outline.
type OutlineNode struct {
	Content  string
	Children []*OutlineNode
}

const uidCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_"

// generateUID produces a 9-character identifier in Roam's UID alphabet.
func generateUID() string {
	b := make([]byte, 9)
	for i := range b {
		b[i] = uidCharset[rand.IntN(len(uidCharset))]
	}
	return string(b)
}

// ParseOutline parses indented bullet markdown into a node tree. Two spaces
// of indentation make one nesting level; leading bullet markers are stripped.
func ParseOutline(markdown string) []*OutlineNode {
	var roots []*OutlineNode
	type entry struct {
		node  *OutlineNode
		level int
	}
	var stack []entry

	for _, line := range strings.Split(markdown, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}

		indent := len(line) - len(strings.TrimLeft(line, " "))
		level := indent / 2

		content := strings.TrimSpace(line)
		for _, marker := range []string{"- ", "* ", "+ "} {
			if strings.HasPrefix(content, marker) {
				content = content[len(marker):]
				break
			}
		}

		node := &OutlineNode{Content: content}
		for len(stack) > 0 && stack[len(stack)-1].level >= level {
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 {
			roots = append(roots, node)
		} else {
			parent := stack[len(stack)-1].node
			parent.Children = append(parent.Children, node)
		}
		stack = append(stack, entry{node: node, level: level})
	}
	return roots
}

// ConvertToRoamMarkdown rewrites standard markdown task syntax into Roam's
// TODO/DONE macros.
func ConvertToRoamMarkdown(text string) string {
	text = strings.ReplaceAll(text, "- [ ]", "- {{[[TODO]]}}")
	text = strings.ReplaceAll(text, "- [x]", "- {{[[DONE]]}}")
	return text
}

// outlineActions flattens a node tree into create-block batch actions. Each
// node gets a pre-generated UID so children can reference their parent within
// the same batch.
func outlineActions(nodes []*OutlineNode, parentUID string, order any) []map[string]any {
	var actions []map[string]any
	for _, node := range nodes {
		uid := generateUID()
		actions = append(actions, map[string]any{
			"action": "create-block",
			"location": map[string]any{
				"parent-uid": parentUID,
				"order":      order,
			},
			"block": map[string]any{
				"uid":    uid,
				"string": node.Content,
			},
		})
		if len(node.Children) > 0 {
			actions = append(actions, outlineActions(node.Children, uid, "last")...)
		}
	}
	return actions
}

// CreateOutline parses bullet markdown and creates the whole tree under
// parentUID with a single batch write. Returns the number of blocks created.
func (c *Client) CreateOutline(ctx context.Context, parentUID, markdown string) (int, error) {
	nodes := ParseOutline(ConvertToRoamMarkdown(markdown))
	if len(nodes) == 0 {
		return 0, nil
	}

	actions := outlineActions(nodes, parentUID, "last")
	body := map[string]any{
		"action":  "batch-actions",
		"actions": actions,
	}
	if _, err := c.call(ctx, "/api/graph/"+c.graph+"/write", body); err != nil {
		return 0, err
	}
	return len(actions), nil
}

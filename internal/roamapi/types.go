package roamapi

import "sort"

// Block is a node in the Roam outliner graph as returned by the pull API.
// A Page is a Block whose Title is set.
type Block struct {
	UID      string  `json:":block/uid"`
	String   string  `json:":block/string"`
	Order    int     `json:":block/order"`
	Title    string  `json:":node/title"`
	EditTime int64   `json:":edit/time"`
	Children []Block `json:":block/children"`
}

// normalize sorts children by their ordinal, recursively. The pull API does
// not guarantee child order in the JSON encoding.
func (b *Block) normalize() {
	sort.SliceStable(b.Children, func(i, j int) bool {
		return b.Children[i].Order < b.Children[j].Order
	})
	for i := range b.Children {
		b.Children[i].normalize()
	}
}

// SyncBlock is the flat block row returned by the bulk sync queries.
type SyncBlock struct {
	UID       string
	Content   string
	EditTime  int64
	PageUID   string
	PageTitle string
}

// Reference is a block that mentions a page via [[title]].
type Reference struct {
	UID     string
	Content string
}

// BlockHit is a block matched by a text search, with its page context.
type BlockHit struct {
	UID       string
	Content   string
	PageTitle string
}

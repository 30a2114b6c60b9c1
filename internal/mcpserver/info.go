package mcpserver

// RoamInfo is served as the roam://info resource.
const RoamInfo = `# Roam Research

Roam Research is a note-taking application built around networked thought.
This server exposes one Roam graph through tool calls and keeps a local
semantic index of its blocks.

Key concepts:

- **Block**: every bullet is a block with a stable UID, ordered among its
  siblings and nested under a parent.
- **Page**: a titled root block; pages are created implicitly by linking.
- **Daily notes**: one page per calendar day, titled with the graph's date
  format (detected automatically by this server).
- **References**: ` + "`[[Page Name]]`" + ` links and ` + "`#tags`" + ` connect blocks to pages
  in both directions.

Tools:

- ` + "`get_page_markdown`" + ` renders a page's block tree as indented markdown.
- ` + "`search_blocks_by_text`" + ` finds blocks by exact text fragment.
- ` + "`create_page`" + `, ` + "`create_block`" + `, and ` + "`create_outline`" + ` write into the graph.
- ` + "`get_daily_notes_context`" + ` summarizes recent daily notes with backlinks.
- ` + "`sync_index`" + ` refreshes the local semantic index; ` + "`semantic_search`" + `
  queries it with optional context, children, sibling, and backlink
  enrichments.
`

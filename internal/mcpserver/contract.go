package mcpserver

// ObservationFormat describes how observations are recorded, both through
// the record_observation tool and as snapshot files in the source directory.
const ObservationFormat = `# linkgraph Observation Format

An observation is one sighting of a web page on a given day: its URL, the
names and labels it carried, and the pages it linked to. Repeated
observations of the same URL are merged into a single entity.

## Fields

| Field  | Required | Meaning |
|--------|----------|---------|
| url    | yes      | Absolute http(s) URL of the page. The fragment is ignored. |
| date   | yes      | Day of the sighting, ` + "`" + `YYYY-MM-DD` + "`" + `. |
| names  | no       | Human-readable names (titles) the page was seen under. |
| labels | no       | Free-form classification labels. |
| links  | no       | Outgoing links. Relative links resolve against url. |

## Merge rules

1. The earliest date ever observed becomes the entity's created_at. Every
   other observed date is kept in updated_at.
2. Names and labels accumulate; nothing is ever removed.
3. Entities and links are never deleted. Linking to the same target twice
   records one edge.
4. Link targets that were never observed themselves become entities dated
   on the linking observation.

## Snapshot files

Snapshot files use the same fields as YAML frontmatter. Inline Markdown
links, autolinks and ` + "`" + `#tags` + "`" + ` in the body are picked up as links and labels.

` + "```" + `markdown
---
url: https://example.com/articles/go-maps
date: 2024-05-02
title: Go maps in action
labels: [go, tutorial]
links:
  - https://go.dev/blog/maps
---
# Go maps in action

See the [language reference](https://go.dev/ref/spec#Map_types) and <https://example.com/>. #golang
` + "```" + `
`

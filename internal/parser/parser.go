// Package parser turns Markdown page snapshots into observations.
//
// A snapshot is a Markdown file whose YAML frontmatter names the page URL and
// the observation date:
//
//	---
//	url: https://example.com/a
//	date: 2020-01-10
//	title: Alpha
//	labels: [news]
//	---
//	Body with [links](https://example.com/b) and #tags.
package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/linkgraph/internal/apperr"
	"github.com/starford/linkgraph/internal/collection"
	"github.com/starford/linkgraph/internal/models"
)

var (
	inlineLinkRe = regexp.MustCompile(`\]\(\s*<?([^()\s<>]+)>?(?:\s+"[^"]*")?\s*\)`)
	autoLinkRe   = regexp.MustCompile(`<(https?://[^>\s]+)>`)
	tagRe        = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
)

type frontmatter struct {
	URL    string    `yaml:"url"`
	Date   yaml.Node `yaml:"date"`
	Title  string    `yaml:"title"`
	Names  []string  `yaml:"names"`
	Labels []string  `yaml:"labels"`
	Links  []string  `yaml:"links"`
}

// Result holds the output of parsing a snapshot file.
type Result struct {
	Observation models.Observation
	Body        string
}

// Parse extracts an observation from raw Markdown bytes. Errors wrap
// apperr.ErrInvalidObservation.
func Parse(data []byte) (*Result, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}

	page, err := url.Parse(strings.TrimSpace(fm.URL))
	if err != nil || fm.URL == "" {
		return nil, fmt.Errorf("%w: frontmatter url %q", apperr.ErrInvalidObservation, fm.URL)
	}
	page.Fragment = ""

	date, err := collection.ParseDate(strings.TrimSpace(fm.Date.Value))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrInvalidObservation, err)
	}

	obs := models.Observation{
		URL:    page,
		Date:   date,
		Names:  extractNames(fm, body),
		Labels: extractLabels(fm, body),
		Links:  extractLinks(page, fm.Links, body),
	}
	if err := obs.Validate(); err != nil {
		return nil, err
	}
	return &Result{Observation: obs, Body: body}, nil
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the Markdown body. Snapshots without frontmatter are rejected since
// the page URL lives there.
func splitFrontmatter(data []byte) (*frontmatter, string, error) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, "", fmt.Errorf("%w: missing frontmatter", apperr.ErrInvalidObservation)
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, "", fmt.Errorf("%w: unterminated frontmatter", apperr.ErrInvalidObservation)
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm frontmatter
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		return nil, "", fmt.Errorf("%w: frontmatter: %w", apperr.ErrInvalidObservation, err)
	}
	return &fm, body, nil
}

// extractNames returns the title (or first H1 heading) followed by any
// frontmatter names, deduplicated.
func extractNames(fm *frontmatter, body string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	if fm.Title != "" {
		add(fm.Title)
	} else {
		add(firstHeading(body))
	}
	for _, n := range fm.Names {
		add(n)
	}
	return out
}

// extractLabels collects frontmatter labels and inline #tags.
func extractLabels(fm *frontmatter, body string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, l := range fm.Labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, dup := seen[l]; !dup {
			seen[l] = struct{}{}
			out = append(out, l)
		}
	}
	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		if _, dup := seen[m[1]]; !dup {
			seen[m[1]] = struct{}{}
			out = append(out, m[1])
		}
	}
	return out
}

// extractLinks resolves frontmatter links, inline Markdown links and
// autolinks against the page URL. Only http(s) targets are kept; fragments
// are dropped and duplicates removed in first-seen order.
func extractLinks(page *url.URL, declared []string, body string) []*url.URL {
	var raw []string
	raw = append(raw, declared...)
	for _, m := range inlineLinkRe.FindAllStringSubmatch(body, -1) {
		raw = append(raw, m[1])
	}
	for _, m := range autoLinkRe.FindAllStringSubmatch(body, -1) {
		raw = append(raw, m[1])
	}

	seen := make(map[string]struct{}, len(raw))
	var out []*url.URL
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" || strings.HasPrefix(r, "#") {
			continue
		}
		ref, err := url.Parse(r)
		if err != nil {
			continue
		}
		target := page.ResolveReference(ref)
		target.Fragment = ""
		if target.Scheme != "http" && target.Scheme != "https" {
			continue
		}
		key := target.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, target)
	}
	return out
}

func firstHeading(body string) string {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}

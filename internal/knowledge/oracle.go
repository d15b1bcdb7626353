// ABOUTME: Knowledge base ingestion and retrieval for response grounding
// ABOUTME: Markdown files are split into facts by heading; search is token-overlap scored

package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/relaywise/concierge/internal/store"
)

// Context is what the pipeline hands to the response generator: the facts
// most relevant to the batch plus the complete catalog. The catalog always
// travels whole so the generator never invents inventory.
type Context struct {
	Facts   []*store.Fact
	Catalog []*store.CatalogItem
}

// Oracle answers "what do we know that is relevant to this message".
type Oracle struct {
	store       store.Store
	searchLimit int
	logger      *slog.Logger
}

// NewOracle creates a knowledge oracle.
func NewOracle(st store.Store, searchLimit int, logger *slog.Logger) *Oracle {
	if logger == nil {
		logger = slog.Default()
	}
	if searchLimit <= 0 {
		searchLimit = 5
	}
	return &Oracle{
		store:       st,
		searchLimit: searchLimit,
		logger:      logger.With("component", "knowledge"),
	}
}

// IngestDir parses every markdown file in dir into facts. Each heading
// opens a new fact whose topic is the heading text and whose body is
// everything until the next heading. Existing facts from the same source
// are replaced on re-ingestion by ID stability: fact IDs are derived from
// source and topic.
func (o *Oracle) IngestDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading knowledge dir: %w", err)
	}

	total := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		n, err := o.ingestFile(ctx, path)
		if err != nil {
			return total, fmt.Errorf("ingesting %s: %w", entry.Name(), err)
		}
		total += n
	}

	o.logger.Info("knowledge base ingested", "dir", dir, "facts", total)
	return total, nil
}

func (o *Oracle) ingestFile(ctx context.Context, path string) (int, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(source))

	type section struct {
		topic string
		body  strings.Builder
	}
	var sections []*section
	current := &section{topic: strings.TrimSuffix(filepath.Base(path), ".md")}

	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		if heading, ok := node.(*ast.Heading); ok {
			if current.body.Len() > 0 {
				sections = append(sections, current)
			}
			current = &section{topic: string(nodeText(heading, source))}
			continue
		}
		if current.body.Len() > 0 {
			current.body.WriteString("\n")
		}
		current.body.Write(nodeText(node, source))
	}
	if current.body.Len() > 0 {
		sections = append(sections, current)
	}

	base := filepath.Base(path)
	count := 0
	for _, s := range sections {
		body := strings.TrimSpace(s.body.String())
		if body == "" {
			continue
		}
		fact := &store.Fact{
			ID:        uuid.NewSHA1(uuid.NameSpaceURL, []byte(base+"#"+s.topic)).String(),
			Topic:     strings.TrimSpace(s.topic),
			Text:      body,
			Source:    base,
			CreatedAt: time.Now().UTC(),
		}
		if err := o.store.SaveFact(ctx, fact); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// nodeText collects the raw text content of a markdown node.
func nodeText(node ast.Node, source []byte) []byte {
	var out []byte
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := n.(*ast.Text); ok {
			out = append(out, t.Segment.Value(source)...)
			if t.SoftLineBreak() || t.HardLineBreak() {
				out = append(out, '\n')
			}
		}
		return ast.WalkContinue, nil
	})
	return out
}

// Lookup returns the facts most relevant to the query plus the full
// catalog. An empty fact list is a valid answer; the catalog always comes
// along when present.
func (o *Oracle) Lookup(ctx context.Context, query string) (*Context, error) {
	facts, err := o.store.ListFacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing facts: %w", err)
	}
	catalog, err := o.store.ListCatalogItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing catalog: %w", err)
	}

	queryTokens := tokenize(query)
	type scored struct {
		fact  *store.Fact
		score float64
	}
	var hits []scored
	for _, f := range facts {
		s := overlapScore(queryTokens, tokenize(f.Topic+" "+f.Text))
		if s > 0 {
			hits = append(hits, scored{fact: f, score: s})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > o.searchLimit {
		hits = hits[:o.searchLimit]
	}

	result := &Context{Catalog: catalog}
	for _, h := range hits {
		result.Facts = append(result.Facts, h.fact)
	}
	return result, nil
}

// Render formats a knowledge context as plain text for the system prompt.
func (c *Context) Render() string {
	var b strings.Builder
	if len(c.Facts) > 0 {
		b.WriteString("Relevant knowledge:\n")
		for _, f := range c.Facts {
			fmt.Fprintf(&b, "- %s: %s\n", f.Topic, f.Text)
		}
	}
	if len(c.Catalog) > 0 {
		b.WriteString("Current catalog (only offer what is listed here):\n")
		for _, item := range c.Catalog {
			status := "available"
			if !item.Available {
				status = "not available"
			}
			fmt.Fprintf(&b, "- %s (%s): %s\n", item.Name, status, item.Summary)
		}
	}
	return b.String()
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"i": true, "you": true, "it": true, "to": true, "of": true,
	"and": true, "or": true, "in": true, "on": true, "for": true,
	"what": true, "how": true, "do": true, "can": true,
}

func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && !('а' <= r && r <= 'я')
	}) {
		if len(w) < 2 || stopwords[w] {
			continue
		}
		tokens[w] = true
	}
	return tokens
}

// overlapScore is the fraction of query tokens present in the document.
func overlapScore(query, doc map[string]bool) float64 {
	if len(query) == 0 {
		return 0
	}
	matched := 0
	for t := range query {
		if doc[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(query))
}

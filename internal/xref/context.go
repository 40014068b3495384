package xref

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/acqdocs/internal/catalog"
	"github.com/sells-group/acqdocs/internal/model"
)

// excerptChars bounds how much of each prerequisite document goes into a prompt.
const excerptChars = 6000

// ContentReader loads stored document text.
type ContentReader interface {
	GetContent(ctx context.Context, pointer string) (string, error)
}

// Builder assembles the GenerationContext for one document.
type Builder struct {
	resolver *Resolver
	content  ContentReader
	catalog  *catalog.Catalog
}

// NewBuilder returns a Builder.
func NewBuilder(resolver *Resolver, content ContentReader, cat *catalog.Catalog) *Builder {
	return &Builder{resolver: resolver, content: content, catalog: cat}
}

// Build resolves the prerequisites of docType and loads their excerpts.
// Passages are attached as given. Missing prerequisites are listed in
// Unresolved rather than failing.
func (b *Builder) Build(ctx context.Context, program string, docType model.DocumentType, passages []model.Passage) (*model.GenerationContext, error) {
	entry, ok := b.catalog.Lookup(docType)
	if !ok {
		return nil, eris.Errorf("xref: unknown document type %q", docType)
	}

	resolved, err := b.resolver.Resolve(ctx, program, entry.Prerequisites)
	if err != nil {
		return nil, err
	}

	gc := &model.GenerationContext{
		ProgramName:      program,
		Type:             docType,
		Title:            entry.Title,
		RequiredSections: append([]string(nil), entry.Sections...),
		Passages:         passages,
	}
	for _, p := range entry.Prerequisites {
		rec := resolved[p]
		if rec == nil {
			gc.Unresolved = append(gc.Unresolved, p)
			continue
		}
		text, err := b.content.GetContent(ctx, rec.ContentPointer)
		if err != nil {
			return nil, eris.Wrapf(err, "xref: load %s content", p)
		}
		title := string(p)
		if e, ok := b.catalog.Lookup(p); ok {
			title = e.Title
		}
		gc.References = append(gc.References, model.Reference{
			Type:    p,
			Title:   title,
			Record:  rec.Clone(),
			Excerpt: excerpt(text, excerptChars),
		})
	}
	return gc, nil
}

// Placeholder is the marker written where a value depends on a document
// that does not exist yet.
func Placeholder(what string) string {
	return "[TBD: " + what + "]"
}

// Render formats gc as the context block of a generation prompt.
func Render(gc *model.GenerationContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Program: %s\nDocument: %s\n", gc.ProgramName, gc.Title)
	if len(gc.RequiredSections) > 0 {
		sb.WriteString("\nRequired sections, in order:\n")
		for _, s := range gc.RequiredSections {
			fmt.Fprintf(&sb, "- %s\n", s)
		}
	}

	for _, ref := range gc.References {
		fmt.Fprintf(&sb, "\n<prerequisite type=%q id=%q created=%q>\n",
			ref.Type, ref.Record.ID, ref.Record.CreatedAt.Format("2006-01-02"))
		if len(ref.Record.ExtractedData) > 0 {
			sb.WriteString("Key data:\n")
			for _, k := range SortedKeys(ref.Record.ExtractedData) {
				fmt.Fprintf(&sb, "- %s: %s\n", k, ref.Record.ExtractedData[k])
			}
		}
		fmt.Fprintf(&sb, "%s (excerpt):\n%s\n</prerequisite>\n", ref.Title, ref.Excerpt)
	}

	if len(gc.Unresolved) > 0 {
		sb.WriteString("\nThese prerequisite documents do not exist yet. Wherever a value would come from one of them, write the placeholder shown instead of inventing it:\n")
		for _, t := range gc.Unresolved {
			fmt.Fprintf(&sb, "- %s: %s\n", t, Placeholder(string(t)+" not yet available"))
		}
	}

	if len(gc.Passages) > 0 {
		sb.WriteString("\nResearch sources you may cite as (Ref: source, year):\n")
		for i, p := range gc.Passages {
			fmt.Fprintf(&sb, "\n[%d] %s\n%s\n", i+1, p.Source, p.Text)
		}
	}
	return sb.String()
}

func excerpt(text string, n int) string {
	if len(text) <= n {
		return text
	}
	// Back off to a rune start so the cut never splits a character.
	for n > 0 && !utf8.RuneStart(text[n]) {
		n--
	}
	cut := text[:n]
	if i := strings.LastIndex(cut, "\n"); i > n/2 {
		cut = cut[:i]
	}
	return cut + "\n[...]"
}

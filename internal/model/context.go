package model

// Passage is one ranked result from the retrieval service.
type Passage struct {
	Text      string  `json:"text"`
	Source    string  `json:"source"`
	Relevance float64 `json:"relevance"`
}

// Reference is a resolved prerequisite document loaded for prompting.
type Reference struct {
	Type    DocumentType   `json:"type"`
	Title   string         `json:"title"`
	Record  DocumentRecord `json:"record"`
	Excerpt string         `json:"excerpt"`
}

// GenerationContext is everything known about a document before drafting.
// It is built once per run and never mutated afterwards.
type GenerationContext struct {
	ProgramName      string         `json:"program_name"`
	Type             DocumentType   `json:"type"`
	Title            string         `json:"title"`
	RequiredSections []string       `json:"required_sections"`
	References       []Reference    `json:"references"`
	Unresolved       []DocumentType `json:"unresolved"`
	Passages         []Passage      `json:"passages"`
}

// ReferenceIDs returns the record ids of resolved references in order.
func (c *GenerationContext) ReferenceIDs() []string {
	if c == nil {
		return nil
	}
	ids := make([]string, 0, len(c.References))
	for _, r := range c.References {
		ids = append(ids, r.Record.ID)
	}
	return ids
}

// HasGrounding reports whether any prerequisite or retrieved source exists.
func (c *GenerationContext) HasGrounding() bool {
	return c != nil && (len(c.References) > 0 || len(c.Passages) > 0)
}

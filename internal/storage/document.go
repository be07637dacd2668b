// Defines the whole-document model shared by every Store backend.

package storage

import (
	"bytes"
	"encoding/json"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Section is the persisted state of one table.
//
// Columns and Data are kept as raw JSON: the storage layer does not know the
// schema, only the table layer decodes them.
type Section struct {
	Columns json.RawMessage `json:"columns"`
	Data    json.RawMessage `json:"data"`
}

// emptyData returns the encoding of a table without rows.
func emptyData() json.RawMessage {
	return json.RawMessage("[]")
}

// NewSection returns a section holding columns and no rows.
func NewSection(columns json.RawMessage) Section {
	return Section{Columns: columns, Data: emptyData()}
}

func (s Section) clone() Section {
	return Section{Columns: bytes.Clone(s.Columns), Data: bytes.Clone(s.Data)}
}

// equal compares sections ignoring JSON whitespace.
func (s Section) equal(o Section) bool {
	return sameJSON(s.Columns, o.Columns) && sameJSON(s.Data, o.Data)
}

func sameJSON(a, b json.RawMessage) bool {
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}

// Document is the whole persisted state: table name to Section, in creation order.
type Document struct {
	sections *orderedmap.OrderedMap[string, Section]
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{sections: orderedmap.New[string, Section]()}
}

// Len returns the number of sections.
func (d *Document) Len() int {
	return d.sections.Len()
}

// Get returns the section for a table.
func (d *Document) Get(name string) (Section, bool) {
	return d.sections.Get(name)
}

// Has reports whether the document has a section for name.
func (d *Document) Has(name string) bool {
	_, ok := d.sections.Get(name)
	return ok
}

// Set adds or replaces a section. A new section is appended at the end.
func (d *Document) Set(name string, s Section) {
	if s.Data == nil {
		s.Data = emptyData()
	}
	d.sections.Set(name, s)
}

// Delete removes a section and reports whether it existed.
func (d *Document) Delete(name string) bool {
	_, ok := d.sections.Delete(name)
	return ok
}

// Names returns the section names in document order.
func (d *Document) Names() []string {
	names := make([]string, 0, d.sections.Len())
	for pair := d.sections.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	c := NewDocument()
	for pair := d.sections.Oldest(); pair != nil; pair = pair.Next() {
		c.sections.Set(pair.Key, pair.Value.clone())
	}
	return c
}

// MarshalJSON implements json.Marshaler.
func (d *Document) MarshalJSON() ([]byte, error) {
	return d.sections.MarshalJSON()
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Document) UnmarshalJSON(data []byte) error {
	m := orderedmap.New[string, Section]()
	if err := m.UnmarshalJSON(data); err != nil {
		return err
	}
	d.sections = m
	return nil
}

// decodeDocument parses a serialized document. Empty input is an empty document.
func decodeDocument(data []byte) (*Document, error) {
	doc := NewDocument()
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}

// changes describes which sections differ between two documents.
type changes struct {
	created []string
	updated []string
	removed []string
}

func diff(prev, curr *Document) changes {
	var c changes
	for _, name := range curr.Names() {
		s, _ := curr.Get(name)
		old, ok := prev.Get(name)
		switch {
		case !ok:
			c.created = append(c.created, name)
		case !old.equal(s):
			c.updated = append(c.updated, name)
		}
	}
	for _, name := range prev.Names() {
		if !curr.Has(name) {
			c.removed = append(c.removed, name)
		}
	}
	return c
}

func (c changes) empty() bool {
	return len(c.created) == 0 && len(c.updated) == 0 && len(c.removed) == 0
}

// Package payload defines the typed, versioned schemas carried by syncable
// records and the field-level diff and merge the conflict resolver operates
// on. Comparison is always over the typed representation, never over
// untyped maps.
package payload

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/sayantanroy47/tasky-sync/internal/models"
)

// SchemaVersion is the current payload schema version for all kinds.
const SchemaVersion = 1

// FieldSet is a set of payload field names.
type FieldSet map[string]struct{}

// NewFieldSet builds a FieldSet from names.
func NewFieldSet(names ...string) FieldSet {
	s := make(FieldSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Add inserts a field name.
func (s FieldSet) Add(name string) {
	s[name] = struct{}{}
}

// Contains reports membership.
func (s FieldSet) Contains(name string) bool {
	_, ok := s[name]
	return ok
}

// Intersects reports whether the two sets share any field.
func (s FieldSet) Intersects(other FieldSet) bool {
	for n := range s {
		if other.Contains(n) {
			return true
		}
	}
	return false
}

// Names returns the sorted field names, for stable logging.
func (s FieldSet) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Task is the syncable payload of a task record.
type Task struct {
	SchemaVersion int      `json:"schema_version"`
	Title         string   `json:"title"`
	Notes         string   `json:"notes,omitempty"`
	DueDate       int64    `json:"due_date,omitempty"` // unix seconds, 0 = none
	Priority      int      `json:"priority,omitempty"`
	Completed     bool     `json:"completed,omitempty"`
	ProjectID     string   `json:"project_id,omitempty"`
	Tags          []string `json:"tags,omitempty"`
}

// Project is the syncable payload of a project record.
type Project struct {
	SchemaVersion int    `json:"schema_version"`
	Name          string `json:"name"`
	Color         string `json:"color,omitempty"`
	Archived      bool   `json:"archived,omitempty"`
}

// Tag is the syncable payload of a tag record.
type Tag struct {
	SchemaVersion int    `json:"schema_version"`
	Name          string `json:"name"`
	Color         string `json:"color,omitempty"`
}

func tagsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// diff returns the task fields that changed relative to base.
func (t Task) diff(base Task) FieldSet {
	changed := make(FieldSet)
	if t.Title != base.Title {
		changed.Add("title")
	}
	if t.Notes != base.Notes {
		changed.Add("notes")
	}
	if t.DueDate != base.DueDate {
		changed.Add("due_date")
	}
	if t.Priority != base.Priority {
		changed.Add("priority")
	}
	if t.Completed != base.Completed {
		changed.Add("completed")
	}
	if t.ProjectID != base.ProjectID {
		changed.Add("project_id")
	}
	if !tagsEqual(t.Tags, base.Tags) {
		changed.Add("tags")
	}
	return changed
}

// apply copies the named fields from src onto t.
func (t *Task) apply(src Task, fields FieldSet) {
	if fields.Contains("title") {
		t.Title = src.Title
	}
	if fields.Contains("notes") {
		t.Notes = src.Notes
	}
	if fields.Contains("due_date") {
		t.DueDate = src.DueDate
	}
	if fields.Contains("priority") {
		t.Priority = src.Priority
	}
	if fields.Contains("completed") {
		t.Completed = src.Completed
	}
	if fields.Contains("project_id") {
		t.ProjectID = src.ProjectID
	}
	if fields.Contains("tags") {
		t.Tags = append([]string(nil), src.Tags...)
	}
}

func (p Project) diff(base Project) FieldSet {
	changed := make(FieldSet)
	if p.Name != base.Name {
		changed.Add("name")
	}
	if p.Color != base.Color {
		changed.Add("color")
	}
	if p.Archived != base.Archived {
		changed.Add("archived")
	}
	return changed
}

func (p *Project) apply(src Project, fields FieldSet) {
	if fields.Contains("name") {
		p.Name = src.Name
	}
	if fields.Contains("color") {
		p.Color = src.Color
	}
	if fields.Contains("archived") {
		p.Archived = src.Archived
	}
}

func (g Tag) diff(base Tag) FieldSet {
	changed := make(FieldSet)
	if g.Name != base.Name {
		changed.Add("name")
	}
	if g.Color != base.Color {
		changed.Add("color")
	}
	return changed
}

func (g *Tag) apply(src Tag, fields FieldSet) {
	if fields.Contains("name") {
		g.Name = src.Name
	}
	if fields.Contains("color") {
		g.Color = src.Color
	}
}

// Validate checks that raw decodes as the kind's schema. Empty payloads are
// valid only for tombstones, which callers check separately.
func Validate(kind models.Kind, raw json.RawMessage) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown record kind %q", kind)
	}
	if len(raw) == 0 {
		return nil
	}
	var err error
	switch kind {
	case models.KindTask:
		err = json.Unmarshal(raw, &Task{})
	case models.KindProject:
		err = json.Unmarshal(raw, &Project{})
	case models.KindTag:
		err = json.Unmarshal(raw, &Tag{})
	}
	if err != nil {
		return fmt.Errorf("malformed %s payload: %w", kind, err)
	}
	return nil
}

// Diff returns the fields of other that changed relative to base. An empty
// base diffs against the kind's zero value, which covers create operations
// and first-sync collisions.
func Diff(kind models.Kind, base, other json.RawMessage) (FieldSet, error) {
	switch kind {
	case models.KindTask:
		var b, o Task
		if err := decodePair(base, other, &b, &o); err != nil {
			return nil, err
		}
		return o.diff(b), nil
	case models.KindProject:
		var b, o Project
		if err := decodePair(base, other, &b, &o); err != nil {
			return nil, err
		}
		return o.diff(b), nil
	case models.KindTag:
		var b, o Tag
		if err := decodePair(base, other, &b, &o); err != nil {
			return nil, err
		}
		return o.diff(b), nil
	}
	return nil, fmt.Errorf("unknown record kind %q", kind)
}

// Merge produces the structural merge of two edits with disjoint changed
// field sets: the base payload with the local changes and the remote changes
// both applied. Output encoding is canonical (struct field order), so equal
// inputs always yield byte-equal output.
func Merge(kind models.Kind, base, local, remote json.RawMessage, localChanged, remoteChanged FieldSet) (json.RawMessage, error) {
	switch kind {
	case models.KindTask:
		var b, l, r Task
		if err := decodeTriple(base, local, remote, &b, &l, &r); err != nil {
			return nil, err
		}
		b.apply(l, localChanged)
		b.apply(r, remoteChanged)
		b.SchemaVersion = SchemaVersion
		return json.Marshal(b)
	case models.KindProject:
		var b, l, r Project
		if err := decodeTriple(base, local, remote, &b, &l, &r); err != nil {
			return nil, err
		}
		b.apply(l, localChanged)
		b.apply(r, remoteChanged)
		b.SchemaVersion = SchemaVersion
		return json.Marshal(b)
	case models.KindTag:
		var b, l, r Tag
		if err := decodeTriple(base, local, remote, &b, &l, &r); err != nil {
			return nil, err
		}
		b.apply(l, localChanged)
		b.apply(r, remoteChanged)
		b.SchemaVersion = SchemaVersion
		return json.Marshal(b)
	}
	return nil, fmt.Errorf("unknown record kind %q", kind)
}

func decodePair(base, other json.RawMessage, b, o interface{}) error {
	if len(base) > 0 {
		if err := json.Unmarshal(base, b); err != nil {
			return fmt.Errorf("malformed base payload: %w", err)
		}
	}
	if len(other) > 0 {
		if err := json.Unmarshal(other, o); err != nil {
			return fmt.Errorf("malformed payload: %w", err)
		}
	}
	return nil
}

func decodeTriple(base, local, remote json.RawMessage, b, l, r interface{}) error {
	if err := decodePair(base, local, b, l); err != nil {
		return err
	}
	if len(remote) > 0 {
		if err := json.Unmarshal(remote, r); err != nil {
			return fmt.Errorf("malformed remote payload: %w", err)
		}
	}
	return nil
}

// MustMarshal encodes a payload struct, panicking on failure. Payload
// structs contain no unmarshalable types, so failure indicates a programming
// error. Intended for callers constructing payloads in code and tests.
func MustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

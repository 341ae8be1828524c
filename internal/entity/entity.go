// Package entity defines the capability interface the synchronisation
// engine requires of any row stored through the Facade.
package entity

import "encoding/json"

// Entity is implemented by anything the row store can hold. The engine
// never requires inheritance from a concrete schema type; it only needs
// the two reserved fields described in the data model: nodeIdentity and
// dateCreated.
type Entity interface {
	GetPrimaryKey() string

	GetNodeIdentity() string
	SetNodeIdentity(string)

	GetDateCreated() string
	SetDateCreated(string)
}

// Record is a generic, schema-less Entity backed by a plain map. It is
// what the wire format (JSON changesets, row-store rows) decodes into when
// the caller has no generated type for its schema.
type Record struct {
	PrimaryKeyField string
	Fields          map[string]any
}

// NewRecord wraps fields as a Record. primaryKeyField names which entry
// in fields holds the primary key (e.g. "id").
func NewRecord(primaryKeyField string, fields map[string]any) *Record {
	if fields == nil {
		fields = map[string]any{}
	}
	return &Record{PrimaryKeyField: primaryKeyField, Fields: fields}
}

func (r *Record) GetPrimaryKey() string {
	v, _ := r.Fields[r.PrimaryKeyField].(string)
	return v
}

func (r *Record) GetNodeIdentity() string {
	v, _ := r.Fields["nodeIdentity"].(string)
	return v
}

func (r *Record) SetNodeIdentity(id string) {
	r.Fields["nodeIdentity"] = id
}

func (r *Record) GetDateCreated() string {
	v, _ := r.Fields["dateCreated"].(string)
	return v
}

func (r *Record) SetDateCreated(d string) {
	r.Fields["dateCreated"] = d
}

// Clone returns a deep-enough copy for safe mutation (used when stripping
// reserved fields before embedding a row in a changeset).
func (r *Record) Clone() *Record {
	cp := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		cp[k] = v
	}
	return &Record{PrimaryKeyField: r.PrimaryKeyField, Fields: cp}
}

// WithoutField returns a clone with the named field removed.
func (r *Record) WithoutField(name string) *Record {
	cp := r.Clone()
	delete(cp.Fields, name)
	return cp
}

// MarshalJSON flattens Fields so a Record serialises as a plain object,
// matching the wire shape of T in the data model rather than a wrapper.
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Fields)
}

// UnmarshalJSON populates Fields from a flat object. A PrimaryKeyField
// already set is kept; an empty one is set to "id".
func (r *Record) UnmarshalJSON(data []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	r.Fields = fields
	if r.PrimaryKeyField == "" {
		r.PrimaryKeyField = "id"
	}
	return nil
}

// NewRecordFromJSON decodes a flat JSON object into a Record keyed on
// primaryKeyField.
func NewRecordFromJSON(primaryKeyField string, data []byte) (*Record, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return NewRecord(primaryKeyField, fields), nil
}

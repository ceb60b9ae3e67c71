package testutil

import (
	"fmt"

	"github.com/julianstephens/structdb/schema"
)

// Hand-maintained copies of what the binding generator emits for the test
// structs. Field order in Encode/Decode must match the descriptor; the
// engine trusts that, it never checks it.

// Person exercises string and integer keys, cluster and exclusive indexes,
// and a plain unindexed field.
type Person struct {
	Name    string
	Email   string
	Age     int64
	Address string
}

func (p *Person) StructName() string { return "Person" }

func (p *Person) FieldValue(name string) (any, error) {
	switch name {
	case "name":
		return p.Name, nil
	case "email":
		return p.Email, nil
	case "age":
		return p.Age, nil
	case "address":
		return p.Address, nil
	}
	return nil, fmt.Errorf("testutil: Person has no field %q", name)
}

var personDescriptor = &schema.Descriptor{
	Name: "Person",
	Fields: []schema.FieldDescriptor{
		{Name: "name", Type: schema.Str(), Index: &schema.IndexDecl{Mode: schema.IndexCluster, Name: "by_name"}},
		{Name: "email", Type: schema.Str(), Index: &schema.IndexDecl{Mode: schema.IndexExclusive, Name: "by_email"}},
		{Name: "age", Type: schema.I64(), Index: &schema.IndexDecl{Mode: schema.IndexCluster, Name: "by_age"}},
		{Name: "address", Type: schema.Str()},
	},
}

// PersonType is the schema binding for Person.
type PersonType struct{}

func (PersonType) Descriptor() *schema.Descriptor { return personDescriptor }

func (PersonType) New() any { return &Person{} }

func (PersonType) Encode(v any) ([]byte, error) {
	p, ok := v.(*Person)
	if !ok {
		return nil, fmt.Errorf("testutil: Encode expects *Person, got %T", v)
	}
	var b []byte
	b = schema.AppendString(b, p.Name)
	b = schema.AppendString(b, p.Email)
	b = schema.AppendI64(b, p.Age)
	b = schema.AppendString(b, p.Address)
	return b, nil
}

func (PersonType) Decode(data []byte) (any, error) {
	r := schema.NewReader(data)
	p := &Person{}
	p.Name = r.String()
	p.Email = r.String()
	p.Age = r.I64()
	p.Address = r.String()
	if err := r.Done(); err != nil {
		return nil, err
	}
	return p, nil
}

// PersonContact projects name and email out of Person records.
type PersonContact struct {
	Name  string
	Email string
}

func (p *PersonContact) FieldValue(name string) (any, error) {
	switch name {
	case "name":
		return p.Name, nil
	case "email":
		return p.Email, nil
	}
	return nil, fmt.Errorf("testutil: PersonContact has no field %q", name)
}

// PersonContactProjection decodes only the projected fields and skips the
// rest of the payload.
type PersonContactProjection struct{}

func (PersonContactProjection) Fields() []string { return []string{"name", "email"} }

func (PersonContactProjection) DecodeProjected(d *schema.Descriptor, data []byte) (any, error) {
	r := schema.NewReader(data)
	p := &PersonContact{}
	for i := range d.Fields {
		f := &d.Fields[i]
		switch f.Name {
		case "name":
			p.Name = r.String()
		case "email":
			p.Email = r.String()
		default:
			r.Skip(&f.Type)
		}
	}
	if err := r.Done(); err != nil {
		return nil, err
	}
	return p, nil
}

// Event exercises integer range scans.
type Event struct {
	TS   int64
	Body string
}

func (e *Event) StructName() string { return "Event" }

func (e *Event) FieldValue(name string) (any, error) {
	switch name {
	case "ts":
		return e.TS, nil
	case "body":
		return e.Body, nil
	}
	return nil, fmt.Errorf("testutil: Event has no field %q", name)
}

var eventDescriptor = &schema.Descriptor{
	Name: "Event",
	Fields: []schema.FieldDescriptor{
		{Name: "ts", Type: schema.I64(), Index: &schema.IndexDecl{Mode: schema.IndexCluster, Name: "by_ts"}},
		{Name: "body", Type: schema.Str()},
	},
}

// EventType is the schema binding for Event.
type EventType struct{}

func (EventType) Descriptor() *schema.Descriptor { return eventDescriptor }

func (EventType) New() any { return &Event{} }

func (EventType) Encode(v any) ([]byte, error) {
	e, ok := v.(*Event)
	if !ok {
		return nil, fmt.Errorf("testutil: Encode expects *Event, got %T", v)
	}
	var b []byte
	b = schema.AppendI64(b, e.TS)
	b = schema.AppendString(b, e.Body)
	return b, nil
}

func (EventType) Decode(data []byte) (any, error) {
	r := schema.NewReader(data)
	e := &Event{}
	e.TS = r.I64()
	e.Body = r.String()
	if err := r.Done(); err != nil {
		return nil, err
	}
	return e, nil
}

// Meta is embedded in Doc.
type Meta struct {
	Author string
	Year   int64
}

func (m Meta) FieldValue(name string) (any, error) {
	switch name {
	case "author":
		return m.Author, nil
	case "year":
		return m.Year, nil
	}
	return nil, fmt.Errorf("testutil: Meta has no field %q", name)
}

var metaDescriptor = &schema.Descriptor{
	Name: "Meta",
	Fields: []schema.FieldDescriptor{
		{Name: "author", Type: schema.Str()},
		{Name: "year", Type: schema.I64()},
	},
}

// Doc exercises the composite kinds: sequences, embedded records, options,
// bytes, and a float key.
type Doc struct {
	Title      string
	Tags       []string
	Attachment []byte
	Meta       Meta
	Score      float64
	Note       *string
}

func (d *Doc) StructName() string { return "Doc" }

func (d *Doc) FieldValue(name string) (any, error) {
	switch name {
	case "title":
		return d.Title, nil
	case "tags":
		out := make([]any, len(d.Tags))
		for i, t := range d.Tags {
			out[i] = t
		}
		return out, nil
	case "attachment":
		return d.Attachment, nil
	case "meta":
		return d.Meta, nil
	case "score":
		return d.Score, nil
	case "note":
		if d.Note == nil {
			return nil, nil
		}
		return *d.Note, nil
	}
	return nil, fmt.Errorf("testutil: Doc has no field %q", name)
}

var docDescriptor = &schema.Descriptor{
	Name: "Doc",
	Fields: []schema.FieldDescriptor{
		{Name: "title", Type: schema.Str(), Index: &schema.IndexDecl{Mode: schema.IndexExclusive, Name: "by_title"}},
		{Name: "tags", Type: schema.Seq(schema.Str())},
		{Name: "attachment", Type: schema.Blob()},
		{Name: "meta", Type: schema.Embedded("Meta", metaDescriptor)},
		{Name: "score", Type: schema.F64(), Index: &schema.IndexDecl{Mode: schema.IndexCluster, Name: "by_score"}},
		{Name: "note", Type: schema.Option(schema.Str())},
	},
}

// DocType is the schema binding for Doc.
type DocType struct{}

func (DocType) Descriptor() *schema.Descriptor { return docDescriptor }

func (DocType) New() any { return &Doc{} }

func (DocType) Encode(v any) ([]byte, error) {
	d, ok := v.(*Doc)
	if !ok {
		return nil, fmt.Errorf("testutil: Encode expects *Doc, got %T", v)
	}
	var b []byte
	b = schema.AppendString(b, d.Title)
	b = schema.AppendLen(b, len(d.Tags))
	for _, t := range d.Tags {
		b = schema.AppendString(b, t)
	}
	b = schema.AppendBytes(b, d.Attachment)
	b = schema.AppendString(b, d.Meta.Author)
	b = schema.AppendI64(b, d.Meta.Year)
	b = schema.AppendF64(b, d.Score)
	b = schema.AppendPresent(b, d.Note != nil)
	if d.Note != nil {
		b = schema.AppendString(b, *d.Note)
	}
	return b, nil
}

func (DocType) Decode(data []byte) (any, error) {
	r := schema.NewReader(data)
	d := &Doc{}
	d.Title = r.String()
	n := r.Len()
	if r.Err() == nil && n > 0 {
		d.Tags = make([]string, n)
		for i := 0; i < n; i++ {
			d.Tags[i] = r.String()
		}
	}
	d.Attachment = r.Bytes()
	d.Meta.Author = r.String()
	d.Meta.Year = r.I64()
	d.Score = r.F64()
	if r.Present() {
		s := r.String()
		d.Note = &s
	}
	if err := r.Done(); err != nil {
		return nil, err
	}
	return d, nil
}

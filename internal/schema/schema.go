// Package schema declares the column layouts of the datasets flowing
// through the lake and the warehouse. Every parser emits frames against
// one of these schemas and every writer and loader consumes them.
package schema

// Kind is the semantic type of a column.
type Kind int

const (
	String Kind = iota
	Int64
	Float64
	Bool
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Int64:
		return "int64"
	case Float64:
		return "float64"
	case Bool:
		return "bool"
	default:
		return "unknown"
	}
}

// Field is one column of a dataset schema.
type Field struct {
	Name     string
	Kind     Kind
	Nullable bool
}

// Schema is an ordered column layout for one dataset.
type Schema struct {
	Name   string
	Fields []Field
}

// New builds a schema from ordered fields.
func New(name string, fields ...Field) Schema {
	return Schema{Name: name, Fields: fields}
}

// Field returns the field with the given name.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Has reports whether the schema contains a column with the given name.
func (s Schema) Has(name string) bool {
	_, ok := s.Field(name)
	return ok
}

// HasAll reports whether every named column exists in the schema.
func (s Schema) HasAll(names ...string) bool {
	for _, n := range names {
		if !s.Has(n) {
			return false
		}
	}
	return true
}

// Names returns the column names in declaration order.
func (s Schema) Names() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}

// Equal reports whether two schemas have the same name and the same
// ordered field list.
func (s Schema) Equal(other Schema) bool {
	if s.Name != other.Name || len(s.Fields) != len(other.Fields) {
		return false
	}
	for i, f := range s.Fields {
		if f != other.Fields[i] {
			return false
		}
	}
	return true
}

// WithFields returns a copy of the schema extended with extra trailing
// columns. Used for quarantine output which appends diagnostic columns.
func (s Schema) WithFields(extra ...Field) Schema {
	fields := make([]Field, 0, len(s.Fields)+len(extra))
	fields = append(fields, s.Fields...)
	fields = append(fields, extra...)
	return Schema{Name: s.Name, Fields: fields}
}

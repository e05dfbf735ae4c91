package schema

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/kaoslabsinc/remote-resources/internal/etl"
)

// Reserved column names and prefixes of a resource table.
const (
	IDColumn       = "id"
	RawColumn      = "_raw"
	SyncedAtColumn = "_synced_at"
	CachedPrefix   = "_cached_"
)

// ReservedTables are the store's own tables.
var ReservedTables = []string{"raw_items", "sync_runs"}

// Config is the content of a mapping file.
type Config struct {
	Resources []*Resource `toml:"resource" yaml:"resources"`
}

// Resource maps one remote collection onto one local table.
type Resource struct {
	Name     string `toml:"name" yaml:"name"`
	Table    string `toml:"table,omitempty" yaml:"table,omitempty"`
	Endpoint string `toml:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// KeyField is the remote key whose column identifies a record across pulls.
	KeyField string `toml:"key_field" yaml:"key_field"`
	// OrderingField is the column a time-series cursor walks.
	OrderingField string `toml:"ordering_field,omitempty" yaml:"ordering_field,omitempty"`
	// AfterParam and BeforeParam name the list query parameters that bound
	// an incremental pull on the ordering field.
	AfterParam  string `toml:"after_param,omitempty" yaml:"after_param,omitempty"`
	BeforeParam string `toml:"before_param,omitempty" yaml:"before_param,omitempty"`

	// ResultsKey and NextKey override the listing envelope keys.
	ResultsKey string `toml:"results_key,omitempty" yaml:"results_key,omitempty"`
	NextKey    string `toml:"next_key,omitempty" yaml:"next_key,omitempty"`

	Fields []Field          `toml:"field" yaml:"fields"`
	Cached []CachedProperty `toml:"cached,omitempty" yaml:"cached,omitempty"`

	entityOnce   sync.Once
	entitySchema *etl.Schema
	entityErr    error
}

// Field maps one remote key to one column. Remote may be a dotted path
// into nested objects.
type Field struct {
	Remote    string     `toml:"remote" yaml:"remote"`
	Column    string     `toml:"column,omitempty" yaml:"column,omitempty"`
	Type      ColumnType `toml:"type,omitempty" yaml:"type,omitempty"`
	Transform string     `toml:"transform,omitempty" yaml:"transform,omitempty"`
	Required  bool       `toml:"required,omitempty" yaml:"required,omitempty"`
	Default   any        `toml:"default,omitempty" yaml:"default,omitempty"`
}

// CachedProperty is a derived value kept in a _cached_<name> column.
// Expr is an SQL expression evaluated against the resource row.
type CachedProperty struct {
	Name string     `toml:"name" yaml:"name"`
	Expr string     `toml:"expr" yaml:"expr"`
	Type ColumnType `toml:"type,omitempty" yaml:"type,omitempty"`
}

// ColumnName returns Column, falling back to Remote with dots replaced.
func (f *Field) ColumnName() string {
	if f.Column != "" {
		return f.Column
	}
	return strings.ReplaceAll(f.Remote, ".", "_")
}

// ColumnType returns Type, defaulting to text.
func (f *Field) ColumnType() ColumnType {
	if f.Type == "" {
		return TypeText
	}
	return f.Type
}

// Column returns the shadow column name of the property.
func (c *CachedProperty) Column() string {
	return CachedPrefix + c.Name
}

// TableName returns Table, falling back to Name.
func (r *Resource) TableName() string {
	if r.Table != "" {
		return r.Table
	}
	return r.Name
}

// KeyColumn returns the column the key field maps to.
func (r *Resource) KeyColumn() string {
	if f := r.fieldByRemote(r.KeyField); f != nil {
		return f.ColumnName()
	}
	return ""
}

// OrderingColumn returns the ordering column, or "" when none is configured.
func (r *Resource) OrderingColumn() string {
	return r.OrderingField
}

// OrderingType returns the column type of the ordering column.
func (r *Resource) OrderingType() ColumnType {
	for i := range r.Fields {
		if r.Fields[i].ColumnName() == r.OrderingField {
			return r.Fields[i].ColumnType()
		}
	}
	return ""
}

// FieldColumns returns the mapped column names in declaration order.
func (r *Resource) FieldColumns() []string {
	cols := make([]string, len(r.Fields))
	for i := range r.Fields {
		cols[i] = r.Fields[i].ColumnName()
	}
	return cols
}

// CachedProperty returns the cached property called name.
func (r *Resource) CachedProperty(name string) (*CachedProperty, bool) {
	for i := range r.Cached {
		if r.Cached[i].Name == name {
			return &r.Cached[i], true
		}
	}
	return nil, false
}

func (r *Resource) fieldByRemote(remote string) *Field {
	for i := range r.Fields {
		if r.Fields[i].Remote == remote {
			return &r.Fields[i]
		}
	}
	return nil
}

func (r *Resource) hasColumn(col string) bool {
	for i := range r.Fields {
		if r.Fields[i].ColumnName() == col {
			return true
		}
	}
	return false
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks the mapping. Table and column names must be plain SQL
// identifiers since they are interpolated into statements.
func (r *Resource) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidResource)
	}
	if !identRe.MatchString(r.TableName()) {
		return fmt.Errorf("%w: %s: table %q is not a valid identifier", ErrInvalidResource, r.Name, r.TableName())
	}
	if slices.Contains(ReservedTables, strings.ToLower(r.TableName())) {
		return fmt.Errorf("%w: %s: table %q is reserved", ErrInvalidResource, r.Name, r.TableName())
	}
	if len(r.Fields) == 0 {
		return fmt.Errorf("%w: %s: at least one field is required", ErrInvalidResource, r.Name)
	}

	seen := make(map[string]bool, len(r.Fields)+len(r.Cached))
	for i := range r.Fields {
		f := &r.Fields[i]
		if f.Remote == "" {
			return fmt.Errorf("%w: %s: field %d has no remote key", ErrInvalidResource, r.Name, i)
		}
		col := f.ColumnName()
		if err := checkColumn(r.Name, col, seen); err != nil {
			return err
		}
		if !f.ColumnType().Valid() {
			return fmt.Errorf("%w: %s.%s: unknown type %q", ErrInvalidResource, r.Name, col, f.Type)
		}
		if f.Transform != "" {
			if _, ok := lookupTransform(f.Transform); !ok {
				return fmt.Errorf("%w: %s.%s: %q", ErrUnknownTransform, r.Name, col, f.Transform)
			}
		}
		if f.Default != nil {
			if _, err := f.ColumnType().Coerce(f.Default); err != nil {
				return fmt.Errorf("%w: %s.%s: default: %v", ErrInvalidResource, r.Name, col, err)
			}
		}
	}

	if r.KeyField == "" {
		return fmt.Errorf("%s: %w", r.Name, ErrNoKeyField)
	}
	if r.fieldByRemote(r.KeyField) == nil {
		return fmt.Errorf("%w: %s: key_field %q is not mapped", ErrInvalidResource, r.Name, r.KeyField)
	}
	if r.OrderingField != "" && !r.hasColumn(r.OrderingField) {
		return fmt.Errorf("%w: %s: ordering_field %q is not a mapped column", ErrInvalidResource, r.Name, r.OrderingField)
	}

	for i := range r.Cached {
		c := &r.Cached[i]
		if !identRe.MatchString(c.Name) {
			return fmt.Errorf("%w: %s: cached property %q is not a valid identifier", ErrInvalidResource, r.Name, c.Name)
		}
		if seen[c.Column()] {
			return fmt.Errorf("%w: %s: duplicate cached property %q", ErrInvalidResource, r.Name, c.Name)
		}
		seen[c.Column()] = true
		if strings.TrimSpace(c.Expr) == "" {
			return fmt.Errorf("%w: %s: cached property %q has no expr", ErrInvalidResource, r.Name, c.Name)
		}
		if c.Type != "" && !c.Type.Valid() {
			return fmt.Errorf("%w: %s: cached property %q: unknown type %q", ErrInvalidResource, r.Name, c.Name, c.Type)
		}
	}
	return nil
}

func checkColumn(resource, col string, seen map[string]bool) error {
	switch {
	case !identRe.MatchString(col):
		return fmt.Errorf("%w: %s: column %q is not a valid identifier", ErrInvalidResource, resource, col)
	case col == IDColumn || col == RawColumn || col == SyncedAtColumn || strings.HasPrefix(col, CachedPrefix):
		return fmt.Errorf("%w: %s: column %q is reserved", ErrInvalidResource, resource, col)
	case seen[col]:
		return fmt.Errorf("%w: %s: duplicate column %q", ErrInvalidResource, resource, col)
	}
	seen[col] = true
	return nil
}

// Validate checks every resource and that names and tables are unique.
func (c *Config) Validate() error {
	names := make(map[string]bool, len(c.Resources))
	tables := make(map[string]bool, len(c.Resources))
	for _, r := range c.Resources {
		if err := r.Validate(); err != nil {
			return err
		}
		if names[r.Name] {
			return fmt.Errorf("%w: duplicate resource %q", ErrInvalidResource, r.Name)
		}
		if tables[r.TableName()] {
			return fmt.Errorf("%w: table %q is used twice", ErrInvalidResource, r.TableName())
		}
		names[r.Name] = true
		tables[r.TableName()] = true
	}
	return nil
}

// Resource returns the resource called name.
func (c *Config) Resource(name string) (*Resource, error) {
	for _, r := range c.Resources {
		if r.Name == name {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownResource, name)
}

// Names returns the resource names in file order.
func (c *Config) Names() []string {
	names := make([]string, len(c.Resources))
	for i, r := range c.Resources {
		names[i] = r.Name
	}
	return names
}

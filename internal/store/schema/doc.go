// Package schema defines declarative resource mappings for the local store.
//
// # Overview
//
// A resource mapping tells the pull pipeline how a remote record becomes a
// row in a local SQLite table: which remote keys map to which columns, how
// values are transformed and typed, which column identifies a record across
// pulls, which column orders a time series, and which derived properties
// are cached in shadow columns.
//
// Mappings are loaded from a TOML or YAML file:
//
//	[[resource]]
//	name = "users"
//	table = "users"
//	endpoint = "https://api.example.com/v1/users/"
//	key_field = "uuid"
//	ordering_field = "created"
//	after_param = "created_after"
//	before_param = "created_before"
//
//	  [[resource.field]]
//	  remote = "uuid"
//	  type = "text"
//	  required = true
//
//	  [[resource.field]]
//	  remote = "profile.email"
//	  column = "email"
//	  transform = "lower"
//
//	  [[resource.field]]
//	  remote = "created_at"
//	  column = "created"
//	  type = "timestamp"
//
//	  [[resource.cached]]
//	  name = "email_domain"
//	  expr = "substr(email, instr(email, '@') + 1)"
//
// # Persisted Layout
//
// Each resource owns one table with an INTEGER PRIMARY KEY id, one column
// per mapped field, a UNIQUE index on the key column, the absorbed payload
// as JSON in _raw, the pull time in _synced_at, and one _cached_<name>
// column per cached property.
//
// # Usage
//
//	cfg, err := schema.LoadFile(".rr/resources.toml")
//	res, err := cfg.Resource("users")
//	rec, err := res.MapRecord(payload)
//	fmt.Println(rec.Key, rec.Values["email"])
package schema

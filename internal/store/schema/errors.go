package schema

import "errors"

var (
	// ErrNoKeyField is returned for a resource without a key_field. Pulls
	// upsert by key, so a resource cannot be stored without one.
	ErrNoKeyField = errors.New("resource has no key_field")

	// ErrInvalidResource wraps every other validation failure.
	ErrInvalidResource = errors.New("invalid resource mapping")

	// ErrUnknownResource is returned when a name is not in the mapping file.
	ErrUnknownResource = errors.New("unknown resource")

	// ErrUnknownTransform is returned for a transform name with no
	// registered function.
	ErrUnknownTransform = errors.New("unknown transform")

	// ErrUnsupportedFormat is returned for mapping files that are neither
	// TOML nor YAML.
	ErrUnsupportedFormat = errors.New("unsupported mapping file format")
)

package entities

import (
	"database/sql/driver"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// Metadata is the free-form extension document attached to types, entities,
// attributes, relationships and activities. The store persists it opaquely;
// only the declared materialized fields are ever interpreted.
type Metadata map[string]any

// Metadata keys from which materialized columns are derived.
const (
	MetaKeyRoleLevel = "roleLevel"
	MetaKeyActive    = "active"
	MetaKeyTenantID  = "tenantId"
)

// Value implements driver.Valuer so Metadata can be written to a jsonb column.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal metadata")
	}
	return string(data), nil
}

// Scan implements sql.Scanner for reading a jsonb column back into Metadata.
func (m *Metadata) Scan(src any) error {
	if src == nil {
		*m = Metadata{}
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.Newf("cannot scan %T into Metadata", src)
	}

	if len(data) == 0 {
		*m = Metadata{}
		return nil
	}
	if err := json.Unmarshal(data, m); err != nil {
		return errors.Wrap(err, "failed to unmarshal metadata")
	}
	return nil
}

// GetString returns the string value for key, or "" if absent or not a string.
func (m Metadata) GetString(key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// GetInt returns the integer value for key. JSON numbers decode as float64,
// so both representations are accepted.
func (m Metadata) GetInt(key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// GetBool returns the boolean value for key together with whether it was set.
func (m Metadata) GetBool(key string) (bool, bool) {
	v, ok := m[key].(bool)
	return v, ok
}

// Clone returns a shallow copy so callers can mutate without aliasing.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

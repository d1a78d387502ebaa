package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONBStringArray stores an ordered string list as a JSON array. It is
// written as text so the same value works for JSONB and SQLite TEXT columns.
type JSONBStringArray []string

// Value implements the driver.Valuer interface
func (j JSONBStringArray) Value() (driver.Value, error) {
	if j == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(j))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface
func (j *JSONBStringArray) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONBStringArray", value)
	}

	var arr []string
	if err := json.Unmarshal(bytes, &arr); err != nil {
		return fmt.Errorf("failed to decode JSON string array: %w", err)
	}
	if len(arr) == 0 {
		arr = nil
	}
	*j = JSONBStringArray(arr)
	return nil
}

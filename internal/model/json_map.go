package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap stores open key/value extraction results as a JSON blob.
// Different media categories extract different fields so a fixed
// schema doesn't work here

type JSONMap map[string]any

// Value implements the driver.Valuer interface.
func (m JSONMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "", nil
	}

	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSONMap, %w", err)
	}

	return string(b), nil
}

// Scan implements the sql.Scanner interface.
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}

	str, ok := value.(string)
	if !ok {
		b, ok := value.([]byte)
		if !ok {
			return fmt.Errorf("failed to scan JSONMap, %v", value)
		}

		str = string(b)
	}

	if str == "" {
		*m = JSONMap{}
		return nil
	}

	return json.Unmarshal([]byte(str), m)
}

package datasizes

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Size is a wrapper around uint64 with support for reading from string
// or integer values in JSON and TOML documents. When a string is given
// it is parsed with Parse, so unit suffixes are honored.
type Size uint64

func (size *Size) UnmarshalTOML(data interface{}) error {
	i, err := decodeSize(data)
	if err != nil {
		return fmt.Errorf("error decoding TOML size: %w", err)
	}
	*size = Size(i)
	return nil
}

func (size *Size) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return err
	}
	i, err := decodeSize(v)
	if err != nil {
		return fmt.Errorf("error decoding size: %w", err)
	}
	*size = Size(i)
	return nil
}

func (size *Size) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var v interface{}
	if err := unmarshal(&v); err != nil {
		return err
	}
	i, err := decodeSize(v)
	if err != nil {
		return fmt.Errorf("error decoding size: %w", err)
	}
	*size = Size(i)
	return nil
}

func (size Size) Uint64() uint64 {
	return uint64(size)
}

// decodeSize converts the decoded value of a size field into bytes.
func decodeSize(v interface{}) (uint64, error) {
	switch v := v.(type) {
	case string:
		return Parse(v)
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0, err
		}
		if i < 0 {
			return 0, fmt.Errorf("cannot be negative")
		}
		return uint64(i), nil
	case int:
		if v < 0 {
			return 0, fmt.Errorf("cannot be negative")
		}
		return uint64(v), nil
	case int64:
		if v < 0 {
			return 0, fmt.Errorf("cannot be negative")
		}
		return uint64(v), nil
	case uint64:
		return v, nil
	case float64, float32:
		return 0, fmt.Errorf("cannot be float")
	default:
		return 0, fmt.Errorf("failed to convert value \"%v\" to number", v)
	}
}

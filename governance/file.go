package governance

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/BurntSushi/toml"
)

// LoadFile reads a TOML parameter file. Tables become dotted key prefixes:
//
//	[budget]
//	warning_bps = 7500
//
// yields "budget.warning_bps" = "7500".
func LoadFile(path string) (Static, error) {
	var doc map[string]any
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("governance: load %s: %w", path, err)
	}
	return flatten(doc)
}

// Load reads TOML parameters from r.
func Load(r io.Reader) (Static, error) {
	var doc map[string]any
	if _, err := toml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("governance: decode: %w", err)
	}
	return flatten(doc)
}

func flatten(doc map[string]any) (Static, error) {
	out := Static{}
	if err := flattenInto(out, "", doc); err != nil {
		return nil, err
	}
	return out, nil
}

func flattenInto(out Static, prefix string, m map[string]any) error {
	for _, k := range slices.Sorted(maps.Keys(m)) {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch v := m[k].(type) {
		case map[string]any:
			if err := flattenInto(out, key, v); err != nil {
				return err
			}
		case int64:
			out[key] = fmt.Sprintf("%d", v)
		case string:
			out[key] = v
		case bool:
			out[key] = fmt.Sprintf("%t", v)
		default:
			return fmt.Errorf("governance: %s: unsupported value type %T", key, v)
		}
	}
	return nil
}

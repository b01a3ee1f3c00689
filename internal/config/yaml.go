package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// toJSON converts YAML config files to JSON so both formats share one
// strict decoder. Anything that is not .yaml/.yml is returned unchanged.
func toJSON(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	out, err := json.Marshal(jsonable(doc))
	if err != nil {
		return nil, fmt.Errorf("encode yaml as json: %w", err)
	}
	return out, nil
}

// jsonable rewrites nested maps with non-string keys, which encoding/json
// refuses.
func jsonable(v any) any {
	if list, ok := v.([]any); ok {
		for i, item := range list {
			list[i] = jsonable(item)
		}
		return list
	}
	var out map[string]any
	switch m := v.(type) {
	case map[string]any:
		out = make(map[string]any, len(m))
		for k, item := range m {
			out[k] = jsonable(item)
		}
	case map[any]any:
		out = make(map[string]any, len(m))
		for k, item := range m {
			out[fmt.Sprint(k)] = jsonable(item)
		}
	default:
		return v
	}
	return out
}

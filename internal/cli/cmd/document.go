package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// readDocument reads a YAML or JSON file ("-" for stdin) and returns it as JSON.
// JSON is a subset of YAML, so both go through the same decoder.
func readDocument(path string) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	return yamlToJSON(data)
}

func yamlToJSON(data []byte) (json.RawMessage, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("document is empty")
	}
	doc, err := normalizeYAML(doc)
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

// normalizeYAML converts map[any]any, which JSON cannot encode, into map[string]any.
func normalizeYAML(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			n, err := normalizeYAML(val)
			if err != nil {
				return nil, err
			}
			t[k] = n
		}
		return t, nil
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			key, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("non-string key %v", k)
			}
			n, err := normalizeYAML(val)
			if err != nil {
				return nil, err
			}
			m[key] = n
		}
		return m, nil
	case []any:
		for i, val := range t {
			n, err := normalizeYAML(val)
			if err != nil {
				return nil, err
			}
			t[i] = n
		}
		return t, nil
	}
	return v, nil
}

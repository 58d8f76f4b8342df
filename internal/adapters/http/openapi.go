package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var openAPIYAML []byte

var getOpenAPIJSON = sync.OnceValues(func() ([]byte, error) {
	return yamlToJSON(openAPIYAML)
})

// yamlToJSON converts a YAML document to indented JSON.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing OpenAPI YAML: %w", err)
	}
	return json.MarshalIndent(stringKeys(doc), "", "  ")
}

// stringKeys rewrites maps with non-string keys, such as unquoted
// response codes, into JSON-compatible maps.
func stringKeys(v interface{}) interface{} {
	switch v := v.(type) {
	case map[string]interface{}:
		for key, value := range v {
			v[key] = stringKeys(value)
		}
		return v
	case map[interface{}]interface{}:
		result := make(map[string]interface{}, len(v))
		for key, value := range v {
			result[fmt.Sprint(key)] = stringKeys(value)
		}
		return result
	case []interface{}:
		for i, value := range v {
			v[i] = stringKeys(value)
		}
		return v
	default:
		return v
	}
}

package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestOpenAPISpecDescribesRoutes(t *testing.T) {
	var doc struct {
		OpenAPI string                    `yaml:"openapi"`
		Paths   map[string]map[string]any `yaml:"paths"`
	}
	require.NoError(t, yaml.Unmarshal(OpenAPISpec, &doc))
	assert.Equal(t, "3.1.0", doc.OpenAPI)

	routes := map[string]string{
		"/api/vitals":         "post",
		"/api/vitals/summary": "get",
		"/api/vitals/pages":   "get",
		"/api/vitals/score":   "get",
		"/health":             "get",
	}
	for path, method := range routes {
		ops, ok := doc.Paths[path]
		require.True(t, ok, "missing path %s", path)
		assert.Contains(t, ops, method, "path %s", path)
	}
}

// Package api embeds the OpenAPI description of the vitals HTTP API, served
// at GET /openapi.yaml.
package api

import _ "embed"

// OpenAPISpec is the raw OpenAPI 3.1 YAML specification.
//
//go:embed openapi.yaml
var OpenAPISpec []byte

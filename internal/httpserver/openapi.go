package httpserver

import (
	"context"
	_ "embed"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi_doc.yaml
var openapiDoc []byte

// loadedOpenAPI is parsed and validated once at package init, so a
// malformed embedded document fails fast rather than on first request.
var loadedOpenAPI = mustLoadOpenAPI()

func mustLoadOpenAPI() []byte {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openapiDoc)
	if err != nil {
		panic("httpserver: embedded OpenAPI document failed to parse: " + err.Error())
	}
	if err := doc.Validate(context.Background()); err != nil {
		panic("httpserver: embedded OpenAPI document failed validation: " + err.Error())
	}
	rendered, err := doc.MarshalJSON()
	if err != nil {
		panic("httpserver: failed to render OpenAPI document as JSON: " + err.Error())
	}
	return rendered
}

// openAPI handles GET /api/openapi.json, exempt from rate limiting.
func (h *handlers) openAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(loadedOpenAPI)
}

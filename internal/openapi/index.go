// Package openapi loads the embedded API document of the intent API and
// indexes its operations by operationId for request body validation.
package openapi

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed answerdesk.yaml
var document []byte

// IndexedOperation holds a resolved operation of the API document.
type IndexedOperation struct {
	OperationID  string
	Method       string
	PathTemplate string
	Parameters   []*openapi3.Parameter
	RequestBody  *openapi3.RequestBody
}

// ValidationError describes a schema validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Index is an in-memory index of operations keyed by operationId.
type Index struct {
	doc        *openapi3.T
	operations map[string]IndexedOperation
}

// Load parses and validates the embedded API document.
func Load() (*Index, error) {
	return LoadFromData(document)
}

// LoadFromData parses and validates an OpenAPI 3 document.
func LoadFromData(data []byte) (*Index, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("openapi: loading document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("openapi: validating document: %w", err)
	}

	idx := &Index{doc: doc, operations: make(map[string]IndexedOperation)}
	for path, pathItem := range doc.Paths.Map() {
		for method, op := range pathItem.Operations() {
			if op.OperationID == "" {
				continue
			}

			// Merge path-level and operation-level parameters.
			params := make([]*openapi3.Parameter, 0)
			for _, ref := range pathItem.Parameters {
				if ref.Value != nil {
					params = append(params, ref.Value)
				}
			}
			for _, ref := range op.Parameters {
				if ref.Value != nil {
					params = append(params, ref.Value)
				}
			}

			var reqBody *openapi3.RequestBody
			if op.RequestBody != nil && op.RequestBody.Value != nil {
				reqBody = op.RequestBody.Value
			}

			idx.operations[op.OperationID] = IndexedOperation{
				OperationID:  op.OperationID,
				Method:       method,
				PathTemplate: path,
				Parameters:   params,
				RequestBody:  reqBody,
			}
		}
	}
	return idx, nil
}

// GetOperation returns the indexed operation with the given id.
func (idx *Index) GetOperation(operationID string) (IndexedOperation, bool) {
	op, ok := idx.operations[operationID]
	return op, ok
}

// OperationIDs returns every indexed operation id, sorted.
func (idx *Index) OperationIDs() []string {
	ids := make([]string, 0, len(idx.operations))
	for id := range idx.operations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MarshalJSON renders the document as JSON for the /openapi.json endpoint.
func (idx *Index) MarshalJSON() ([]byte, error) {
	return idx.doc.MarshalJSON()
}

// ValidateRequest validates a raw JSON request body against the operation's
// request schema. It returns nil when the body is valid or the operation
// takes no body.
func (idx *Index) ValidateRequest(operationID string, body []byte) []ValidationError {
	op, ok := idx.GetOperation(operationID)
	if !ok {
		return []ValidationError{{Message: fmt.Sprintf("operation %s not found", operationID)}}
	}
	if op.RequestBody == nil {
		return nil
	}

	if len(strings.TrimSpace(string(body))) == 0 {
		if op.RequestBody.Required {
			return []ValidationError{{Message: "request body is required"}}
		}
		return nil
	}

	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		return []ValidationError{{Message: "invalid JSON body"}}
	}

	ct := op.RequestBody.Content.Get("application/json")
	if ct == nil || ct.Schema == nil || ct.Schema.Value == nil {
		return nil
	}

	err := ct.Schema.Value.VisitJSON(value, openapi3.MultiErrors())
	if err == nil {
		return nil
	}
	return collectErrors(err)
}

func collectErrors(err error) []ValidationError {
	switch e := err.(type) {
	case openapi3.MultiError:
		var out []ValidationError
		for _, inner := range e {
			out = append(out, collectErrors(inner)...)
		}
		return out
	case *openapi3.SchemaError:
		return []ValidationError{{Field: strings.Join(e.JSONPointer(), "."), Message: e.Reason}}
	default:
		return []ValidationError{{Message: err.Error()}}
	}
}

package graphapi

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const workflowSchemaURL = "https://promptrelay.local/schemas/workflow.json"

// workflowSchemaJSON describes an API-format workflow: an object of node ids
// to nodes carrying a class_type and an inputs object.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "minProperties": 1,
  "propertyNames": {"pattern": "^[^\\s]+$"},
  "additionalProperties": {
    "type": "object",
    "required": ["class_type", "inputs"],
    "properties": {
      "class_type": {"type": "string", "minLength": 1},
      "inputs": {"type": "object"},
      "_meta": {
        "type": "object",
        "properties": {"title": {"type": "string"}}
      }
    }
  }
}`

var (
	workflowSchemaOnce sync.Once
	workflowSchema     *jsonschema.Schema
	workflowSchemaErr  error
)

func compiledWorkflowSchema() (*jsonschema.Schema, error) {
	workflowSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
		if err != nil {
			workflowSchemaErr = fmt.Errorf("unmarshal workflow schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(workflowSchemaURL, doc); err != nil {
			workflowSchemaErr = fmt.Errorf("add workflow schema resource: %w", err)
			return
		}
		workflowSchema, workflowSchemaErr = c.Compile(workflowSchemaURL)
	})
	return workflowSchema, workflowSchemaErr
}

// ValidateWorkflowJSON checks the shape of an API-format workflow document.
// Link targets and cycles are checked afterwards by Workflow.Validate.
func ValidateWorkflowJSON(data []byte) error {
	sch, err := compiledWorkflowSchema()
	if err != nil {
		return err
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return &ValidationError{Problems: []string{"not valid JSON: " + err.Error()}}
	}

	if err := sch.Validate(doc); err != nil {
		verr, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return &ValidationError{Problems: []string{err.Error()}}
		}
		return &ValidationError{Problems: collectViolations(verr)}
	}
	return nil
}

// collectViolations flattens the cause tree into "location: message" lines
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/" + strings.Join(verr.InstanceLocation, "/")
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}

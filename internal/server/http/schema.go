package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ekisa-team/audiogen/internal/model"
)

const requestSchemaTemplate = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["prompt"],
  "properties": {
    "prompt": {
      "type": "string",
      "minLength": 1,
      "pattern": "\\S"
    },
    "duration": {
      "type": "integer",
      "exclusiveMinimum": 0,
      "maximum": %d
    }
  }
}`

// maxBodyBytes bounds a generation request body.
const maxBodyBytes = 64 << 10

// GenerateRequest is the decoded body of a generation route.
type GenerateRequest struct {
	Prompt   string   `json:"prompt"`
	Duration *float64 `json:"duration,omitempty"`
}

// FieldError is one entry of a 422 response.
type FieldError struct {
	Loc []string `json:"loc"`
	Msg string   `json:"msg"`
}

// ValidationError carries every field error of a rejected body.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, strings.Join(f.Loc, ".")+": "+f.Msg)
	}
	return "invalid request body: " + strings.Join(msgs, "; ")
}

// requestValidator checks a body against the task's request schema.
type requestValidator struct {
	task   model.Task
	schema *jsonschema.Schema
}

func newRequestValidator(task model.Task) (*requestValidator, error) {
	url := fmt.Sprintf("generate_%s.schema.json", task)
	compiler := jsonschema.NewCompiler()
	doc := fmt.Sprintf(requestSchemaTemplate, task.MaxDuration())
	if err := compiler.AddResource(url, strings.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("failed to add %s request schema: %w", task, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s request schema: %w", task, err)
	}
	return &requestValidator{task: task, schema: schema}, nil
}

// Decode reads, validates and decodes body. The returned duration falls back to the
// task default when the body omits it.
func (v *requestValidator) Decode(body io.Reader) (prompt string, duration int, err error) {
	data, err := io.ReadAll(io.LimitReader(body, maxBodyBytes+1))
	if err != nil {
		return "", 0, bodyError(fmt.Sprintf("failed to read body: %v", err))
	}
	if len(data) > maxBodyBytes {
		return "", 0, bodyError("body too large")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return "", 0, bodyError(fmt.Sprintf("invalid JSON: %v", err))
	}

	if err := v.schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return "", 0, &ValidationError{Fields: fieldErrors(verr)}
		}
		return "", 0, bodyError(err.Error())
	}

	var req GenerateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return "", 0, bodyError(fmt.Sprintf("invalid JSON: %v", err))
	}

	duration = v.task.DefaultDuration()
	if req.Duration != nil {
		duration = int(*req.Duration)
	}
	return req.Prompt, duration, nil
}

func bodyError(msg string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Loc: []string{"body"}, Msg: msg}}}
}

// fieldErrors flattens the schema error tree into its leaves.
func fieldErrors(verr *jsonschema.ValidationError) []FieldError {
	if len(verr.Causes) == 0 {
		return []FieldError{{Loc: location(verr.InstanceLocation), Msg: verr.Message}}
	}
	var out []FieldError
	for _, cause := range verr.Causes {
		out = append(out, fieldErrors(cause)...)
	}
	return out
}

func location(instance string) []string {
	loc := []string{"body"}
	for _, part := range strings.Split(strings.Trim(instance, "/"), "/") {
		if part != "" {
			loc = append(loc, part)
		}
	}
	return loc
}

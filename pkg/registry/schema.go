package registry

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"

	mcperrors "github.com/ajitpratap0/mcp-session-go/pkg/errors"
)

// Argument types accepted in an Argument declaration
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
)

// Argument declares one named input of a tool
type Argument struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

type objectSchema struct {
	Type                 string                    `json:"type"`
	Properties           map[string]propertySchema `json:"properties"`
	Required             []string                  `json:"required,omitempty"`
	AdditionalProperties bool                      `json:"additionalProperties"`
}

type propertySchema struct {
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// argumentSchema builds the JSON Schema for an argument list
func argumentSchema(args []Argument) (json.RawMessage, error) {
	s := objectSchema{Type: TypeObject, Properties: make(map[string]propertySchema, len(args)), AdditionalProperties: true}
	for _, a := range args {
		if a.Name == "" {
			return nil, fmt.Errorf("argument without a name")
		}
		if _, dup := s.Properties[a.Name]; dup {
			return nil, fmt.Errorf("argument %q declared twice", a.Name)
		}
		switch a.Type {
		case "", TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeObject, TypeArray:
		default:
			return nil, fmt.Errorf("argument %q has unknown type %q", a.Name, a.Type)
		}
		s.Properties[a.Name] = propertySchema{Type: a.Type, Description: a.Description}
		if a.Required {
			s.Required = append(s.Required, a.Name)
		}
	}
	return json.Marshal(s)
}

// reflectSchema reflects the input schema of A with every property inlined
func reflectSchema[A any]() (json.RawMessage, error) {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
		Anonymous:      true,
	}
	s := r.Reflect(new(A))
	if s == nil || s.Type != TypeObject {
		return nil, fmt.Errorf("arguments must be a struct, got %T", *new(A))
	}
	s.Version = ""
	return json.Marshal(s)
}

// validator checks argument documents against a compiled schema
type validator struct {
	target string
	schema *gojsonschema.Schema
}

func newValidator(target string, schema json.RawMessage) (*validator, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("compiling schema for %s: %w", target, err)
	}
	return &validator{target: target, schema: compiled}, nil
}

// validate returns an InvalidArgument error listing every violation
func (v *validator) validate(doc gojsonschema.JSONLoader) error {
	result, err := v.schema.Validate(doc)
	if err != nil {
		return mcperrors.InvalidArgument(v.target, mcperrors.Violation{Field: "(root)", Reason: err.Error()})
	}
	if result.Valid() {
		return nil
	}

	violations := make([]mcperrors.Violation, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, mcperrors.Violation{Field: violationField(desc), Reason: desc.Description()})
	}
	return mcperrors.InvalidArgument(v.target, violations...)
}

func (v *validator) validateJSON(args json.RawMessage) error {
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage("{}")
	}
	return v.validate(gojsonschema.NewBytesLoader(args))
}

// violationField names the offending argument. Missing required properties
// are reported against the root, so the property name comes from the details.
func violationField(desc gojsonschema.ResultError) string {
	if desc.Type() == "required" {
		if p, ok := desc.Details()["property"].(string); ok {
			return p
		}
	}
	return strings.TrimPrefix(desc.Field(), "(root).")
}

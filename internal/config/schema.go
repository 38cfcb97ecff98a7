package config

import (
	"encoding/json"
	"reflect"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-engine/internal/intake"
	"github.com/rxtech-lab/argo-engine/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	decimalType      = reflect.TypeOf(decimal.Decimal{})
	durationType     = reflect.TypeOf(time.Duration(0))
	optionalTimeType = reflect.TypeOf(optional.None[time.Time]())
	optionalIntType  = reflect.TypeOf(optional.None[int]())
	policyType       = reflect.TypeOf(intake.Policy(""))
)

// GenerateSchema describes the YAML file format as a JSON schema.
func (c *RunConfig) GenerateSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		Mapper:                     mapType,
	}

	schema := reflector.Reflect(c)
	schema.Title = "argo-engine-run-config"
	schema.Description = "Configuration schema for a run"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema
}

// GenerateSchemaJSON renders GenerateSchema as indented JSON.
func (c *RunConfig) GenerateSchemaJSON() (string, error) {
	schemaBytes, err := json.MarshalIndent(c.GenerateSchema(), "", "  ")
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to render config schema", err)
	}

	return string(schemaBytes), nil
}

func mapType(t reflect.Type) *jsonschema.Schema {
	switch t {
	case decimalType:
		return &jsonschema.Schema{
			OneOf: []*jsonschema.Schema{
				{Type: "string", Pattern: `^-?[0-9]+(\.[0-9]+)?$`},
				{Type: "number"},
			},
		}
	case durationType:
		return &jsonschema.Schema{Type: "string", Description: "Go duration such as 30s or 5m"}
	case optionalTimeType:
		return &jsonschema.Schema{Type: "string", Format: "date-time"}
	case optionalIntType:
		return &jsonschema.Schema{Type: "integer", Minimum: json.Number("0")}
	case policyType:
		return &jsonschema.Schema{
			Type: "string",
			Enum: []any{string(intake.PolicyBlock), string(intake.PolicyDrop)},
		}
	}

	return nil
}

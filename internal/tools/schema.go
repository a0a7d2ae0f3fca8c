package tools

import "github.com/google/jsonschema-go/jsonschema"

func object(required []string, props map[string]*jsonschema.Schema) *jsonschema.Schema {
	if props == nil {
		props = map[string]*jsonschema.Schema{}
	}
	return &jsonschema.Schema{Type: "object", Properties: props, Required: required}
}

func str(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: desc}
}

func nonEmpty(desc string) *jsonschema.Schema {
	min := 1
	return &jsonschema.Schema{Type: "string", Description: desc, MinLength: &min}
}

func boolean(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "boolean", Description: desc}
}

func number(desc string, min float64) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "number", Description: desc, Minimum: &min}
}

func integer(desc string, min float64) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "integer", Description: desc, Minimum: &min}
}

func stringList(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "array", Description: desc, Items: &jsonschema.Schema{Type: "string"}}
}

func enum(desc string, values ...string) *jsonschema.Schema {
	vals := make([]any, len(values))
	for i, v := range values {
		vals[i] = v
	}
	return &jsonschema.Schema{Type: "string", Description: desc, Enum: vals}
}

const (
	elementDesc = "Human-readable element description used to obtain permission to interact with the element"
	refDesc     = "Exact target element reference from the page snapshot"
)

// elementProps returns the element/ref pair with the given prefix, e.g.
// "start" gives startElement and startRef.
func elementProps(props map[string]*jsonschema.Schema, prefix string) map[string]*jsonschema.Schema {
	el, ref := "element", "ref"
	if prefix != "" {
		el, ref = prefix+"Element", prefix+"Ref"
	}
	props[el] = str(elementDesc)
	props[ref] = nonEmpty(refDesc)
	return props
}

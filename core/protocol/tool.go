package protocol

// Tool describes a function the model may call. Parameters is a JSON Schema
// object describing the call arguments.
type Tool struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Parameters  map[string]any `json:"parameters" yaml:"parameters"`
}

// Property is one named argument in an ObjectSchema.
type Property struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// ObjectSchema builds a JSON Schema object from the given properties.
func ObjectSchema(props ...Property) map[string]any {
	properties := make(map[string]any, len(props))
	var required []string
	for _, p := range props {
		properties[p.Name] = map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

package specialist

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RouterDefinition configures the primary router. Every listed tool is
// registered in the safe tier.
type RouterDefinition struct {
	Persona string   `json:"persona,omitempty" yaml:"persona,omitempty"`
	Tools   []string `json:"tools,omitempty" yaml:"tools,omitempty"`
	Agent   string   `json:"agent,omitempty" yaml:"agent,omitempty"`
}

// Definition is one row of the specialist table.
type Definition struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name,omitempty" yaml:"name,omitempty"`
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
	Persona      string   `json:"persona,omitempty" yaml:"persona,omitempty"`
	Safe         []string `json:"safe,omitempty" yaml:"safe,omitempty"`
	Sensitive    []string `json:"sensitive,omitempty" yaml:"sensitive,omitempty"`
	Agent        string   `json:"agent,omitempty" yaml:"agent,omitempty"`
	DelegateTool string   `json:"delegate_tool,omitempty" yaml:"delegate_tool,omitempty"`
}

// DisplayName returns Name, falling back to a name derived from the ID.
func (d *Definition) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID + " specialist"
}

// DelegationTool returns the router tool that hands control to this
// specialist.
func (d *Definition) DelegationTool() string {
	if d.DelegateTool != "" {
		return d.DelegateTool
	}
	return "to_" + d.ID
}

// Catalog is the full specialist table.
type Catalog struct {
	Router      RouterDefinition `json:"router" yaml:"router"`
	Specialists []Definition     `json:"specialists" yaml:"specialists"`
}

// ParseCatalog decodes a YAML or JSON catalogue and validates it.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadCatalog reads and parses the catalogue at path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// Validate checks IDs and delegation tool names for collisions.
func (c *Catalog) Validate() error {
	ids := make(map[string]bool, len(c.Specialists))
	delegations := make(map[string]string, len(c.Specialists))
	for _, name := range c.Router.Tools {
		delegations[name] = RouterID
	}

	for i := range c.Specialists {
		d := &c.Specialists[i]
		if d.ID == "" {
			return fmt.Errorf("%w: specialists[%d]", ErrEmptyID, i)
		}
		if d.ID == RouterID {
			return fmt.Errorf("%w: %s", ErrReservedID, d.ID)
		}
		if ids[d.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateSpecialist, d.ID)
		}
		ids[d.ID] = true

		tool := d.DelegationTool()
		if owner, taken := delegations[tool]; taken {
			return fmt.Errorf("%w: %s (%s and %s)", ErrDuplicateDelegation, tool, owner, d.ID)
		}
		delegations[tool] = d.ID
	}

	return nil
}

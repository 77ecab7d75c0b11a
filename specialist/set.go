package specialist

import (
	"context"
	"fmt"
	"time"

	"github.com/tailored-agentic-units/dispatch/core/protocol"
	"github.com/tailored-agentic-units/dispatch/observability"
	"github.com/tailored-agentic-units/dispatch/tools"
)

// EventMissingTool is emitted when the catalogue names a tool the toolbox
// does not provide. The tool is skipped.
const EventMissingTool observability.EventType = "specialist.catalog.missing_tool"

const defaultRouterPersona = "You are a helpful customer support assistant. " +
	"Use the provided tools to search for information and assist the user's queries. " +
	"Delegate to a specialized assistant whenever the user needs one; " +
	"the user is not aware of the different specialized assistants, so do not mention them. " +
	"When searching, be persistent. Expand your query bounds if the first search returns no results." +
	"\n\nCurrent user wallet address: {{.wallet_address}}\n" +
	"\nCurrent time: {{.time}}."

const defaultSpecialistPersona = "You are the {{.name}}. " +
	"The primary assistant delegates work to you whenever the user needs your help. " +
	"Confirm the details with the user before acting. " +
	"If you need more information or the user changes their mind, escalate the task back to the main assistant. " +
	"Remember that a task isn't completed until after the relevant tool has successfully been used." +
	"\n\nCurrent user wallet address: {{.wallet_address}}\n" +
	"\nCurrent time: {{.time}}."

// Set is the immutable collection of units built from a catalogue.
type Set struct {
	router      *Specialist
	units       map[string]*Specialist
	order       []string
	delegations map[string]string
}

// Build constructs the router and every specialist from cat, binding tool
// implementations from box. Tools the toolbox lacks are reported to
// observer and skipped. Escalate is added to every specialist; the router
// gets one control-tier delegation tool per specialist.
func Build(cat *Catalog, box *tools.Toolbox, observer observability.Observer) (*Set, error) {
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	if observer == nil {
		observer = observability.NoOpObserver{}
	}

	routerPersona := cat.Router.Persona
	if routerPersona == "" {
		routerPersona = defaultRouterPersona
	}
	router, err := newUnit(RouterID, "Primary Assistant", "routes the user to a specialist", cat.Router.Agent, routerPersona)
	if err != nil {
		return nil, err
	}
	if err := bindAll(router, cat.Router.Tools, tools.TierSafe, box, observer); err != nil {
		return nil, err
	}

	set := &Set{
		router:      router,
		units:       make(map[string]*Specialist, len(cat.Specialists)),
		order:       make([]string, 0, len(cat.Specialists)),
		delegations: make(map[string]string, len(cat.Specialists)),
	}

	for i := range cat.Specialists {
		def := &cat.Specialists[i]

		persona := def.Persona
		if persona == "" {
			persona = defaultSpecialistPersona
		}
		unit, err := newUnit(def.ID, def.DisplayName(), def.Description, def.Agent, persona)
		if err != nil {
			return nil, err
		}

		if err := bindAll(unit, def.Safe, tools.TierSafe, box, observer); err != nil {
			return nil, err
		}
		if err := bindAll(unit, def.Sensitive, tools.TierSensitive, box, observer); err != nil {
			return nil, err
		}
		if err := unit.Registry.Register(tools.EscalateDescriptor()); err != nil {
			return nil, fmt.Errorf("specialist %s: %w", def.ID, err)
		}

		if err := router.Registry.Register(delegationDescriptor(def)); err != nil {
			return nil, fmt.Errorf("router delegation to %s: %w", def.ID, err)
		}

		set.units[def.ID] = unit
		set.order = append(set.order, def.ID)
		set.delegations[def.DelegationTool()] = def.ID
	}

	return set, nil
}

func bindAll(unit *Specialist, names []string, tier tools.Tier, box *tools.Toolbox, observer observability.Observer) error {
	for _, name := range names {
		d, err := box.Bind(name, tier)
		if err != nil {
			observer.OnEvent(context.Background(), observability.Event{
				Type:      EventMissingTool,
				Level:     observability.LevelWarning,
				Timestamp: time.Now(),
				Source:    "specialist.Build",
				Data: map[string]any{
					"specialist": unit.ID,
					"tool":       name,
					"tier":       tier.String(),
				},
			})
			continue
		}
		if err := unit.Registry.Register(d); err != nil {
			return fmt.Errorf("specialist %s: %w", unit.ID, err)
		}
	}
	return nil
}

func delegationDescriptor(def *Definition) tools.Descriptor {
	subject := def.Description
	if subject == "" {
		subject = def.ID + " operations"
	}
	return tools.Descriptor{
		Tool: protocol.Tool{
			Name:        def.DelegationTool(),
			Description: "Transfer work to a specialized assistant to handle " + subject + ".",
			Parameters: protocol.ObjectSchema(protocol.Property{
				Name:        "request",
				Type:        "string",
				Description: "Any necessary followup questions the " + def.DisplayName() + " should clarify before proceeding.",
				Required:    true,
			}),
		},
		Tier: tools.TierControl,
	}
}

// Router returns the primary router.
func (s *Set) Router() *Specialist {
	return s.router
}

// Get returns the specialist with id. The router is not returned by Get.
func (s *Set) Get(id string) (*Specialist, bool) {
	u, ok := s.units[id]
	return u, ok
}

// Unit resolves a dialog stack entry to its unit. The empty ID and RouterID
// resolve to the router.
func (s *Set) Unit(id string) (*Specialist, error) {
	if id == "" || id == RouterID {
		return s.router, nil
	}
	if u, ok := s.units[id]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSpecialist, id)
}

// IDs returns specialist IDs in catalogue order.
func (s *Set) IDs() []string {
	ids := make([]string, len(s.order))
	copy(ids, s.order)
	return ids
}

// Specialists returns every specialist in catalogue order.
func (s *Set) Specialists() []*Specialist {
	units := make([]*Specialist, 0, len(s.order))
	for _, id := range s.order {
		units = append(units, s.units[id])
	}
	return units
}

// Classify returns the tier of name in the registry of unit id. Unknown
// names yield tools.ErrUnregisteredTool.
func (s *Set) Classify(id, name string) (tools.Tier, error) {
	u, err := s.Unit(id)
	if err != nil {
		return "", err
	}
	return u.Registry.Classify(name)
}

// Resolve maps a router delegation tool to the specialist it targets.
func (s *Set) Resolve(tool string) (string, bool) {
	id, ok := s.delegations[tool]
	return id, ok
}

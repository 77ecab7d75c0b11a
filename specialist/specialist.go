// Package specialist builds the routing units of the dispatch engine: the
// primary router and the domain specialists it delegates to. Each unit owns
// a persona and a tier-partitioned tool registry. Units are built once from
// a catalogue and are read-only afterwards.
package specialist

import (
	"fmt"
	"maps"
	"strings"
	"text/template"
	"time"

	"github.com/tailored-agentic-units/dispatch/core/protocol"
	"github.com/tailored-agentic-units/dispatch/session"
	"github.com/tailored-agentic-units/dispatch/tools"
)

// RouterID names the primary router. An empty dialog stack resolves to it.
const RouterID = "primary_assistant"

// Persona template keys supplied by the engine in addition to the thread
// metadata.
const (
	KeyTime = "time"
	KeyName = "name"
)

const notProvided = "Not provided"

// Nodes are the FSM node identifiers owned by a unit.
type Nodes struct {
	Reason    string
	Safe      string
	Sensitive string
}

// Specialist is one routing unit. The primary router is a Specialist whose
// control tools are delegations rather than escalate.
type Specialist struct {
	ID          string
	Name        string
	Description string
	Agent       string
	Registry    *tools.Registry
	Nodes       Nodes

	persona *template.Template
}

func newUnit(id, name, description, agentName, persona string) (*Specialist, error) {
	tmpl, err := template.New(id).Option("missingkey=zero").Parse(persona)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPersona, id, err)
	}

	return &Specialist{
		ID:          id,
		Name:        name,
		Description: description,
		Agent:       agentName,
		Registry:    tools.NewRegistry(id),
		Nodes: Nodes{
			Reason:    id,
			Safe:      id + "_safe_tools",
			Sensitive: id + "_sensitive_tools",
		},
		persona: tmpl,
	}, nil
}

// IsRouter reports whether s is the primary router.
func (s *Specialist) IsRouter() bool {
	return s.ID == RouterID
}

// Tools returns the definitions offered to the completion service.
func (s *Specialist) Tools() []protocol.Tool {
	return s.Registry.Tools()
}

// Persona renders the persona with the thread metadata and the current
// time. A missing wallet address renders as "Not provided".
func (s *Specialist) Persona(metadata map[string]string, now time.Time) (string, error) {
	data := maps.Clone(metadata)
	if data == nil {
		data = make(map[string]string, 3)
	}
	if data[session.MetaWalletAddress] == "" {
		data[session.MetaWalletAddress] = notProvided
	}
	data[KeyTime] = now.Format(time.RFC3339)
	data[KeyName] = s.Name

	var b strings.Builder
	if err := s.persona.Execute(&b, data); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrPersona, s.ID, err)
	}
	return b.String(), nil
}

// EntryMessage is the tool result answering a delegation to s. It carries
// the router's request so the specialist starts with the user's intent.
func (s *Specialist) EntryMessage(request string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The assistant is now the %s. ", s.Name)
	b.WriteString("Reflect on the conversation above between the host assistant and the user. ")
	b.WriteString("The user's intent is not yet satisfied. Use the provided tools to assist the user. ")
	if request = strings.TrimSpace(request); request != "" {
		fmt.Fprintf(&b, "Request from the host assistant: %s. ", request)
	}
	fmt.Fprintf(&b, "Remember, you are the %s, and the task is not complete until the relevant tool has been invoked successfully. ", s.Name)
	fmt.Fprintf(&b, "If the user changes their mind or needs help with another task, call %s to return control to the host assistant. ", tools.Escalate)
	b.WriteString("Do not mention who you are; act as the proxy for the assistant.")
	return b.String()
}

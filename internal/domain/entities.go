package domain

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultConnectionName names the connection built from mongoose.url.
const DefaultConnectionName = "default"

// ConnectionTarget describes one MongoDB endpoint.
type ConnectionTarget struct {
	URL               string                 `mapstructure:"url" json:"url" validate:"required,startswith=mongodb"`
	ConnectionOptions map[string]interface{} `mapstructure:"connectionOptions" json:"connectionOptions,omitempty"`
}

// MongooseSettings is the optional "mongoose" section of the server settings.
type MongooseSettings struct {
	URL               string                      `mapstructure:"url" json:"url,omitempty" validate:"omitempty,startswith=mongodb"`
	ConnectionOptions map[string]interface{}      `mapstructure:"connectionOptions" json:"connectionOptions,omitempty"`
	URLs              map[string]ConnectionTarget `mapstructure:"urls" json:"urls,omitempty" validate:"omitempty,dive"`
}

func (s *MongooseSettings) IsEmpty() bool {
	return s == nil || (s.URL == "" && len(s.ConnectionOptions) == 0 && len(s.URLs) == 0)
}

// ConnectionPlan is one of NoConnection, SingleConnection or NamedConnections.
type ConnectionPlan interface {
	isConnectionPlan()
	// Targets returns every connection of the plan sorted by name.
	Targets() []NamedTarget
}

type NamedTarget struct {
	Name   string
	Target ConnectionTarget
}

type NoConnection struct{}

type SingleConnection struct {
	Name   string
	Target ConnectionTarget
}

type NamedConnections struct {
	targets map[string]NamedTarget
}

func (NoConnection) isConnectionPlan()     {}
func (SingleConnection) isConnectionPlan() {}
func (NamedConnections) isConnectionPlan() {}

func (NoConnection) Targets() []NamedTarget { return nil }

func (c SingleConnection) Targets() []NamedTarget {
	return []NamedTarget{{Name: c.Name, Target: c.Target}}
}

func (c NamedConnections) Targets() []NamedTarget {
	out := make([]NamedTarget, 0, len(c.targets))
	for _, t := range c.targets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c NamedConnections) Len() int { return len(c.targets) }

func (c NamedConnections) Get(name string) (ConnectionTarget, bool) {
	t, ok := c.targets[strings.ToLower(name)]
	return t.Target, ok
}

// NewNamedConnections builds a NamedConnections plan. Names are compared
// case-insensitively and a repeated name is an error, never an overwrite.
func NewNamedConnections(targets ...NamedTarget) (NamedConnections, error) {
	set := NamedConnections{targets: make(map[string]NamedTarget, len(targets))}
	for _, t := range targets {
		if err := validateTarget(t.Name, t.Target); err != nil {
			return NamedConnections{}, err
		}
		key := strings.ToLower(t.Name)
		if existing, ok := set.targets[key]; ok {
			return NamedConnections{}, fmt.Errorf("%w: %q conflicts with %q", ErrDuplicateConnection, t.Name, existing.Name)
		}
		set.targets[key] = t
	}
	return set, nil
}

// ResolveConnectionPlan turns the mongoose settings into a ConnectionPlan.
//
// mongoose.url (with mongoose.connectionOptions) becomes the "default"
// connection. When urls is also set the default joins the named connections,
// unless urls already declares "default", which is rejected.
func ResolveConnectionPlan(settings *MongooseSettings) (ConnectionPlan, error) {
	if settings.IsEmpty() {
		return NoConnection{}, nil
	}

	if settings.URL == "" && len(settings.ConnectionOptions) > 0 {
		return nil, ErrOptionsWithoutURL
	}

	if len(settings.URLs) == 0 {
		target := ConnectionTarget{URL: settings.URL, ConnectionOptions: settings.ConnectionOptions}
		if err := validateTarget(DefaultConnectionName, target); err != nil {
			return nil, err
		}
		return SingleConnection{Name: DefaultConnectionName, Target: target}, nil
	}

	names := make([]string, 0, len(settings.URLs))
	for name := range settings.URLs {
		names = append(names, name)
	}
	sort.Strings(names)

	targets := make([]NamedTarget, 0, len(names)+1)
	for _, name := range names {
		if settings.URL != "" && strings.EqualFold(name, DefaultConnectionName) {
			return nil, ErrAmbiguousDefault
		}
		targets = append(targets, NamedTarget{Name: name, Target: settings.URLs[name]})
	}
	if settings.URL != "" {
		targets = append(targets, NamedTarget{
			Name:   DefaultConnectionName,
			Target: ConnectionTarget{URL: settings.URL, ConnectionOptions: settings.ConnectionOptions},
		})
	}

	return NewNamedConnections(targets...)
}

func validateTarget(name string, target ConnectionTarget) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty connection name", ErrInvalidConnection)
	}
	if strings.TrimSpace(target.URL) == "" {
		return fmt.Errorf("%w: connection %q has no url", ErrInvalidConnection, name)
	}
	return nil
}

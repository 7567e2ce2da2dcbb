package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

// TypeOptions configures a single ticket type.
type TypeOptions struct {
	Category string `yaml:"category"`
	Limit    int    `yaml:"limit"`
	Welcome  string `yaml:"welcome"`
}

// TypeOptionsSet maps each ticket type to its options.
type TypeOptionsSet map[domain.TicketType]TypeOptions

// DefaultTypeOptions returns the built-in per-type configuration.
func DefaultTypeOptions() TypeOptionsSet {
	return TypeOptionsSet{
		domain.TicketTypeHelp: {
			Category: "Help Tickets",
			Limit:    3,
			Welcome:  "Please describe the challenge you need help with and what you have tried so far.",
		},
		domain.TicketTypeSubmit: {
			Category: "Submit Tickets",
			Limit:    1,
			Welcome:  "Please post your submission and a short writeup. An admin will review it shortly.",
		},
		domain.TicketTypeMisc: {
			Category: "Misc Tickets",
			Limit:    1,
			Welcome:  "Please describe your request. An admin will be with you shortly.",
		},
	}
}

// LoadTypeOptions reads a YAML file of the form
//
//	help:
//	  category: Help Tickets
//	  limit: 3
//	  welcome: ...
func LoadTypeOptions(path string) (TypeOptionsSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ticket options: %w", err)
	}
	var parsed map[string]TypeOptions
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse ticket options: %w", err)
	}
	set := make(TypeOptionsSet, len(parsed))
	for name, opts := range parsed {
		t, err := domain.ParseTicketType(name)
		if err != nil {
			return nil, fmt.Errorf("ticket options: %q: %w", name, err)
		}
		set[t] = opts
	}
	return set, nil
}

// Merge overlays non-zero fields of other onto a copy of s.
func (s TypeOptionsSet) Merge(other TypeOptionsSet) TypeOptionsSet {
	out := make(TypeOptionsSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range other {
		cur := out[k]
		if v.Category != "" {
			cur.Category = v.Category
		}
		if v.Limit > 0 {
			cur.Limit = v.Limit
		}
		if v.Welcome != "" {
			cur.Welcome = v.Welcome
		}
		out[k] = cur
	}
	return out
}

// Validate ensures every ticket type is configured.
func (s TypeOptionsSet) Validate() error {
	for _, t := range domain.TicketTypes {
		opts, ok := s[t]
		if !ok {
			return fmt.Errorf("invalid config: ticket type %s not configured", t)
		}
		if opts.Category == "" {
			return fmt.Errorf("invalid config: ticket type %s has no category", t)
		}
		if opts.Limit <= 0 {
			return fmt.Errorf("invalid config: ticket type %s has no limit", t)
		}
	}
	return nil
}

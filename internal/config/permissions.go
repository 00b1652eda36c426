package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fe-row/AEGIS/internal/domain/policy"
)

// PermissionPack is a standalone grants file loaded with --permissions.
// Packs let operators ship permission sets separately from the main
// configuration, e.g. one pack per team or environment.
//
// Schema:
//
//	version: 1
//	grants:
//	  - agent_id: research-bot
//	    service: email
//	    allowed_actions: [send_email]
//	    max_requests_per_hour: 100
//	    time_window_start: "08:00"
//	    time_window_end: "18:00"
//	    requires_hitl: false
//	    condition: 'params.to.endsWith("@corp.example")'
type PermissionPack struct {
	// Version is the pack schema version. Zero (absent) is treated as 1.
	Version int `yaml:"version"`

	// Grants are the permission grants, each naming its agent.
	Grants []PackGrant `yaml:"grants"`
}

// PackGrant is one permission grant in a pack file. It mirrors
// PermissionConfig with an explicit agent binding.
type PackGrant struct {
	AgentID              string   `yaml:"agent_id"`
	Service              string   `yaml:"service"`
	AllowedActions       []string `yaml:"allowed_actions"`
	MaxRequestsPerHour   int      `yaml:"max_requests_per_hour"`
	TimeWindowStart      string   `yaml:"time_window_start"`
	TimeWindowEnd        string   `yaml:"time_window_end"`
	MaxRecordsPerRequest int      `yaml:"max_records_per_request"`
	RequiresHITL         bool     `yaml:"requires_hitl"`
	Condition            string   `yaml:"condition"`
	Active               *bool    `yaml:"active"`
}

// Permission converts the grant into its domain form. Grants are active
// unless explicitly disabled.
func (g PackGrant) Permission() policy.Permission {
	active := true
	if g.Active != nil {
		active = *g.Active
	}
	return policy.Permission{
		Service:              g.Service,
		AllowedActions:       g.AllowedActions,
		MaxRequestsPerHour:   g.MaxRequestsPerHour,
		TimeWindowStart:      g.TimeWindowStart,
		TimeWindowEnd:        g.TimeWindowEnd,
		MaxRecordsPerRequest: g.MaxRecordsPerRequest,
		RequiresHITL:         g.RequiresHITL,
		Condition:            g.Condition,
		Active:               active,
	}
}

// LoadPermissionPack reads and validates a permission pack file.
// Unknown fields are rejected so typos fail loudly instead of silently
// granting nothing.
func LoadPermissionPack(path string) (*PermissionPack, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open permission pack: %w", err)
	}
	defer func() { _ = f.Close() }()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var pack PermissionPack
	if err := dec.Decode(&pack); err != nil {
		return nil, fmt.Errorf("failed to parse permission pack %s: %w", path, err)
	}

	if err := pack.Validate(); err != nil {
		return nil, fmt.Errorf("permission pack %s: %w", path, err)
	}

	return &pack, nil
}

// Validate checks the pack's structure. CEL conditions are validated
// later when the grants are loaded into the gate.
func (p *PermissionPack) Validate() error {
	if p.Version != 0 && p.Version != 1 {
		return fmt.Errorf("unsupported pack version %d", p.Version)
	}
	if len(p.Grants) == 0 {
		return errors.New("pack contains no grants")
	}

	for i, g := range p.Grants {
		if g.AgentID == "" {
			return fmt.Errorf("grants[%d]: agent_id is required", i)
		}
		if g.Service == "" {
			return fmt.Errorf("grants[%d]: service is required", i)
		}
		if len(g.AllowedActions) == 0 {
			return fmt.Errorf("grants[%d]: allowed_actions must not be empty", i)
		}
		if !validClock(g.TimeWindowStart) {
			return fmt.Errorf("grants[%d]: bad time_window_start: %q", i, g.TimeWindowStart)
		}
		if !validClock(g.TimeWindowEnd) {
			return fmt.Errorf("grants[%d]: bad time_window_end: %q", i, g.TimeWindowEnd)
		}
	}

	return nil
}

// ByAgent groups the pack's grants by agent ID in declaration order.
func (p *PermissionPack) ByAgent() map[string][]policy.Permission {
	out := make(map[string][]policy.Permission)
	for _, g := range p.Grants {
		out[g.AgentID] = append(out[g.AgentID], g.Permission())
	}
	return out
}

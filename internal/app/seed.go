package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"querydesk/internal/domain"
)

// Seed is the bootstrap file format. It declares principals, groups and data
// sources that must exist at startup.
//
//	principals:
//	  - name: alice
//	    api_keys: [alice-dev-key]
//	groups:
//	  - name: analysts
//	    members: [alice]
//	data_sources:
//	  - name: warehouse
//	    type: duckdb
//	    options: /data/warehouse.duckdb
//	    groups: [analysts]
type Seed struct {
	Principals  []SeedPrincipal  `yaml:"principals"`
	Groups      []SeedGroup      `yaml:"groups"`
	DataSources []SeedDataSource `yaml:"data_sources"`
}

// SeedPrincipal declares a principal and its raw user API keys.
type SeedPrincipal struct {
	Name    string   `yaml:"name"`
	Type    string   `yaml:"type"`
	Admin   bool     `yaml:"admin"`
	APIKeys []string `yaml:"api_keys"`
}

// SeedGroup declares a group and its members by principal name.
type SeedGroup struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Members     []string `yaml:"members"`
}

// SeedDataSource declares a data source attached to groups by name.
type SeedDataSource struct {
	Name               string   `yaml:"name"`
	Type               string   `yaml:"type"`
	Options            string   `yaml:"options"`
	Groups             []string `yaml:"groups"`
	ViewOnly           bool     `yaml:"view_only"`
	QueueName          string   `yaml:"queue_name"`
	ScheduledQueueName string   `yaml:"scheduled_queue_name"`
}

// LoadSeed reads and parses a bootstrap file.
func LoadSeed(path string) (*Seed, error) {
	b, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("read bootstrap file: %w", err)
	}
	var s Seed
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse bootstrap file %s: %w", path, err)
	}
	return &s, nil
}

// APIKeyCreator stores hashed user API keys.
type APIKeyCreator interface {
	Create(ctx context.Context, key *domain.APIKey) (*domain.APIKey, error)
}

// Seeder applies a Seed. Applying is idempotent: anything that already exists
// by name is left as it is.
type Seeder struct {
	Principals  domain.PrincipalRepository
	Groups      domain.GroupRepository
	APIKeys     APIKeyCreator
	DataSources domain.DataSourceRepository
	Logger      *slog.Logger
}

// Apply creates whatever the seed declares that does not exist yet.
func (s *Seeder) Apply(ctx context.Context, seed *Seed) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	principalIDs := make(map[string]string, len(seed.Principals))
	for _, sp := range seed.Principals {
		p, created, err := s.ensurePrincipal(ctx, sp)
		if err != nil {
			return err
		}
		principalIDs[p.Name] = p.ID
		if created {
			logger.InfoContext(ctx, "seeded principal", "name", p.Name, "admin", p.IsAdmin)
		}
		for _, raw := range sp.APIKeys {
			if err := s.ensureAPIKey(ctx, p, raw); err != nil {
				return err
			}
		}
	}

	groupIDs := make(map[string]string, len(seed.Groups))
	for _, sg := range seed.Groups {
		g, err := s.ensureGroup(ctx, sg)
		if err != nil {
			return err
		}
		groupIDs[g.Name] = g.ID
		for _, member := range sg.Members {
			id, err := s.principalID(ctx, principalIDs, member)
			if err != nil {
				return fmt.Errorf("group %q: %w", sg.Name, err)
			}
			if err := s.Groups.AddMember(ctx, g.ID, id); err != nil && !isConflict(err) {
				return fmt.Errorf("add %q to group %q: %w", member, sg.Name, err)
			}
		}
	}

	for _, sd := range seed.DataSources {
		if _, err := s.DataSources.GetByName(ctx, sd.Name); err == nil {
			continue
		} else if !isNotFound(err) {
			return fmt.Errorf("lookup data source %q: %w", sd.Name, err)
		}
		req := domain.CreateDataSourceRequest{
			Name: sd.Name, Type: sd.Type, Options: sd.Options, ViewOnly: sd.ViewOnly,
			QueueName: sd.QueueName, ScheduledQueueName: sd.ScheduledQueueName,
		}
		for _, name := range sd.Groups {
			id, err := s.groupID(ctx, groupIDs, name)
			if err != nil {
				return fmt.Errorf("data source %q: %w", sd.Name, err)
			}
			req.Groups = append(req.Groups, id)
		}
		if err := req.Validate(); err != nil {
			return fmt.Errorf("data source %q: %w", sd.Name, err)
		}
		ds, err := s.DataSources.Create(ctx, &domain.DataSource{
			Name:               req.Name,
			Type:               req.Type,
			Options:            req.Options,
			Groups:             req.Groups,
			ViewOnly:           req.ViewOnly,
			QueueName:          req.QueueName,
			ScheduledQueueName: req.ScheduledQueueName,
		})
		if err != nil {
			return fmt.Errorf("create data source %q: %w", sd.Name, err)
		}
		logger.InfoContext(ctx, "seeded data source", "name", ds.Name, "type", ds.Type)
	}
	return nil
}

func (s *Seeder) ensurePrincipal(ctx context.Context, sp SeedPrincipal) (*domain.Principal, bool, error) {
	p, err := s.Principals.GetByName(ctx, sp.Name)
	if err == nil {
		return p, false, nil
	}
	if !isNotFound(err) {
		return nil, false, fmt.Errorf("lookup principal %q: %w", sp.Name, err)
	}
	req := domain.CreatePrincipalRequest{Name: sp.Name, Type: sp.Type, IsAdmin: sp.Admin}
	if err := req.Validate(); err != nil {
		return nil, false, err
	}
	p, err = s.Principals.Create(ctx, &domain.Principal{Name: req.Name, Type: req.Type, IsAdmin: req.IsAdmin})
	if err != nil {
		return nil, false, fmt.Errorf("create principal %q: %w", sp.Name, err)
	}
	return p, true, nil
}

// ensureAPIKey stores raw for p. A key that is already stored is a conflict
// on its hash and is skipped.
func (s *Seeder) ensureAPIKey(ctx context.Context, p *domain.Principal, raw string) error {
	if raw == "" {
		return domain.ErrValidation("principal %q has an empty api key", p.Name)
	}
	prefix := raw
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	_, err := s.APIKeys.Create(ctx, &domain.APIKey{
		PrincipalID: p.ID,
		Name:        "bootstrap",
		KeyPrefix:   prefix,
		KeyHash:     domain.HashAPIKey(raw),
	})
	if err != nil && !isConflict(err) {
		return fmt.Errorf("create api key for %q: %w", p.Name, err)
	}
	return nil
}

func (s *Seeder) ensureGroup(ctx context.Context, sg SeedGroup) (*domain.Group, error) {
	g, err := s.Groups.GetByName(ctx, sg.Name)
	if err == nil {
		return g, nil
	}
	if !isNotFound(err) {
		return nil, fmt.Errorf("lookup group %q: %w", sg.Name, err)
	}
	req := domain.CreateGroupRequest{Name: sg.Name, Description: sg.Description}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	g, err = s.Groups.Create(ctx, &domain.Group{Name: req.Name, Description: req.Description})
	if err != nil {
		return nil, fmt.Errorf("create group %q: %w", sg.Name, err)
	}
	return g, nil
}

func (s *Seeder) principalID(ctx context.Context, known map[string]string, name string) (string, error) {
	if id, ok := known[name]; ok {
		return id, nil
	}
	p, err := s.Principals.GetByName(ctx, name)
	if err != nil {
		return "", fmt.Errorf("unknown principal %q: %w", name, err)
	}
	return p.ID, nil
}

func (s *Seeder) groupID(ctx context.Context, known map[string]string, name string) (string, error) {
	if id, ok := known[name]; ok {
		return id, nil
	}
	g, err := s.Groups.GetByName(ctx, name)
	if err != nil {
		return "", fmt.Errorf("unknown group %q: %w", name, err)
	}
	return g.ID, nil
}

func isNotFound(err error) bool {
	var nf *domain.NotFoundError
	return errors.As(err, &nf)
}

func isConflict(err error) bool {
	var c *domain.ConflictError
	return errors.As(err, &c)
}

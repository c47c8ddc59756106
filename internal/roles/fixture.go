package roles

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/reembolso/internal/shared"
)

// Fixture is an in-memory Source, used for local development and tests.
//
//	users:
//	  - id: 1
//	    name: Ana Lima
//	    colaborador_id: 10
//	    roles: [COLABORADOR, RH]
type Fixture struct {
	users map[int64]fixtureUser
}

type fixtureUser struct {
	ID            int64    `yaml:"id"`
	Name          string   `yaml:"name"`
	ColaboradorID int64    `yaml:"colaborador_id"`
	Roles         []string `yaml:"roles"`
}

type fixtureFile struct {
	Users []fixtureUser `yaml:"users"`
}

// LoadFixtureFile reads a YAML fixture from path.
func LoadFixtureFile(path string) (*Fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("roles: open fixture: %w", err)
	}
	defer f.Close()
	return LoadFixture(f)
}

// LoadFixture decodes a YAML fixture.
func LoadFixture(r io.Reader) (*Fixture, error) {
	var file fixtureFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("roles: decode fixture: %w", err)
	}
	fx := &Fixture{users: make(map[int64]fixtureUser, len(file.Users))}
	for _, u := range file.Users {
		if u.ID == 0 {
			return nil, fmt.Errorf("roles: fixture user %q without id", u.Name)
		}
		for _, name := range u.Roles {
			if _, ok := ParseRole(name); !ok {
				return nil, fmt.Errorf("roles: fixture user %d has unknown role %q", u.ID, name)
			}
		}
		fx.users[u.ID] = u
	}
	return fx, nil
}

// Roles implements Source.
func (f *Fixture) Roles(_ context.Context, userID int64) ([]Role, error) {
	u, ok := f.users[userID]
	if !ok {
		return nil, nil
	}
	out := make([]Role, 0, len(u.Roles))
	for _, name := range u.Roles {
		if role, ok := ParseRole(name); ok {
			out = append(out, role)
		}
	}
	return out, nil
}

// Principal implements Source.
func (f *Fixture) Principal(_ context.Context, userID int64) (shared.Principal, error) {
	u, ok := f.users[userID]
	if !ok {
		return shared.Principal{}, shared.ErrNotFound
	}
	return shared.Principal{UserID: u.ID, Name: u.Name, ColaboradorID: u.ColaboradorID}, nil
}

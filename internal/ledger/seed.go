package ledger

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/septivank/water-metering-ledger/internal/db"
	"gopkg.in/yaml.v3"
)

// Seed lists the users and meters a MemoryStore starts with.
type Seed struct {
	Users  []SeedUser  `yaml:"users"`
	Meters []SeedMeter `yaml:"meters"`
}

type SeedUser struct {
	ID             uuid.UUID `yaml:"id"`
	Email          string    `yaml:"email"`
	Name           string    `yaml:"name"`
	InstallationID string    `yaml:"installation_id"`
}

type SeedMeter struct {
	AccountNumber string     `yaml:"account_number"`
	Model         string     `yaml:"model"`
	OwnerID       *uuid.UUID `yaml:"owner_id"`
	Balance       int64      `yaml:"balance"`
}

// LoadSeed reads a YAML seed file into s.
func (s *MemoryStore) LoadSeed(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("failed to parse seed file: %w", err)
	}
	return s.ApplySeed(seed)
}

// ApplySeed registers every user and meter of seed. Meters must reference known owners.
func (s *MemoryStore) ApplySeed(seed Seed) error {
	for _, u := range seed.Users {
		if u.ID == uuid.Nil {
			return fmt.Errorf("seed user %q has no id", u.Email)
		}
		s.PutUser(db.User{ID: u.ID, Email: u.Email, Name: u.Name, InstallationID: u.InstallationID})
	}
	for _, m := range seed.Meters {
		if m.AccountNumber == "" {
			return errors.New("seed meter without account_number")
		}
		if m.OwnerID != nil {
			s.mu.RLock()
			_, ok := s.users[*m.OwnerID]
			s.mu.RUnlock()
			if !ok {
				return fmt.Errorf("seed meter %s: owner %s: %w", m.AccountNumber, m.OwnerID, ErrNotFound)
			}
		}
		s.PutMeter(db.Meter{
			AccountNumber: m.AccountNumber,
			Model:         db.MeterModel(m.Model),
			OwnerID:       m.OwnerID,
			Balance:       m.Balance,
		})
	}
	return nil
}

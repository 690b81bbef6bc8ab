package database

import (
	"errors"
	"fmt"
	"log"

	"ringline/internal/domain/user"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// seedNamespace makes seeded ids stable across runs.
var seedNamespace = uuid.MustParse("6f1c5a2e-3d44-4b8e-9a57-0c2f1d7e8b90")

// SeedConfig holds configuration for seeding the database
type SeedConfig struct {
	Tenants        []string
	UsersPerTenant int
}

// DefaultSeedConfig returns default seed configuration
func DefaultSeedConfig() *SeedConfig {
	return &SeedConfig{
		Tenants:        []string{"north-store", "south-store"},
		UsersPerTenant: 4,
	}
}

// SeedResult holds the result of the seeding operation
type SeedResult struct {
	Users []user.User
}

var devNames = []string{
	"Alice Johnson",
	"Bob Smith",
	"Charlie Brown",
	"Diana Prince",
	"Edward Chen",
	"Fiona Green",
	"George Miller",
	"Hannah White",
}

// TenantID is the stable id of a seeded tenant.
func TenantID(name string) uuid.UUID {
	return uuid.NewSHA1(seedNamespace, []byte("tenant:"+name))
}

// Seed creates development users per tenant. Running it again is a no-op.
func Seed(db *gorm.DB, cfg *SeedConfig) (*SeedResult, error) {
	if db == nil {
		return nil, errors.New("database not initialized")
	}
	if cfg == nil {
		cfg = DefaultSeedConfig()
	}

	log.Println("Starting database seeding...")

	result := &SeedResult{}
	err := db.Transaction(func(tx *gorm.DB) error {
		for _, tenant := range cfg.Tenants {
			tenantID := TenantID(tenant)
			for i := 0; i < cfg.UsersPerTenant && i < len(devNames); i++ {
				u := user.User{
					ID:          uuid.NewSHA1(seedNamespace, []byte(fmt.Sprintf("user:%s:%d", tenant, i))),
					TenantID:    tenantID,
					DisplayName: devNames[i],
					IsActive:    true,
				}
				if err := tx.Where(user.User{ID: u.ID}).FirstOrCreate(&u).Error; err != nil {
					return fmt.Errorf("failed to seed user %s: %w", u.DisplayName, err)
				}
				result.Users = append(result.Users, u)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Seeded %d users across %d tenants", len(result.Users), len(cfg.Tenants))
	return result, nil
}

// SeedDevelopment seeds the default development data set.
func SeedDevelopment() (*SeedResult, error) {
	return Seed(DB, DefaultSeedConfig())
}

func TableExists(db *gorm.DB, table string) bool {
	return db.Migrator().HasTable(table)
}

func GetTableCount(db *gorm.DB, table string) (int64, error) {
	var count int64
	if err := db.Table(table).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

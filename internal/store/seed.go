package store

import (
	"fmt"

	"gorm.io/gorm"
)

// SeedConfig describes the bootstrap state written on startup.
// AdminPasswordHash must already be hashed; the store never sees plaintext.
type SeedConfig struct {
	AdminLogin        string
	AdminPasswordHash string
	AdminFirstName    string
	AdminLastName     string
	Genres            []string
}

var seedRoles = []Role{
	{Name: RoleAdmin, Description: "Full access: manage books, covers, and statistics"},
	{Name: RoleModerator, Description: "May edit book records"},
	{Name: RoleUser, Description: "May post reviews"},
}

// Seed writes the fixed role set, an initial administrator when the user
// table is empty, and the default genre list when no genres exist yet.
// It is idempotent across restarts.
func (s *GormStore) Seed(cfg SeedConfig) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, role := range seedRoles {
			res := tx.Where("name = ?", role.Name).FirstOrCreate(&Role{}, role)
			if res.Error != nil {
				return fmt.Errorf("seed role %s: %w", role.Name, res.Error)
			}
		}

		if cfg.AdminLogin != "" && cfg.AdminPasswordHash != "" {
			var users int64
			if err := tx.Model(&User{}).Count(&users).Error; err != nil {
				return fmt.Errorf("count users: %w", err)
			}
			if users == 0 {
				var adminRole Role
				if err := tx.Where("name = ?", RoleAdmin).First(&adminRole).Error; err != nil {
					return fmt.Errorf("load admin role: %w", err)
				}
				admin := User{
					Login:        cfg.AdminLogin,
					PasswordHash: cfg.AdminPasswordHash,
					FirstName:    cfg.AdminFirstName,
					LastName:     cfg.AdminLastName,
					RoleID:       adminRole.ID,
				}
				if err := tx.Create(&admin).Error; err != nil {
					return fmt.Errorf("seed admin: %w", err)
				}
			}
		}

		if len(cfg.Genres) > 0 {
			var genres int64
			if err := tx.Model(&Genre{}).Count(&genres).Error; err != nil {
				return fmt.Errorf("count genres: %w", err)
			}
			if genres == 0 {
				for _, name := range cfg.Genres {
					if err := tx.Create(&Genre{Name: name}).Error; err != nil {
						return fmt.Errorf("seed genre %s: %w", name, err)
					}
				}
			}
		}
		return nil
	})
}

package db

import (
	"fmt"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Channel{},
		&models.Customer{},
		&models.Conversation{},
		&models.Message{},
		&models.Bot{},
		&models.Scenario{},
		&models.DispatchJob{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedChannels upserts Channel rows from configuration. Credentials are not
// seeded here; they are set through `parley channel add` so plaintext never
// passes through the config file.
func SeedChannels(db *gorm.DB, channels []config.ChannelConfig) error {
	for _, cc := range channels {
		ch := models.Channel{
			PhoneNumber:      cc.PhoneNumber,
			DisplayName:      cc.DisplayName,
			ProviderNumberID: cc.ProviderNumberID,
			VerifyToken:      cc.VerifyToken,
			Status:           models.ChannelPending,
			Active:           true,
		}

		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider_number_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"phone_number", "display_name", "verify_token"}),
		}).Create(&ch)
		if result.Error != nil {
			return fmt.Errorf("db: seed channel %q: %w", cc.ProviderNumberID, result.Error)
		}
	}
	return nil
}

package db

import (
	"errors"
	"fmt"
	"messenger/models"

	"gorm.io/gorm"
)

// schemaVersion - имя текущей версии схемы в таблице migrations
const schemaVersion = "0001_social_graph_messaging"

// Migrate создает/обновляет таблицы и отмечает примененную версию схемы
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Migration{},
		&models.User{},
		&models.UserTokens{},
		&models.Friend{},
		&models.FriendRequest{},
		&models.Message{},
		&models.Group{},
		&models.GroupMember{},
		&models.GroupMessage{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	var applied models.Migration
	err = db.Where("name = ?", schemaVersion).First(&applied).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to check migration %s: %w", schemaVersion, err)
	}
	if err := db.Create(&models.Migration{Name: schemaVersion}).Error; err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("failed to record migration %s: %w", schemaVersion, err)
	}
	return nil
}

package models

import (
	"context"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/oakfield/lettings_backend/utils"
	"gorm.io/gorm"
)

type Tag struct {
	ID           uint       `gorm:"primary_key" json:"id"`
	RemoteId     *string    `gorm:"size:64;uniqueIndex" json:"remote_id"`
	Name         string     `gorm:"size:100;not null" json:"name"`
	Color        string     `gorm:"size:20" json:"color"`
	DataSource   string     `gorm:"size:32;not null" json:"data_source"`
	LastSyncedAt *time.Time `json:"last_synced_at"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TagLink ties a remote tag to a local entity by remote id.
type TagLink struct {
	ID             uint      `gorm:"primary_key" json:"id"`
	TagRemoteId    string    `gorm:"size:64;not null;uniqueIndex:idx_tag_link,priority:1" json:"tag_remote_id"`
	EntityType     string    `gorm:"size:30;not null;uniqueIndex:idx_tag_link,priority:2" json:"entity_type"`
	EntityRemoteId string    `gorm:"size:64;not null;uniqueIndex:idx_tag_link,priority:3" json:"entity_remote_id"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func FindTagByRemoteId(ctx context.Context, db *gorm.DB, remoteId string) (*Tag, error) {
	var t Tag
	err := db.WithContext(ctx).Where("remote_id = ?", remoteId).Take(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// FindTagById returns utils.ErrorRecordNotFound for a missing row so
// handlers can map it to a 404.
func FindTagById(ctx context.Context, db *gorm.DB, id uint) (*Tag, error) {
	var t Tag
	err := db.WithContext(ctx).Take(&t, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &t, nil
}

// CreateTagLink inserts one tag-to-entity association. A replayed link
// surfaces as utils.ErrorDuplicateRecord so callers count it as a skip.
func CreateTagLink(ctx context.Context, db *gorm.DB, link *TagLink) error {
	err := db.WithContext(ctx).Create(link).Error
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return utils.ErrorDuplicateRecord
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return utils.ErrorDuplicateRecord
		}
		return err
	}
	return nil
}

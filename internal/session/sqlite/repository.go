package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sessionDatamodel "github.com/frahmantamala/facilities-console/internal/core/datamodel/session"
	"github.com/frahmantamala/facilities-console/internal/session"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Open opens the SQLite session store at path.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get session store handle: %w", err)
	}
	// SQLite serialises writers anyway; one connection avoids SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

func (r *Repository) Load(ctx context.Context) (session.Session, error) {
	var entries []sessionDatamodel.Entry
	if err := r.db.WithContext(ctx).Find(&entries).Error; err != nil {
		return session.Session{}, err
	}

	var s session.Session
	for _, e := range entries {
		switch e.Key {
		case sessionDatamodel.KeyAccessToken:
			s.AccessToken = e.Value
		case sessionDatamodel.KeyRefreshToken:
			s.RefreshToken = e.Value
		case sessionDatamodel.KeyUser:
			var acct session.Account
			if err := json.Unmarshal([]byte(e.Value), &acct); err != nil {
				return session.Session{}, fmt.Errorf("decode stored account: %w", err)
			}
			s.Account = &acct
		}
	}
	return s, nil
}

func (r *Repository) Save(ctx context.Context, s session.Session) error {
	now := time.Now()

	values := map[string]string{
		sessionDatamodel.KeyAccessToken:  s.AccessToken,
		sessionDatamodel.KeyRefreshToken: s.RefreshToken,
	}
	if s.Account != nil {
		raw, err := json.Marshal(s.Account)
		if err != nil {
			return fmt.Errorf("encode account: %w", err)
		}
		values[sessionDatamodel.KeyUser] = string(raw)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var upserts []sessionDatamodel.Entry
		var deletes []string
		for key, value := range values {
			if value == "" {
				deletes = append(deletes, key)
				continue
			}
			upserts = append(upserts, sessionDatamodel.Entry{Key: key, Value: value, UpdatedAt: now})
		}
		if s.Account == nil {
			deletes = append(deletes, sessionDatamodel.KeyUser)
		}

		if len(deletes) > 0 {
			if err := tx.Where("name IN ?", deletes).Delete(&sessionDatamodel.Entry{}).Error; err != nil {
				return err
			}
		}
		if len(upserts) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&upserts).Error
	})
}

func (r *Repository) Clear(ctx context.Context) error {
	keys := []string{
		sessionDatamodel.KeyAccessToken,
		sessionDatamodel.KeyRefreshToken,
		sessionDatamodel.KeyUser,
	}
	return r.db.WithContext(ctx).Where("name IN ?", keys).Delete(&sessionDatamodel.Entry{}).Error
}

func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

package settings

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/castellan/chatvault/internal/domain"
	"github.com/castellan/chatvault/internal/pkg/dbctx"
	"github.com/castellan/chatvault/internal/platform/logger"
)

type SettingRepo interface {
	Get(dbc dbctx.Context, id string) (*types.Setting, error)
	GetString(dbc dbctx.Context, id, def string) string
	Set(dbc dbctx.Context, id, value, category string) error
	// Touch writes the current UTC time as the value; used for heartbeats.
	Touch(dbc dbctx.Context, id, category string) error
}

type settingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSettingRepo(db *gorm.DB, log *logger.Logger) SettingRepo {
	return &settingRepo{db: db, log: log.With("repo", "SettingRepo")}
}

func (r *settingRepo) handle(dbc dbctx.Context) *gorm.DB {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx)
}

func (r *settingRepo) Get(dbc dbctx.Context, id string) (*types.Setting, error) {
	if id == "" {
		return nil, fmt.Errorf("missing setting id")
	}
	var s types.Setting
	err := r.handle(dbc).Where("id = ?", id).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *settingRepo) GetString(dbc dbctx.Context, id, def string) string {
	s, err := r.Get(dbc, id)
	if err != nil || s == nil || s.Value == "" {
		return def
	}
	return s.Value
}

func (r *settingRepo) Set(dbc dbctx.Context, id, value, category string) error {
	if id == "" {
		return fmt.Errorf("missing setting id")
	}
	row := &types.Setting{
		ID:        id,
		Value:     value,
		Category:  category,
		UpdatedAt: time.Now().UTC(),
	}
	return r.handle(dbc).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "category", "updated_at"}),
		}).
		Create(row).Error
}

func (r *settingRepo) Touch(dbc dbctx.Context, id, category string) error {
	return r.Set(dbc, id, time.Now().UTC().Format(time.RFC3339), category)
}

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"resume-vault/internal/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store 封装 SQLite 数据库访问，负责简历、版本链、解析结果的增删查。
type Store struct {
	db *gorm.DB
}

// ResumePatch 描述简历记录的可变字段更新。
type ResumePatch struct {
	Name       *string
	Template   *string
	Status     *model.ResumeStatus
	IsFavorite *bool
	FilePath   *string
	FileExt    *string
	Size       *int64
}

// NewStore 创建 Store 并自动迁移数据表。
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.AutoMigrate(&model.Resume{}, &model.ResumeVersion{}, &model.ParsedResume{}); err != nil {
		return nil, fmt.Errorf("auto migrate models: %w", err)
	}

	return &Store{db: db}, nil
}

// Close 关闭底层数据库连接。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	return nil
}

// CreateResume 写入简历记录。是否为用户首份简历的判断与插入在同一事务内完成，
// 避免并发首次导入同时抢到收藏标记。
func (s *Store) CreateResume(ctx context.Context, resume *model.Resume) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.Resume{}).Where("user_id = ?", resume.UserID).Count(&count).Error; err != nil {
			return fmt.Errorf("count resumes: %w", err)
		}
		resume.IsFavorite = count == 0
		if err := tx.Create(resume).Error; err != nil {
			return fmt.Errorf("insert resume: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create resume: %w", err)
	}
	return nil
}

// ListResumes 返回按更新时间倒序的简历列表。
func (s *Store) ListResumes(ctx context.Context, userID string) ([]model.Resume, error) {
	var resumes []model.Resume
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&resumes).Error; err != nil {
		return nil, fmt.Errorf("list resumes: %w", err)
	}
	return resumes, nil
}

// GetResume 根据 ID 获取简历。
func (s *Store) GetResume(ctx context.Context, id string) (*model.Resume, error) {
	var resume model.Resume
	if err := s.db.WithContext(ctx).First(&resume, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("get resume: %w", err)
	}
	return &resume, nil
}

// UpdateResume 按补丁更新简历字段。
func (s *Store) UpdateResume(ctx context.Context, id string, patch ResumePatch) error {
	values := map[string]any{}
	if patch.Name != nil {
		values["name"] = *patch.Name
	}
	if patch.Template != nil {
		values["template"] = *patch.Template
	}
	if patch.Status != nil {
		values["status"] = *patch.Status
	}
	if patch.IsFavorite != nil {
		values["is_favorite"] = *patch.IsFavorite
	}
	if patch.FilePath != nil {
		values["file_path"] = *patch.FilePath
	}
	if patch.FileExt != nil {
		values["file_ext"] = *patch.FileExt
	}
	if patch.Size != nil {
		values["size"] = *patch.Size
	}
	if len(values) == 0 {
		return nil
	}
	tx := s.db.WithContext(ctx).Model(&model.Resume{}).Where("id = ?", id).Updates(values)
	if tx.Error != nil {
		return fmt.Errorf("update resume: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("update resume: id %s not found", id)
	}
	return nil
}

// DeleteResume 删除简历记录，关联的版本与解析结果一并移除。
func (s *Store) DeleteResume(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("resume_id = ?", id).Delete(&model.ResumeVersion{}).Error; err != nil {
			return fmt.Errorf("delete versions: %w", err)
		}
		if err := tx.Where("resume_id = ?", id).Delete(&model.ParsedResume{}).Error; err != nil {
			return fmt.Errorf("delete parsed resume: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&model.Resume{}).Error; err != nil {
			return fmt.Errorf("delete resume: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete resume: %w", err)
	}
	return nil
}

// HasResumeName 判断用户是否已有同名简历，比较忽略大小写。
// 库中的简历名在导入时已去除扩展名，调用方需传入同样去除扩展名的基础名。
func (s *Store) HasResumeName(ctx context.Context, userID, baseName string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.Resume{}).
		Where("user_id = ? AND LOWER(name) = ?", userID, strings.ToLower(baseName)).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("count resumes by name: %w", err)
	}
	return count > 0, nil
}

// CreateVersion 追加一个版本节点，版本写入后不再修改。
func (s *Store) CreateVersion(ctx context.Context, version *model.ResumeVersion) error {
	if err := s.db.WithContext(ctx).Create(version).Error; err != nil {
		return fmt.Errorf("create version: %w", err)
	}
	return nil
}

// ListVersions 返回按创建时间倒序的版本链。
func (s *Store) ListVersions(ctx context.Context, resumeID string) ([]model.ResumeVersion, error) {
	var versions []model.ResumeVersion
	if err := s.db.WithContext(ctx).
		Where("resume_id = ?", resumeID).
		Order("created_at DESC").
		Find(&versions).Error; err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return versions, nil
}

// LatestVersion 返回版本链头，无版本时返回 nil。
func (s *Store) LatestVersion(ctx context.Context, resumeID string) (*model.ResumeVersion, error) {
	var version model.ResumeVersion
	err := s.db.WithContext(ctx).
		Where("resume_id = ?", resumeID).
		Order("created_at DESC").
		First(&version).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("latest version: %w", err)
	}
	return &version, nil
}

// UpsertParsedResume 写入解析结果，同一简历保留最新一份。
func (s *Store) UpsertParsedResume(ctx context.Context, parsed *model.ParsedResume) error {
	tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "resume_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"raw_text",
			"entities",
			"structured",
			"skills",
			"embedding",
			"updated_at",
		}),
	}).Create(parsed)
	if tx.Error != nil {
		return fmt.Errorf("upsert parsed resume: %w", tx.Error)
	}
	return nil
}

// GetParsedResume 返回简历最新的解析结果。
func (s *Store) GetParsedResume(ctx context.Context, resumeID string) (*model.ParsedResume, error) {
	var parsed model.ParsedResume
	if err := s.db.WithContext(ctx).First(&parsed, "resume_id = ?", resumeID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("get parsed resume: %w", err)
	}
	return &parsed, nil
}

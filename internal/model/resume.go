package model

import (
	"time"

	"gorm.io/datatypes"
)

// ResumeStatus 表示简历的生命周期状态。
type ResumeStatus string

const (
	ResumeStatusActive   ResumeStatus = "Active"
	ResumeStatusDraft    ResumeStatus = "Draft"
	ResumeStatusArchived ResumeStatus = "Archived"
)

// Resume 表示一份已导入的简历记录
// - FilePath/FileExt/Size: 对象存储中的原始文件信息
// - IsFavorite: 用户首份简历在导入时自动标记
// - Applications/Thumbnail: 列表页展示字段，导入时分别为 0 与空
type Resume struct {
	ID           string       `gorm:"primaryKey" json:"id"`
	UserID       string       `gorm:"index" json:"user_id"`
	Name         string       `json:"name"`
	Template     string       `json:"template"`
	Status       ResumeStatus `json:"status"`
	Applications int          `json:"applications"`
	Thumbnail    *string      `json:"thumbnail"`
	IsFavorite   bool         `json:"is_favorite"`
	FilePath     string       `json:"file_path"`
	FileExt      string       `json:"file_ext"`
	Size         int64        `json:"size"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// VersionDiff 是相对父版本的粗粒度行数差异，不是真正的文本 diff。
type VersionDiff struct {
	ApproxAdded   int `json:"approx_added"`
	ApproxRemoved int `json:"approx_removed"`
}

// ResumeVersion 表示版本链上的一个不可变节点。
// ParentID 指向上一个版本，nil 表示链头；Fingerprint 为定长十六进制
// 内容指纹，仅用于粗略变更展示，不具备加密强度。
type ResumeVersion struct {
	ID             string                          `gorm:"primaryKey" json:"id"`
	ResumeID       string                          `gorm:"index" json:"resume_id"`
	UserID         string                          `json:"user_id"`
	ParentID       *string                         `json:"parent_id"`
	StoragePath    string                          `json:"storage_path"`
	Fingerprint    string                          `json:"fingerprint"`
	ParsedSnapshot datatypes.JSONMap               `json:"parsed_snapshot"`
	DiffMeta       datatypes.JSONType[VersionDiff] `gorm:"column:diff_meta" json:"diff_meta"`
	CreatedAt      time.Time                       `json:"created_at"`
}

// ParsedResume 保存解析/分析/向量化后的结果，逻辑上按简历保留最新一份。
type ParsedResume struct {
	ID         string                       `gorm:"primaryKey" json:"id"`
	ResumeID   string                       `gorm:"uniqueIndex" json:"resume_id"`
	UserID     string                       `json:"user_id"`
	RawText    string                       `json:"raw_text"`
	Entities   datatypes.JSONMap            `json:"entities"`
	Structured datatypes.JSONMap            `json:"structured"`
	Skills     datatypes.JSONSlice[string]  `json:"skills"`
	Embedding  datatypes.JSONSlice[float64] `json:"embedding"`
	CreatedAt  time.Time                    `json:"created_at"`
	UpdatedAt  time.Time                    `json:"updated_at"`
}

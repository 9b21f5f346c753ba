package version

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"strings"
	"time"

	"resume-vault/internal/model"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	fingerprintChars = 64
	fingerprintDims  = 32
	embeddingDims    = 64
)

// Store 抽象版本持久化接口，便于测试替换。
type Store interface {
	CreateVersion(ctx context.Context, version *model.ResumeVersion) error
	ListVersions(ctx context.Context, resumeID string) ([]model.ResumeVersion, error)
	LatestVersion(ctx context.Context, resumeID string) (*model.ResumeVersion, error)
}

// Embedder 抽象文本向量化接口，要求同一输入产出同一向量。
type Embedder interface {
	Embed(text string, dims int) []float64
}

// Emitter 上报版本事件。
type Emitter interface {
	Emit(event string, props map[string]any)
}

// CreateInput 描述一次版本追加。
type CreateInput struct {
	ResumeID        string
	UserID          string
	StoragePath     string
	RawText         string
	ParentID        *string
	PreviousRawText *string
	ParsedSnapshot  datatypes.JSONMap
}

// Manager 维护简历的追加式版本链：内容指纹 + 粗粒度行数差异。
type Manager struct {
	store     Store
	embed     Embedder
	analytics Emitter
	logger    *log.Logger
	now       func() time.Time
}

// NewManager 创建 Manager。
func NewManager(store Store, embed Embedder, analytics Emitter, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stdout, "[version] ", log.LstdFlags)
	}
	return &Manager{
		store:     store,
		embed:     embed,
		analytics: analytics,
		logger:    logger,
		now:       time.Now,
	}
}

// Create 追加一个版本节点。任何失败只记录日志并返回 nil，不向调用方抛错。
func (m *Manager) Create(ctx context.Context, in CreateInput) *model.ResumeVersion {
	added, removed := approximateDiff(in.PreviousRawText, in.RawText)

	record := &model.ResumeVersion{
		ID:             uuid.NewString(),
		ResumeID:       in.ResumeID,
		UserID:         in.UserID,
		ParentID:       in.ParentID,
		StoragePath:    in.StoragePath,
		Fingerprint:    m.fingerprint(in.RawText),
		ParsedSnapshot: in.ParsedSnapshot,
		DiffMeta:       datatypes.NewJSONType(model.VersionDiff{ApproxAdded: added, ApproxRemoved: removed}),
		CreatedAt:      m.now(),
	}

	if err := m.store.CreateVersion(ctx, record); err != nil {
		m.logger.Printf("create version for resume %s: %v", in.ResumeID, err)
		m.analytics.Emit("resume_version_create_failed", map[string]any{
			"resume_id":  in.ResumeID,
			"error_type": fmt.Sprintf("%T", err),
		})
		return nil
	}

	m.analytics.Emit("resume_version_created", map[string]any{
		"resume_id":      in.ResumeID,
		"has_parent":     in.ParentID != nil,
		"approx_added":   added,
		"approx_removed": removed,
	})
	return record
}

// List 返回新在前的版本链。
func (m *Manager) List(ctx context.Context, resumeID string) ([]model.ResumeVersion, error) {
	return m.store.ListVersions(ctx, resumeID)
}

// Latest 返回版本链头，无版本时返回 nil。
func (m *Manager) Latest(ctx context.Context, resumeID string) (*model.ResumeVersion, error) {
	return m.store.LatestVersion(ctx, resumeID)
}

// fingerprint 把嵌入向量前缀量化为定长十六进制串。
// 这是一个显式的非加密指纹，只用于粗略变更展示。
func (m *Manager) fingerprint(text string) string {
	if text == "" {
		return strings.Repeat("0", fingerprintChars)
	}

	vec := m.embed.Embed(text, embeddingDims)
	var b strings.Builder
	for i := 0; i < fingerprintDims && i < len(vec); i++ {
		n := int(math.Round(vec[i] * 255))
		if n < 0 {
			n = 0
		}
		if n > 255 {
			n = 255
		}
		fmt.Fprintf(&b, "%02x", n)
	}

	hex := b.String() + strings.Repeat("0", fingerprintChars)
	return hex[:fingerprintChars]
}

// approximateDiff 用行数差近似增删量，不做真正的文本 diff。
func approximateDiff(prev *string, next string) (added, removed int) {
	nextLines := lineCount(next)
	if prev == nil {
		return nextLines, 0
	}
	prevLines := lineCount(*prev)
	if nextLines > prevLines {
		return nextLines - prevLines, 0
	}
	return 0, prevLines - nextLines
}

func lineCount(text string) int {
	return len(strings.Split(text, "\n"))
}

package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"resume-vault/internal/analyzer"
	"resume-vault/internal/embedder"
	"resume-vault/internal/model"
	"resume-vault/internal/notifier"
	"resume-vault/internal/parser"
	"resume-vault/internal/status"
	"resume-vault/internal/storage"
	"resume-vault/internal/version"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

// ErrFileTooLarge 表示文件超出大小限制，在任何 I/O 之前返回。
var ErrFileTooLarge = errors.New("file exceeds size limit")

const (
	defaultMaxFileSize = 8 << 20
	defaultConcurrency = 3
	maxTitleChars      = 120
	maxTemplateChars   = 60
)

// Records 抽象记录存储接口，便于测试替换。
type Records interface {
	CreateResume(ctx context.Context, resume *model.Resume) error
	GetResume(ctx context.Context, id string) (*model.Resume, error)
	UpdateResume(ctx context.Context, id string, patch storage.ResumePatch) error
	DeleteResume(ctx context.Context, id string) error
	HasResumeName(ctx context.Context, userID, baseName string) (bool, error)
	UpsertParsedResume(ctx context.Context, parsed *model.ParsedResume) error
	GetParsedResume(ctx context.Context, resumeID string) (*model.ParsedResume, error)
}

// Blobs 抽象对象存储接口。
type Blobs interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
	Get(ctx context.Context, path string) ([]byte, error)
	Remove(ctx context.Context, path string) error
	Copy(ctx context.Context, src, dst string) error
}

// Versions 抽象版本链接口。
type Versions interface {
	Create(ctx context.Context, in version.CreateInput) *model.ResumeVersion
	Latest(ctx context.Context, resumeID string) (*model.ResumeVersion, error)
}

// Embedder 抽象文本向量化接口。
type Embedder interface {
	Embed(text string, dims int) []float64
}

// Emitter 上报埋点事件。
type Emitter interface {
	Emit(event string, props map[string]any)
}

// Config 导入配置。
type Config struct {
	MaxFileSize int64 `yaml:"max_file_size" json:"max_file_size"`
	Concurrency int   `yaml:"concurrency" json:"concurrency"`
}

// File 是一次待导入的文件载荷。
type File struct {
	Name        string
	Size        int64
	ContentType string
	Template    string
	Data        []byte
}

// Importer 协调多文件导入：播种状态、派发单文件任务、聚合成功结果。
// 批次内任务无跨任务顺序保证，结果按完成顺序返回；单个任务失败
// 不影响批次中其他任务。
type Importer struct {
	cfg       Config
	records   Records
	blobs     Blobs
	versions  Versions
	statuses  *status.Store
	notif     notifier.Notifier
	analytics Emitter
	embed     Embedder

	parse   func(ext string, data []byte) (parser.Document, error)
	analyze func(text string) analyzer.Analysis

	logger *log.Logger
	now    func() time.Time
	newID  func() string

	background sync.WaitGroup
}

// New 创建 Importer，填充缺省配置。
func New(records Records, blobs Blobs, versions Versions, statuses *status.Store,
	notif notifier.Notifier, emitter Emitter, embed Embedder, cfg Config) *Importer {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = defaultMaxFileSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Importer{
		cfg:       cfg,
		records:   records,
		blobs:     blobs,
		versions:  versions,
		statuses:  statuses,
		notif:     notif,
		analytics: emitter,
		embed:     embed,
		parse:     parser.Parse,
		analyze:   analyzer.Analyze,
		logger:    log.New(os.Stdout, "[import] ", log.LstdFlags),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// ImportOne 导入单个文件，返回新建的简历记录。
func (imp *Importer) ImportOne(ctx context.Context, userID string, f File) (*model.Resume, error) {
	ids := imp.seed(ctx, userID, []File{f})
	rec, err := imp.run(ctx, userID, ids[0], f)
	if err != nil {
		imp.notify(ctx, notifier.Notice{Kind: notifier.KindError, Title: f.Name, Message: err.Error()})
		return nil, err
	}
	imp.notify(ctx, notifier.Notice{Kind: notifier.KindSuccess, Title: rec.Name, Message: "resume imported"})
	return rec, nil
}

// ImportBatch 导入一批文件，只聚合成功结果，批次从不整体失败。
// 多于一个成功时只发送一条聚合通知，失败通知始终逐文件发送。
func (imp *Importer) ImportBatch(ctx context.Context, userID string, files []File) []model.Resume {
	if len(files) == 0 {
		return nil
	}

	ids := imp.seed(ctx, userID, files)

	var (
		mu      sync.Mutex
		results []model.Resume
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(imp.cfg.Concurrency)
	for i := range files {
		i := i
		g.Go(func() error {
			rec, err := imp.run(gctx, userID, ids[i], files[i])
			if err != nil {
				imp.notify(gctx, notifier.Notice{Kind: notifier.KindError, Title: files[i].Name, Message: err.Error()})
				return nil
			}
			mu.Lock()
			results = append(results, *rec)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	switch {
	case len(results) > 1:
		imp.notify(ctx, notifier.Notice{
			Kind:    notifier.KindSuccess,
			Title:   "import complete",
			Message: fmt.Sprintf("%d resumes imported", len(results)),
		})
	case len(results) == 1:
		imp.notify(ctx, notifier.Notice{Kind: notifier.KindSuccess, Title: results[0].Name, Message: "resume imported"})
	}

	return results
}

// seed 同步为每个文件播种一条 pending 状态，并在播种时刻判定重名。
func (imp *Importer) seed(ctx context.Context, userID string, files []File) []string {
	batch := strings.ReplaceAll(imp.newID(), "-", "")[:8]
	ids := make([]string, len(files))
	for i, f := range files {
		ids[i] = fmt.Sprintf("%s-%d-%s", batch, i, f.Name)
		duplicate, err := imp.records.HasResumeName(ctx, userID, baseName(f.Name))
		if err != nil {
			imp.logger.Printf("duplicate check for %s: %v", f.Name, err)
		}
		imp.statuses.Seed(ids[i], f.Name, f.Size, duplicate)
	}
	return ids
}

// run 执行单文件导入任务：大小校验 → 上传 → 落库 → 完成。
// 每一步失败都终结该任务并以截断信息记入状态，不留下孤儿简历记录。
func (imp *Importer) run(ctx context.Context, userID, taskID string, f File) (*model.Resume, error) {
	if f.Size > imp.cfg.MaxFileSize || int64(len(f.Data)) > imp.cfg.MaxFileSize {
		imp.statuses.MarkError(taskID, fmt.Sprintf("file exceeds %dMB size limit", imp.cfg.MaxFileSize>>20))
		imp.analytics.Emit("resume_import_failed", map[string]any{"name": f.Name, "reason": "size_limit"})
		return nil, ErrFileTooLarge
	}

	ext := deriveExt(f.Name)
	name := baseName(f.Name)
	template := f.Template
	if ext == "json" {
		if title, tmpl, ok := recoverMeta(f.Data); ok {
			if title != "" {
				name = title
			}
			if tmpl != "" {
				template = tmpl
			}
		}
	}

	imp.statuses.MarkUploading(taskID)

	path := fmt.Sprintf("%s/%d_%s.%s", userID, imp.now().UnixMilli(), randomSuffix(imp.newID()), ext)
	if err := imp.blobs.Put(ctx, path, f.Data, f.ContentType); err != nil {
		imp.statuses.MarkError(taskID, "upload failed: "+err.Error())
		imp.analytics.Emit("resume_import_failed", map[string]any{"name": f.Name, "reason": "storage"})
		return nil, fmt.Errorf("store blob: %w", err)
	}

	rec := &model.Resume{
		ID:       imp.newID(),
		UserID:   userID,
		Name:     name,
		Template: template,
		Status:   model.ResumeStatusDraft,
		FilePath: path,
		FileExt:  ext,
		Size:     int64(len(f.Data)),
	}
	if err := imp.records.CreateResume(ctx, rec); err != nil {
		// 已写入的对象不做补偿删除，留给后续清理。
		imp.statuses.MarkError(taskID, "save failed: "+err.Error())
		imp.analytics.Emit("resume_import_failed", map[string]any{"name": f.Name, "reason": "persistence"})
		return nil, fmt.Errorf("insert resume: %w", err)
	}

	imp.statuses.MarkDone(taskID)
	imp.analytics.Emit("resume_imported", map[string]any{"resume_id": rec.ID, "ext": ext, "size": rec.Size})

	if ext == "pdf" {
		data := make([]byte, len(f.Data))
		copy(data, f.Data)
		imp.background.Add(1)
		go imp.postProcess(rec, data)
	}

	return rec, nil
}

// postProcess 在任务完成后独立执行解析/分析/向量化。
// 这里的任何失败只记录日志，绝不把已完成的导入改回失败。
func (imp *Importer) postProcess(rec *model.Resume, data []byte) {
	defer imp.background.Done()

	ctx := context.Background()
	doc, err := imp.parse(rec.FileExt, data)
	if err != nil {
		imp.logger.Printf("parse resume %s: %v", rec.ID, err)
		return
	}
	if err := imp.processDocument(ctx, rec, doc); err != nil {
		imp.logger.Printf("post-process resume %s: %v", rec.ID, err)
	}
}

// processDocument 持久化解析结果并在版本链上追加节点。
func (imp *Importer) processDocument(ctx context.Context, rec *model.Resume, doc parser.Document) error {
	analysis := imp.analyze(doc.Text)
	vec := imp.embed.Embed(doc.Text, embedder.DefaultDims)

	// 空的历史文本视同无历史，差异按全量新增计算。
	var previousText *string
	if prior, err := imp.records.GetParsedResume(ctx, rec.ID); err == nil && prior.RawText != "" {
		text := prior.RawText
		previousText = &text
	}
	var parentID *string
	if head, err := imp.versions.Latest(ctx, rec.ID); err == nil && head != nil {
		id := head.ID
		parentID = &id
	}

	parsed := &model.ParsedResume{
		ID:       imp.newID(),
		ResumeID: rec.ID,
		UserID:   rec.UserID,
		RawText:  doc.Text,
		Entities: datatypes.JSONMap{
			"companies": analysis.Entities.Companies,
			"titles":    analysis.Entities.Titles,
			"emails":    analysis.Emails,
			"phones":    analysis.Phones,
			"urls":      analysis.URLs,
		},
		Structured: datatypes.JSONMap(analysis.Structured),
		Skills:     datatypes.JSONSlice[string](analysis.Skills),
		Embedding:  datatypes.JSONSlice[float64](vec),
	}
	if err := imp.records.UpsertParsedResume(ctx, parsed); err != nil {
		return fmt.Errorf("persist parsed resume: %w", err)
	}

	imp.versions.Create(ctx, version.CreateInput{
		ResumeID:        rec.ID,
		UserID:          rec.UserID,
		StoragePath:     rec.FilePath,
		RawText:         doc.Text,
		ParentID:        parentID,
		PreviousRawText: previousText,
		ParsedSnapshot: datatypes.JSONMap{
			"skills":   analysis.Skills,
			"sections": len(analysis.Sections),
		},
	})

	imp.analytics.Emit("resume_parsed", map[string]any{"resume_id": rec.ID, "skills": len(analysis.Skills)})
	return nil
}

// Reparse 重新解析一份已导入的简历。失败返回 false 并通知，不抛错。
func (imp *Importer) Reparse(ctx context.Context, rec *model.Resume) bool {
	if rec.FileExt != "pdf" || rec.FilePath == "" {
		imp.notify(ctx, notifier.Notice{Kind: notifier.KindError, Title: rec.Name, Message: "only imported PDF resumes can be re-parsed"})
		return false
	}

	data, err := imp.blobs.Get(ctx, rec.FilePath)
	if err != nil {
		imp.logger.Printf("fetch blob for resume %s: %v", rec.ID, err)
		imp.notify(ctx, notifier.Notice{Kind: notifier.KindError, Title: rec.Name, Message: "original file is no longer available"})
		return false
	}

	doc, err := imp.parse(rec.FileExt, data)
	if err != nil {
		imp.logger.Printf("parse resume %s: %v", rec.ID, err)
		imp.notify(ctx, notifier.Notice{Kind: notifier.KindError, Title: rec.Name, Message: "could not extract text from file"})
		return false
	}

	if err := imp.processDocument(ctx, rec, doc); err != nil {
		imp.logger.Printf("reparse resume %s: %v", rec.ID, err)
		imp.notify(ctx, notifier.Notice{Kind: notifier.KindError, Title: rec.Name, Message: "re-parse failed"})
		return false
	}

	imp.notify(ctx, notifier.Notice{Kind: notifier.KindSuccess, Title: rec.Name, Message: "resume re-parsed"})
	return true
}

// Delete 删除简历记录并级联移除对象存储中的文件。
func (imp *Importer) Delete(ctx context.Context, rec *model.Resume) error {
	if rec.FilePath != "" {
		if err := imp.blobs.Remove(ctx, rec.FilePath); err != nil {
			imp.logger.Printf("remove blob %s: %v", rec.FilePath, err)
		}
	}
	if err := imp.records.DeleteResume(ctx, rec.ID); err != nil {
		return fmt.Errorf("delete resume: %w", err)
	}
	return nil
}

// Duplicate 复制简历：对象复制到新路径，新记录不继承收藏标记。
func (imp *Importer) Duplicate(ctx context.Context, rec *model.Resume) (*model.Resume, error) {
	var newPath string
	if rec.FilePath != "" {
		ext := rec.FileExt
		if ext == "" {
			ext = "bin"
		}
		newPath = fmt.Sprintf("%s/%d_%s.%s", rec.UserID, imp.now().UnixMilli(), randomSuffix(imp.newID()), ext)
		if err := imp.blobs.Copy(ctx, rec.FilePath, newPath); err != nil {
			return nil, fmt.Errorf("copy blob: %w", err)
		}
	}

	copyRec := &model.Resume{
		ID:        imp.newID(),
		UserID:    rec.UserID,
		Name:      rec.Name + " (Copy)",
		Template:  rec.Template,
		Status:    model.ResumeStatusDraft,
		Thumbnail: rec.Thumbnail,
		FilePath:  newPath,
		FileExt:   rec.FileExt,
		Size:      rec.Size,
	}
	if err := imp.records.CreateResume(ctx, copyRec); err != nil {
		return nil, fmt.Errorf("insert resume copy: %w", err)
	}
	return copyRec, nil
}

// ReplaceFile 替换简历的原始文件，旧对象移除后写入新对象并更新记录。
func (imp *Importer) ReplaceFile(ctx context.Context, rec *model.Resume, f File) error {
	if f.Size > imp.cfg.MaxFileSize || int64(len(f.Data)) > imp.cfg.MaxFileSize {
		return ErrFileTooLarge
	}

	ext := deriveExt(f.Name)
	path := fmt.Sprintf("%s/%d_%s.%s", rec.UserID, imp.now().UnixMilli(), randomSuffix(imp.newID()), ext)

	if rec.FilePath != "" {
		if err := imp.blobs.Remove(ctx, rec.FilePath); err != nil {
			imp.logger.Printf("remove old blob %s: %v", rec.FilePath, err)
		}
	}
	if err := imp.blobs.Put(ctx, path, f.Data, f.ContentType); err != nil {
		return fmt.Errorf("store blob: %w", err)
	}

	size := int64(len(f.Data))
	if err := imp.records.UpdateResume(ctx, rec.ID, storage.ResumePatch{
		FilePath: &path,
		FileExt:  &ext,
		Size:     &size,
	}); err != nil {
		return fmt.Errorf("update resume: %w", err)
	}

	rec.FilePath = path
	rec.FileExt = ext
	rec.Size = size

	if ext == "pdf" {
		data := make([]byte, len(f.Data))
		copy(data, f.Data)
		imp.background.Add(1)
		go imp.postProcess(rec, data)
	}
	return nil
}

func (imp *Importer) notify(ctx context.Context, notice notifier.Notice) {
	if imp.notif == nil {
		return
	}
	if err := imp.notif.Notify(ctx, notice); err != nil {
		imp.logger.Printf("notify: %v", err)
	}
}

// deriveExt 提取存储安全的扩展名，缺失时回退 bin。
func deriveExt(name string) string {
	idx := strings.LastIndex(name, ".")
	if idx <= 0 || idx == len(name)-1 {
		return "bin"
	}
	ext := strings.ToLower(name[idx+1:])
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return "bin"
		}
	}
	return ext
}

// baseName 去除文件名的最后一个扩展名。
func baseName(name string) string {
	idx := strings.LastIndex(name, ".")
	if idx <= 0 {
		return name
	}
	return name[:idx]
}

// recoverMeta 尝试从结构化载荷中恢复标题与模板，解析失败静默回退。
func recoverMeta(data []byte) (title, template string, ok bool) {
	var payload struct {
		Title    string `json:"title"`
		Name     string `json:"name"`
		Template string `json:"template"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", "", false
	}
	title = payload.Title
	if title == "" {
		title = payload.Name
	}
	return clipRunes(title, maxTitleChars), clipRunes(payload.Template, maxTemplateChars), true
}

// clipRunes 按字符截断，避免把多字节字符截成半个。
func clipRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func randomSuffix(id string) string {
	s := strings.ReplaceAll(id, "-", "")
	if len(s) > 8 {
		s = s[:8]
	}
	return s
}

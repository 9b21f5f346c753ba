package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"resume-vault/internal/importer"
	"resume-vault/internal/model"
	"resume-vault/internal/status"
	"resume-vault/internal/storage"
)

const downloadURLTTL = 5 * time.Minute

// ImportService 抽象导入协调接口。
type ImportService interface {
	ImportBatch(ctx context.Context, userID string, files []importer.File) []model.Resume
	Reparse(ctx context.Context, rec *model.Resume) bool
	Delete(ctx context.Context, rec *model.Resume) error
	Duplicate(ctx context.Context, rec *model.Resume) (*model.Resume, error)
	ReplaceFile(ctx context.Context, rec *model.Resume, f importer.File) error
}

// ResumeStore 抽象记录存储接口。
type ResumeStore interface {
	ListResumes(ctx context.Context, userID string) ([]model.Resume, error)
	GetResume(ctx context.Context, id string) (*model.Resume, error)
	UpdateResume(ctx context.Context, id string, patch storage.ResumePatch) error
	ListVersions(ctx context.Context, resumeID string) ([]model.ResumeVersion, error)
}

// Statuses 抽象导入状态查询接口。
type Statuses interface {
	List() []status.Entry
	Remove(id string)
	Clear()
}

// BlobURLs 生成对象的限时下载链接。
type BlobURLs interface {
	TemporaryReadURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}

// resumePatchRequest 表示简历更新请求。
type resumePatchRequest struct {
	Name       *string `json:"name"`
	Template   *string `json:"template"`
	Status     *string `json:"status"`
	IsFavorite *bool   `json:"is_favorite"`
}

// NewHandler 构造 HTTP 多路复用器。
func NewHandler(imports ImportService, store ResumeStore, statuses Statuses, blobs BlobURLs) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/api/imports", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, statuses.List())
		case http.MethodDelete:
			statuses.Clear()
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/imports/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/api/imports/")
		if id == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		statuses.Remove(id)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/api/resumes", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		resumes, err := store.ListResumes(r.Context(), userID(r))
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, resumes)
	})

	mux.HandleFunc("/api/resumes/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/resumes/")
		if rest == "import" {
			handleImport(w, r, imports)
			return
		}

		parts := strings.SplitN(rest, "/", 2)
		id := parts[0]
		action := ""
		if len(parts) == 2 {
			action = parts[1]
		}
		if id == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		rec, err := store.GetResume(r.Context(), id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "resume not found"})
				return
			}
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}

		switch {
		case action == "" && r.Method == http.MethodGet:
			writeJSON(w, http.StatusOK, rec)
		case action == "" && r.Method == http.MethodPatch:
			handlePatch(w, r, store, rec)
		case action == "" && r.Method == http.MethodDelete:
			if err := imports.Delete(r.Context(), rec); err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			w.WriteHeader(http.StatusNoContent)
		case action == "duplicate" && r.Method == http.MethodPost:
			copyRec, err := imports.Duplicate(r.Context(), rec)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusCreated, copyRec)
		case action == "reparse" && r.Method == http.MethodPost:
			ok := imports.Reparse(r.Context(), rec)
			writeJSON(w, http.StatusOK, map[string]bool{"ok": ok})
		case action == "replace" && r.Method == http.MethodPost:
			handleReplace(w, r, imports, rec)
		case action == "versions" && r.Method == http.MethodGet:
			versions, err := store.ListVersions(r.Context(), rec.ID)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, versions)
		case action == "download" && r.Method == http.MethodGet:
			if rec.FilePath == "" {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "resume has no stored file"})
				return
			}
			url, err := blobs.TemporaryReadURL(r.Context(), rec.FilePath, downloadURLTTL)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"url": url})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	return mux
}

func handleImport(w http.ResponseWriter, r *http.Request, imports ImportService) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart payload"})
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		headers = r.MultipartForm.File["file"]
	}
	if len(headers) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no files provided"})
		return
	}

	template := r.FormValue("template")
	files := make([]importer.File, 0, len(headers))
	for _, fh := range headers {
		src, err := fh.Open()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable file: " + fh.Filename})
			return
		}
		data, err := io.ReadAll(src)
		src.Close()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable file: " + fh.Filename})
			return
		}
		files = append(files, importer.File{
			Name:        fh.Filename,
			Size:        fh.Size,
			ContentType: fh.Header.Get("Content-Type"),
			Template:    template,
			Data:        data,
		})
	}

	results := imports.ImportBatch(r.Context(), userID(r), files)
	writeJSON(w, http.StatusOK, results)
}

func handlePatch(w http.ResponseWriter, r *http.Request, store ResumeStore, rec *model.Resume) {
	var req resumePatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	patch := storage.ResumePatch{
		Name:       req.Name,
		Template:   req.Template,
		IsFavorite: req.IsFavorite,
	}
	if req.Status != nil {
		status := model.ResumeStatus(*req.Status)
		switch status {
		case model.ResumeStatusActive, model.ResumeStatusDraft, model.ResumeStatusArchived:
			patch.Status = &status
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid status"})
			return
		}
	}

	if err := store.UpdateResume(r.Context(), rec.ID, patch); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	updated, err := store.GetResume(r.Context(), rec.ID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func handleReplace(w http.ResponseWriter, r *http.Request, imports ImportService, rec *model.Resume) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart payload"})
		return
	}
	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no file provided"})
		return
	}

	src, err := headers[0].Open()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable file"})
		return
	}
	data, err := io.ReadAll(src)
	src.Close()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable file"})
		return
	}

	f := importer.File{
		Name:        headers[0].Filename,
		Size:        headers[0].Size,
		ContentType: headers[0].Header.Get("Content-Type"),
		Data:        data,
	}
	if err := imports.ReplaceFile(r.Context(), rec, f); err != nil {
		if errors.Is(err, importer.ErrFileTooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// userID 从请求头读取用户标识，缺省使用本地演示用户。
func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return "local-demo"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

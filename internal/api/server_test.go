package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"resume-vault/internal/importer"
	"resume-vault/internal/model"
	"resume-vault/internal/status"
	"resume-vault/internal/storage"
)

type stubImports struct {
	batchUser  string
	batchFiles []importer.File
	reparseOK  bool
	deleted    []string
	replaceErr error
}

func (s *stubImports) ImportBatch(_ context.Context, userID string, files []importer.File) []model.Resume {
	s.batchUser = userID
	s.batchFiles = files
	out := make([]model.Resume, 0, len(files))
	for i, f := range files {
		out = append(out, model.Resume{ID: fmt.Sprintf("r%d", i+1), UserID: userID, Name: f.Name})
	}
	return out
}

func (s *stubImports) Reparse(_ context.Context, _ *model.Resume) bool { return s.reparseOK }

func (s *stubImports) Delete(_ context.Context, rec *model.Resume) error {
	s.deleted = append(s.deleted, rec.ID)
	return nil
}

func (s *stubImports) Duplicate(_ context.Context, rec *model.Resume) (*model.Resume, error) {
	return &model.Resume{ID: rec.ID + "-copy", UserID: rec.UserID, Name: rec.Name + " (Copy)"}, nil
}

func (s *stubImports) ReplaceFile(_ context.Context, rec *model.Resume, f importer.File) error {
	if s.replaceErr != nil {
		return s.replaceErr
	}
	rec.Size = f.Size
	return nil
}

type stubStore struct {
	resumes  map[string]*model.Resume
	versions map[string][]model.ResumeVersion
	patches  map[string]storage.ResumePatch
}

func newStubStore() *stubStore {
	return &stubStore{
		resumes:  make(map[string]*model.Resume),
		versions: make(map[string][]model.ResumeVersion),
		patches:  make(map[string]storage.ResumePatch),
	}
}

func (s *stubStore) ListResumes(_ context.Context, userID string) ([]model.Resume, error) {
	out := make([]model.Resume, 0)
	for _, r := range s.resumes {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *stubStore) GetResume(_ context.Context, id string) (*model.Resume, error) {
	if r, ok := s.resumes[id]; ok {
		clone := *r
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubStore) UpdateResume(_ context.Context, id string, patch storage.ResumePatch) error {
	r, ok := s.resumes[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.patches[id] = patch
	if patch.Name != nil {
		r.Name = *patch.Name
	}
	if patch.Status != nil {
		r.Status = *patch.Status
	}
	if patch.IsFavorite != nil {
		r.IsFavorite = *patch.IsFavorite
	}
	return nil
}

func (s *stubStore) ListVersions(_ context.Context, resumeID string) ([]model.ResumeVersion, error) {
	return s.versions[resumeID], nil
}

type stubStatuses struct {
	entries []status.Entry
	removed []string
	cleared bool
}

func (s *stubStatuses) List() []status.Entry { return s.entries }
func (s *stubStatuses) Remove(id string)     { s.removed = append(s.removed, id) }
func (s *stubStatuses) Clear()               { s.cleared = true }

type stubBlobURLs struct {
	url string
	err error
}

func (s *stubBlobURLs) TemporaryReadURL(_ context.Context, path string, _ time.Duration) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.url + "/" + path, nil
}

type fixture struct {
	handler  http.Handler
	imports  *stubImports
	store    *stubStore
	statuses *stubStatuses
	blobs    *stubBlobURLs
}

func newFixture() *fixture {
	f := &fixture{
		imports:  &stubImports{},
		store:    newStubStore(),
		statuses: &stubStatuses{},
		blobs:    &stubBlobURLs{url: "https://blob.test"},
	}
	f.handler = NewHandler(f.imports, f.store, f.statuses, f.blobs)
	return f
}

func multipartBody(t *testing.T, field string, names []string, template string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, name := range names {
		part, err := w.CreateFormFile(field, name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write([]byte("content of " + name)); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if template != "" {
		if err := w.WriteField("template", template); err != nil {
			t.Fatalf("write template field: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func TestHealth(t *testing.T) {
	t.Parallel()

	f := newFixture()
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestImportEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture()
	body, contentType := multipartBody(t, "files", []string{"a.pdf", "b.txt"}, "modern")
	req := httptest.NewRequest(http.MethodPost, "/api/resumes/import", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-User-ID", "u42")

	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body %s", rr.Code, rr.Body.String())
	}
	if f.imports.batchUser != "u42" {
		t.Fatalf("expected user from header, got %q", f.imports.batchUser)
	}
	if len(f.imports.batchFiles) != 2 {
		t.Fatalf("expected 2 files forwarded, got %d", len(f.imports.batchFiles))
	}
	if f.imports.batchFiles[0].Template != "modern" {
		t.Fatalf("expected template forwarded, got %q", f.imports.batchFiles[0].Template)
	}

	var results []model.Resume
	if err := json.NewDecoder(rr.Body).Decode(&results); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
}

func TestImportFallsBackToSingleFileField(t *testing.T) {
	t.Parallel()

	f := newFixture()
	body, contentType := multipartBody(t, "file", []string{"only.pdf"}, "")
	req := httptest.NewRequest(http.MethodPost, "/api/resumes/import", body)
	req.Header.Set("Content-Type", contentType)

	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if f.imports.batchUser != "local-demo" {
		t.Fatalf("expected demo user fallback, got %q", f.imports.batchUser)
	}
}

func TestImportWithoutFiles(t *testing.T) {
	t.Parallel()

	f := newFixture()
	body, contentType := multipartBody(t, "unused", nil, "modern")
	req := httptest.NewRequest(http.MethodPost, "/api/resumes/import", body)
	req.Header.Set("Content-Type", contentType)

	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestGetResumeNotFound(t *testing.T) {
	t.Parallel()

	f := newFixture()
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/resumes/missing", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestPatchResume(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.store.resumes["r1"] = &model.Resume{ID: "r1", UserID: "u1", Name: "old", Status: model.ResumeStatusDraft}

	payload := `{"name":"renamed","status":"active"}`
	req := httptest.NewRequest(http.MethodPatch, "/api/resumes/r1", strings.NewReader(payload))
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body %s", rr.Code, rr.Body.String())
	}

	var got model.Resume
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Name != "renamed" || got.Status != model.ResumeStatusActive {
		t.Fatalf("patch not applied: %+v", got)
	}
}

func TestPatchRejectsUnknownStatus(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.store.resumes["r1"] = &model.Resume{ID: "r1", UserID: "u1", Status: model.ResumeStatusDraft}

	req := httptest.NewRequest(http.MethodPatch, "/api/resumes/r1", strings.NewReader(`{"status":"published"}`))
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if _, ok := f.store.patches["r1"]; ok {
		t.Fatalf("invalid status must not reach the store")
	}
}

func TestDeleteResume(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.store.resumes["r1"] = &model.Resume{ID: "r1", UserID: "u1"}

	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/resumes/r1", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if len(f.imports.deleted) != 1 || f.imports.deleted[0] != "r1" {
		t.Fatalf("expected delete delegated to import service, got %v", f.imports.deleted)
	}
}

func TestDuplicateResume(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.store.resumes["r1"] = &model.Resume{ID: "r1", UserID: "u1", Name: "mine"}

	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/resumes/r1/duplicate", nil))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	var got model.Resume
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != "r1-copy" {
		t.Fatalf("unexpected copy id %q", got.ID)
	}
}

func TestReparseResume(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.imports.reparseOK = true
	f.store.resumes["r1"] = &model.Resume{ID: "r1", UserID: "u1", FileExt: "pdf"}

	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/resumes/r1/reparse", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got map[string]bool
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !got["ok"] {
		t.Fatalf("expected ok true, got %v", got)
	}
}

func TestReplaceFileTooLarge(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.imports.replaceErr = importer.ErrFileTooLarge
	f.store.resumes["r1"] = &model.Resume{ID: "r1", UserID: "u1"}

	body, contentType := multipartBody(t, "file", []string{"big.pdf"}, "")
	req := httptest.NewRequest(http.MethodPost, "/api/resumes/r1/replace", body)
	req.Header.Set("Content-Type", contentType)

	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}

func TestListVersionsEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.store.resumes["r1"] = &model.Resume{ID: "r1", UserID: "u1"}
	f.store.versions["r1"] = []model.ResumeVersion{{ID: "v2", ResumeID: "r1"}, {ID: "v1", ResumeID: "r1"}}

	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/resumes/r1/versions", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got []model.ResumeVersion
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got) != 2 || got[0].ID != "v2" {
		t.Fatalf("unexpected versions %v", got)
	}
}

func TestDownloadURL(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.store.resumes["r1"] = &model.Resume{ID: "r1", UserID: "u1", FilePath: "u1/1_abc.pdf"}

	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/resumes/r1/download", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got["url"] != "https://blob.test/u1/1_abc.pdf" {
		t.Fatalf("unexpected url %q", got["url"])
	}
}

func TestDownloadWithoutStoredFile(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.store.resumes["r1"] = &model.Resume{ID: "r1", UserID: "u1"}

	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/resumes/r1/download", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestDownloadURLFailure(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.blobs.err = errors.New("presign unavailable")
	f.store.resumes["r1"] = &model.Resume{ID: "r1", UserID: "u1", FilePath: "u1/1_abc.pdf"}

	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/resumes/r1/download", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestImportStatusEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.statuses.entries = []status.Entry{{ID: "t1", State: status.StateUploading, Progress: 40}}

	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/imports", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got []status.Entry
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got) != 1 || got[0].Progress != 40 {
		t.Fatalf("unexpected entries %v", got)
	}

	rr = httptest.NewRecorder()
	f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/imports/t1", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if len(f.statuses.removed) != 1 || f.statuses.removed[0] != "t1" {
		t.Fatalf("expected t1 removed, got %v", f.statuses.removed)
	}

	rr = httptest.NewRecorder()
	f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/imports", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if !f.statuses.cleared {
		t.Fatalf("expected statuses cleared")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.store.resumes["r1"] = &model.Resume{ID: "r1", UserID: "u1"}

	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/api/resumes/r1", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

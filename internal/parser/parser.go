package parser

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
)

// ErrUnsupported 表示文件类型无法提取文本。
var ErrUnsupported = errors.New("unsupported document type")

// Document 是提取后的文本内容。
type Document struct {
	Text  string
	Lines []string
}

// Parse 按扩展名提取文档文本。
func Parse(ext string, data []byte) (Document, error) {
	var (
		text string
		err  error
	)
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "pdf":
		text, err = extractPDFText(data)
	case "docx":
		text, err = extractDocxText(data)
	case "txt", "text", "md", "json":
		text = string(data)
	default:
		return Document{}, fmt.Errorf("%w: %s", ErrUnsupported, ext)
	}
	if err != nil {
		return Document{}, err
	}
	return Document{Text: text, Lines: splitLines(text)}, nil
}

func extractPDFText(data []byte) (string, error) {
	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}

	var b strings.Builder
	numPages := pdfReader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := pdfReader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, _ := page.GetPlainText(nil)
		b.WriteString(text)
	}
	return b.String(), nil
}

func extractDocxText(data []byte) (string, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("parse docx: %w", err)
	}
	defer doc.Close()

	return doc.Editable().GetContent(), nil
}

func splitLines(text string) []string {
	return strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
}

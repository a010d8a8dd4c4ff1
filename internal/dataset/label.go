package dataset

import (
	"path/filepath"
	"strings"
)

// Label classifies a file by its extension
func Label(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg", ".png":
		return "image"
	case ".pdf":
		return "document"
	case ".docx", ".doc":
		return "word_document"
	case ".xlsx", ".xls":
		return "excel_document"
	default:
		return "other"
	}
}

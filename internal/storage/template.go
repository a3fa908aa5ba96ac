package storage

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"
)

// PathTemplateData holds the fields a download path template can use.
type PathTemplateData struct {
	Artist string
	Title  string
	Source string
}

// BuildPath executes the template and returns the relative path without
// extension.
func BuildPath(templateStr string, data *PathTemplateData) (string, error) {
	tmpl, err := template.New("subdir").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse path template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute path template: %w", err)
	}
	return buf.String(), nil
}

// BuildTemplateData sanitizes the raw metadata fields for path use.
func BuildTemplateData(artist, title, source string) *PathTemplateData {
	if artist == "" {
		artist = "Unknown Artist"
	}
	if title == "" {
		title = "Unknown Title"
	}
	return &PathTemplateData{
		Artist: Sanitize(artist),
		Title:  Sanitize(title),
		Source: Sanitize(source),
	}
}

// BuildFullPath constructs the absolute file path with extension.
func BuildFullPath(baseDir, templateStr string, data *PathTemplateData, ext string) (string, error) {
	rel, err := BuildPath(templateStr, data)
	if err != nil {
		return "", err
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return filepath.Join(baseDir, rel+ext), nil
}

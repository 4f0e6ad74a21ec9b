// Package upload decides which candidate files may enter an upload session.
package upload

import (
	"fmt"
	"mime"
	"path/filepath"
	"slices"
	"strings"
)

// FileRef describes a candidate file.
type FileRef struct {
	Name      string `json:"name" yaml:"name"`
	Size      int64  `json:"size" yaml:"size"`
	MediaType string `json:"media_type,omitempty" yaml:"media_type,omitempty"`
	// Path is the local file backing the ref. Empty for refs that only
	// describe a file, such as the ones restored from a wizard snapshot.
	Path string `json:"-" yaml:"-"`
}

// Ext returns the normalized extension of the file name.
func (f FileRef) Ext() string {
	return NormalizeExt(filepath.Ext(f.Name))
}

// Reason explains why a file was rejected.
type Reason string

const (
	ReasonUnsupportedType Reason = "unsupported_type"
	ReasonTooLarge        Reason = "too_large"
)

// Decision is the result of Admit.
type Decision struct {
	Admitted bool
	Reason   Reason
}

// Policy is the allow-list and size limit applied to every candidate.
type Policy struct {
	AllowedExtensions map[string]struct{}
	AllowedMediaTypes map[string]struct{}
	MaxBytes          int64
}

// mediaTypes maps the document extensions we know about to their MIME types.
// mime.TypeByExtension depends on the host's mime tables, so the common
// office formats are pinned here.
var mediaTypes = map[string]string{
	"pdf":  "application/pdf",
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"ppt":  "application/vnd.ms-powerpoint",
	"pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"txt":  "text/plain",
	"md":   "text/markdown",
	"csv":  "text/csv",
}

// NewPolicy builds a policy from a list of extensions. The media types
// belonging to those extensions are allowed as well.
func NewPolicy(extensions []string, maxBytes int64) Policy {
	p := Policy{
		AllowedExtensions: make(map[string]struct{}, len(extensions)),
		AllowedMediaTypes: make(map[string]struct{}, len(extensions)),
		MaxBytes:          maxBytes,
	}
	for _, ext := range extensions {
		ext = NormalizeExt(ext)
		if ext == "" {
			continue
		}
		p.AllowedExtensions[ext] = struct{}{}
		if mt := DetectMediaType("f." + ext); mt != "" {
			p.AllowedMediaTypes[mt] = struct{}{}
		}
	}
	return p
}

// Admit checks a single candidate. It never mutates anything.
func (p Policy) Admit(f FileRef) Decision {
	if !p.typeAllowed(f) {
		return Decision{Reason: ReasonUnsupportedType}
	}
	if p.MaxBytes > 0 && f.Size > p.MaxBytes {
		return Decision{Reason: ReasonTooLarge}
	}
	return Decision{Admitted: true}
}

func (p Policy) typeAllowed(f FileRef) bool {
	if _, ok := p.AllowedExtensions[f.Ext()]; ok {
		return true
	}
	mt := baseMediaType(f.MediaType)
	if mt == "" {
		return false
	}
	_, ok := p.AllowedMediaTypes[mt]
	return ok
}

// Describe renders a rejection for display.
func (p Policy) Describe(f FileRef, r Reason) string {
	switch r {
	case ReasonUnsupportedType:
		return fmt.Sprintf("%s: file type is not supported (allowed: %s)", f.Name, strings.Join(p.extensionList(), ", "))
	case ReasonTooLarge:
		return fmt.Sprintf("%s: file is larger than %s", f.Name, HumanBytes(p.MaxBytes))
	default:
		return fmt.Sprintf("%s: rejected", f.Name)
	}
}

func (p Policy) extensionList() []string {
	out := make([]string, 0, len(p.AllowedExtensions))
	for ext := range p.AllowedExtensions {
		out = append(out, "."+ext)
	}
	slices.Sort(out)
	return out
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// DetectMediaType guesses the media type from the file name.
func DetectMediaType(name string) string {
	ext := NormalizeExt(filepath.Ext(name))
	if mt, ok := mediaTypes[ext]; ok {
		return mt
	}
	if ext == "" {
		return ""
	}
	return baseMediaType(mime.TypeByExtension("." + ext))
}

func baseMediaType(mt string) string {
	if mt == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		return parsed
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// HumanBytes formats a byte count with a binary unit.
func HumanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

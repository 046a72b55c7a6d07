// Package asset defines the source and output records that flow through a
// build, and loads matched source files from the project tree.
package asset

import (
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/conneroisu/assetforge/internal/hasher"
)

// Kind classifies an asset by what produces or consumes it.
type Kind int

const (
	KindOther Kind = iota
	KindMarkup
	KindStyle
	KindScript
	KindImage
	KindSVG
	KindFont
)

// String returns the string representation of the Kind
func (k Kind) String() string {
	switch k {
	case KindMarkup:
		return "markup"
	case KindStyle:
		return "style"
	case KindScript:
		return "script"
	case KindImage:
		return "image"
	case KindSVG:
		return "svg"
	case KindFont:
		return "font"
	default:
		return "other"
	}
}

var kindsByExt = map[string]Kind{
	".html":  KindMarkup,
	".htm":   KindMarkup,
	".scss":  KindStyle,
	".sass":  KindStyle,
	".css":   KindStyle,
	".js":    KindScript,
	".mjs":   KindScript,
	".png":   KindImage,
	".jpg":   KindImage,
	".jpeg":  KindImage,
	".gif":   KindImage,
	".webp":  KindImage,
	".svg":   KindSVG,
	".woff":  KindFont,
	".woff2": KindFont,
	".ttf":   KindFont,
	".otf":   KindFont,
}

// KindOf classifies a path by its extension.
func KindOf(p string) Kind {
	if k, ok := kindsByExt[strings.ToLower(path.Ext(p))]; ok {
		return k
	}
	return KindOther
}

// Normalize returns the slash-separated, cleaned form used as a graph key.
func Normalize(p string) string {
	return path.Clean(filepath.ToSlash(p))
}

// SourceAsset is an immutable snapshot of one source file for a build tick.
type SourceAsset struct {
	Path    string
	Content []byte
	ModTime time.Time
	Kind    Kind
}

// OutputArtifact is a file written into the build destination.
type OutputArtifact struct {
	// Path is project-relative and slash separated, e.g. "build/css/main.css".
	Path    string
	Content []byte
	Hash    hasher.Digest
	Task    string
	// Sources are the project-relative paths this artifact was derived from.
	Sources []string
}

// Ref returns a copy of the artifact without its content.
func (a *OutputArtifact) Ref() *OutputArtifact {
	sources := make([]string, len(a.Sources))
	copy(sources, a.Sources)

	return &OutputArtifact{
		Path:    a.Path,
		Hash:    a.Hash,
		Task:    a.Task,
		Sources: sources,
	}
}

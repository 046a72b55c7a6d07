package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"path"
	"strings"

	"github.com/conneroisu/assetforge/internal/asset"
)

// Concat joins every file of the batch, in path order, into one file. With
// SourceMaps set it appends an inline version 3 source map mapping each
// output line back to its source line.
type Concat struct {
	// Output is the joined file's batch path, mapped by Emit.
	Output     string
	SourceMaps bool
}

// Name implements Stage.
func (Concat) Name() string { return "concat" }

// Apply implements Stage.
func (s Concat) Apply(_ context.Context, b *Batch) error {
	if len(b.Files) == 0 {
		return nil
	}
	sortFiles(b.Files)

	var out bytes.Buffer
	var sources []string
	for i, f := range b.Files {
		if i > 0 {
			out.WriteByte('\n')
		}
		out.Write(f.Content)
		sources = append(sources, f.Sources...)
	}

	if s.SourceMaps {
		m := BuildSourceMap(path.Base(s.Output), b.Files)
		encoded, err := json.Marshal(m)
		if err != nil {
			return err
		}
		out.WriteString("\n//# sourceMappingURL=data:application/json;charset=utf-8;base64,")
		out.WriteString(base64.StdEncoding.EncodeToString(encoded))
		out.WriteByte('\n')
	}

	kind := asset.KindOf(s.Output)
	if kind == asset.KindOther {
		kind = b.Files[0].Kind
	}

	b.Files = []*File{{
		Path:    s.Output,
		Content: out.Bytes(),
		Kind:    kind,
		Sources: mergeSources(sources),
	}}

	return nil
}

// SourceMap is a version 3 source map.
type SourceMap struct {
	Version        int      `json:"version"`
	File           string   `json:"file"`
	Sources        []string `json:"sources"`
	SourcesContent []string `json:"sourcesContent"`
	Names          []string `json:"names"`
	Mappings       string   `json:"mappings"`
}

// BuildSourceMap maps the lines of files joined with "\n" back to their
// origin. Every output line gets one segment at column zero.
func BuildSourceMap(file string, files []*File) SourceMap {
	m := SourceMap{
		Version: 3,
		File:    file,
		Names:   []string{},
	}

	var mappings strings.Builder
	prevSource, prevLine := 0, 0
	first := true

	for idx, f := range files {
		m.Sources = append(m.Sources, f.Path)
		m.SourcesContent = append(m.SourcesContent, string(f.Content))

		lines := bytes.Count(f.Content, []byte("\n")) + 1
		for line := 0; line < lines; line++ {
			if !first {
				mappings.WriteByte(';')
			}
			first = false

			encodeVLQ(&mappings, 0)
			encodeVLQ(&mappings, idx-prevSource)
			encodeVLQ(&mappings, line-prevLine)
			encodeVLQ(&mappings, 0)

			prevSource, prevLine = idx, line
		}
	}

	m.Mappings = mappings.String()
	return m
}

const vlqAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

func encodeVLQ(w *strings.Builder, v int) {
	u := v << 1
	if v < 0 {
		u = (-v << 1) | 1
	}

	for {
		digit := u & 31
		u >>= 5
		if u > 0 {
			digit |= 32
		}
		w.WriteByte(vlqAlphabet[digit])
		if u == 0 {
			return
		}
	}
}

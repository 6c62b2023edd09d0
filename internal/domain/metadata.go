package domain

import (
	"fmt"
	"reflect"
)

// Well-known metadata keys.
const (
	MetaSource     = "source"
	MetaChunkIndex = "chunkIndex"
	MetaStartChar  = "startChar"
	MetaEndChar    = "endChar"
	MetaDocumentID = "documentId"
)

// ChunkMetadata holds the typed fields every chunk carries plus
// caller-supplied extras.
type ChunkMetadata struct {
	Source     string         `json:"source,omitempty"`
	ChunkIndex int            `json:"chunk_index"`
	StartChar  int            `json:"start_char"`
	EndChar    int            `json:"end_char"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// Lookup returns the value stored under key, checking well-known fields first.
func (m ChunkMetadata) Lookup(key string) (any, bool) {
	switch key {
	case MetaSource:
		return m.Source, true
	case MetaChunkIndex:
		return m.ChunkIndex, true
	case MetaStartChar:
		return m.StartChar, true
	case MetaEndChar:
		return m.EndChar, true
	}
	v, ok := m.Extra[key]
	return v, ok
}

// Clone returns a copy whose Extra map can be mutated independently.
func (m ChunkMetadata) Clone() ChunkMetadata {
	if m.Extra != nil {
		extra := make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			extra[k] = v
		}
		m.Extra = extra
	}
	return m
}

// SplitMetadata separates caller metadata into the well-known source field
// and extras. Well-known keys with the wrong type are rejected; positional
// keys are owned by the splitter and may not be supplied.
func SplitMetadata(in map[string]any) (source string, extra map[string]any, err error) {
	for k, v := range in {
		switch k {
		case MetaSource:
			s, ok := v.(string)
			if !ok {
				return "", nil, fmt.Errorf("metadata %q must be a string, got %T", k, v)
			}
			source = s
		case MetaChunkIndex, MetaStartChar, MetaEndChar:
			return "", nil, fmt.Errorf("metadata %q is assigned by the splitter", k)
		default:
			if extra == nil {
				extra = make(map[string]any, len(in))
			}
			extra[k] = v
		}
	}
	return source, extra, nil
}

// MatchesFilters reports whether every filter equals the chunk's metadata
// value. The document id is matched under MetaDocumentID.
func (c DocumentChunk) MatchesFilters(filters map[string]any) bool {
	for key, want := range filters {
		var got any
		if key == MetaDocumentID {
			got = c.DocumentID
		} else {
			v, ok := c.Metadata.Lookup(key)
			if !ok {
				return false
			}
			got = v
		}
		if !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

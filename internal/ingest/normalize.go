package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"portalpilot/internal/queue"
)

// Format identifies the document encoding.
type Format string

const (
	FormatAuto Format = ""
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Normalize decodes raw as JSON (or YAML when it is not a JSON object) and
// maps it onto a payload.
func Normalize(raw []byte) (queue.Payload, error) {
	return NormalizeFormat(raw, FormatAuto)
}

// NormalizeFormat decodes raw using the given format.
func NormalizeFormat(raw []byte, format Format) (queue.Payload, error) {
	doc, err := decode(raw, format)
	if err != nil {
		return queue.Payload{}, err
	}
	payload, err := FromMap(doc)
	if err != nil {
		return queue.Payload{}, err
	}
	original, err := json.Marshal(doc)
	if err != nil {
		return queue.Payload{}, fmt.Errorf("encode original document: %w", err)
	}
	payload.Raw = original
	return payload, nil
}

// FromMap maps a decoded document onto a payload. Turkish keys take
// precedence over English ones.
func FromMap(doc map[string]any) (queue.Payload, error) {
	payload := queue.Payload{
		Title:           clean(titleOf(doc)),
		Description:     clean(firstString(doc, "aciklama", "description")),
		ShortContent:    clean(firstString(doc, "kisaIcerik", "shortContent")),
		DetailedContent: clean(firstString(doc, "icerik", "detailedContent")),
		Tags:            tagsOf(doc),
	}
	if err := payload.Validate(); err != nil {
		return queue.Payload{}, err
	}
	return payload, nil
}

func decode(raw []byte, format Format) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty document", queue.ErrValidation)
	}
	if format == FormatAuto {
		format = FormatYAML
		if trimmed[0] == '{' {
			format = FormatJSON
		}
	}
	var doc map[string]any
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("%w: invalid json: %v", queue.ErrValidation, err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("%w: invalid yaml: %v", queue.ErrValidation, err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", queue.ErrUnsupportedFormat, format)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: document must be an object", queue.ErrValidation)
	}
	return doc, nil
}

func titleOf(doc map[string]any) string {
	if value := firstString(doc, "baslik"); value != "" {
		return value
	}
	switch title := doc["title"].(type) {
	case string:
		return title
	case map[string]any:
		if improved, ok := title["improved"].(string); ok && strings.TrimSpace(improved) != "" {
			return improved
		}
		if original, ok := title["original"].(string); ok {
			return original
		}
	}
	return ""
}

func tagsOf(doc map[string]any) []string {
	for _, key := range []string{"etiketler", "tags"} {
		var raw []string
		switch value := doc[key].(type) {
		case string:
			raw = strings.Split(value, ",")
		case []any:
			for _, entry := range value {
				if s, ok := entry.(string); ok {
					raw = append(raw, s)
				} else if entry != nil {
					raw = append(raw, fmt.Sprint(entry))
				}
			}
		default:
			continue
		}
		tags := make([]string, 0, len(raw))
		for _, tag := range raw {
			if tag = clean(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
		if len(tags) > 0 {
			return tags
		}
	}
	return nil
}

func firstString(doc map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := doc[key].(string); ok && strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func clean(value string) string {
	return strings.TrimSpace(norm.NFC.String(value))
}

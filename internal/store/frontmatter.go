package store

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontMatterDelim = "---"

// renderDocument serializes front into a YAML front-matter block followed
// by prose. Writers always serialize the full record on every save.
func renderDocument(front interface{}, prose string) ([]byte, error) {
	body, err := yaml.Marshal(front)
	if err != nil {
		return nil, fmt.Errorf("store: marshal front matter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(frontMatterDelim)
	buf.WriteByte('\n')
	buf.Write(body)
	buf.WriteString(frontMatterDelim)
	buf.WriteByte('\n')
	if prose != "" {
		buf.WriteByte('\n')
		buf.WriteString(prose)
		if !strings.HasSuffix(prose, "\n") {
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes(), nil
}

// parseDocument splits a markdown document into its front-matter block and
// prose body, then unmarshals the front matter into out. Readers parse
// front-matter only; the prose is commentary and is returned verbatim.
func parseDocument(data []byte, out interface{}) (prose string, err error) {
	text := string(data)
	if !strings.HasPrefix(text, frontMatterDelim) {
		return "", fmt.Errorf("store: missing front matter delimiter")
	}
	rest := text[len(frontMatterDelim):]
	rest = strings.TrimPrefix(rest, "\n")
	end := strings.Index(rest, "\n"+frontMatterDelim)
	if end < 0 {
		return "", fmt.Errorf("store: unterminated front matter block")
	}
	fm := rest[:end]
	prose = strings.TrimPrefix(rest[end+len("\n"+frontMatterDelim):], "\n")
	if err := yaml.Unmarshal([]byte(fm), out); err != nil {
		return "", fmt.Errorf("store: unmarshal front matter: %w", err)
	}
	return prose, nil
}

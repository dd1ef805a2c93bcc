// Package loader reads documents from disk for indexing.
package loader

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"corpus/internal/domain"
	"corpus/internal/logger"
)

// Formats by file extension.
var formats = map[string]string{
	".txt":      "text",
	".md":       "markdown",
	".markdown": "markdown",
	".html":     "html",
	".htm":      "html",
}

// Supported reports whether path has a loadable extension.
func Supported(path string) bool {
	_, ok := formats[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Expand resolves globs and walks directories into a sorted list of
// supported files. Patterns that match nothing are kept as literal paths.
func Expand(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	add := func(p string) {
		if Supported(p) && !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if matches == nil {
			matches = []string{pattern}
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				return nil, err
			}
			if !info.IsDir() {
				add(m)
				continue
			}
			err = filepath.WalkDir(m, func(p string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !d.IsDir() {
					add(p)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// LoadFile reads one file into a document. The document id is derived from
// the cleaned path, so reloading a file yields the same id.
func LoadFile(path string) (domain.Document, error) {
	format, ok := formats[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return domain.Document{}, fmt.Errorf("%w: unsupported file type %q", domain.ErrInvalidConfig, filepath.Ext(path))
	}
	f, err := os.Open(path)
	if err != nil {
		return domain.Document{}, err
	}
	defer f.Close()

	meta := map[string]any{"path": path, "format": format}
	var content string
	if format == "html" {
		title, text, err := ExtractHTML(f)
		if err != nil {
			return domain.Document{}, fmt.Errorf("parse %s: %w", path, err)
		}
		if title != "" {
			meta["title"] = title
		}
		content = text
	} else {
		data, err := io.ReadAll(f)
		if err != nil {
			return domain.Document{}, err
		}
		content = string(data)
	}

	clean := filepath.Clean(path)
	return domain.Document{
		ID:       hashString(clean),
		Content:  content,
		Source:   filepath.Base(clean),
		Metadata: meta,
	}, nil
}

// LoadPaths expands patterns and loads every supported file.
func LoadPaths(patterns []string) ([]domain.Document, error) {
	files, err := Expand(patterns)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .txt, .md or .html documents found")
	}
	docs := make([]domain.Document, 0, len(files))
	for _, p := range files {
		doc, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		logger.Debug("loaded %s (%d bytes)", p, len(doc.Content))
		docs = append(docs, doc)
	}
	return docs, nil
}

const blockSelector = "h1, h2, h3, h4, h5, h6, p, li, pre, blockquote, td, th"

var contentSelectors = []string{"main", "article", ".content", "#content", ".documentation", "#documentation"}

// ExtractHTML returns the title and the readable text of an HTML page.
// Headings become markdown headers and block elements become paragraphs.
func ExtractHTML(r io.Reader) (title, text string, err error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", "", err
	}
	doc.Find("script, style, noscript, nav, footer, template").Remove()
	title = strings.TrimSpace(doc.Find("title").First().Text())

	root := doc.Find("body")
	for _, selector := range contentSelectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			root = selected.First()
			break
		}
	}

	var blocks []string
	root.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		if s.Find(blockSelector).Length() > 0 {
			return
		}
		line := collapse(s.Text())
		if line == "" {
			return
		}
		if name := goquery.NodeName(s); len(name) == 2 && name[0] == 'h' && name[1] >= '1' && name[1] <= '6' {
			line = strings.Repeat("#", int(name[1]-'0')) + " " + line
		}
		blocks = append(blocks, line)
	})
	if len(blocks) == 0 {
		return title, collapse(root.Text()), nil
	}
	return title, strings.Join(blocks, "\n\n"), nil
}

func collapse(s string) string { return strings.Join(strings.Fields(s), " ") }

func hashString(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:8])
}

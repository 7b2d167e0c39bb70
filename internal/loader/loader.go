package loader

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cloo-solutions/ragdesk/internal/domain"
)

// LoadResult holds the documents that were loaded and the files that were skipped.
type LoadResult struct {
	Documents []domain.Document
	Skipped   []domain.SkippedFile
}

// Loader turns the files of a Source into Documents using a parser per extension.
//
// A file that cannot be read or parsed is logged and skipped; the rest of the
// batch still loads. Only a failure to enumerate the source aborts Load.
type Loader struct {
	source  Source
	parsers map[string]Parser
	exclude []string
}

// DefaultParsers maps .txt and .md to a plain read and .pdf to pdftotext.
func DefaultParsers() map[string]Parser {
	text := TextParser{}
	return map[string]Parser{
		".txt": text,
		".md":  text,
		".pdf": NewPDFParser(),
	}
}

func New(source Source, parsers map[string]Parser) *Loader {
	normalized := make(map[string]Parser, len(parsers))
	for ext, p := range parsers {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized[ext] = p
	}
	return &Loader{source: source, parsers: normalized}
}

// WithExclude ignores files whose path relative to the source root matches
// any of the doublestar patterns (e.g. "drafts/**", "**/*.tmp.md").
func (l *Loader) WithExclude(patterns []string) (*Loader, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid exclude pattern %q", p)
		}
	}
	l.exclude = patterns
	return l, nil
}

func (l *Loader) excluded(p string) bool {
	for _, pattern := range l.exclude {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return true
		}
	}
	return false
}

// Source returns the source the loader reads from.
func (l *Loader) Source() Source {
	return l.source
}

func (l *Loader) Load(ctx context.Context) (*LoadResult, error) {
	paths, err := l.source.List(ctx)
	if err != nil {
		if domain.ErrorCode(err) == "" {
			err = domain.ErrLoadFailed.WithCause(err)
		}
		return nil, err
	}

	result := &LoadResult{}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		parser, ok := l.parsers[strings.ToLower(path.Ext(p))]
		if !ok || l.excluded(p) {
			continue
		}

		doc, err := l.loadOne(ctx, p, parser)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			log.Printf("loader: skipping %s: %v", p, err)
			result.Skipped = append(result.Skipped, domain.SkippedFile{Path: p, Error: err.Error()})
			continue
		}
		result.Documents = append(result.Documents, doc)
	}

	return result, nil
}

func (l *Loader) loadOne(ctx context.Context, p string, parser Parser) (domain.Document, error) {
	content, err := l.source.Read(ctx, p)
	if err != nil {
		return domain.Document{}, domain.ErrUnreadableFile.WithCause(fmt.Errorf("%s: %w", p, err))
	}

	text, err := parser.Parse(ctx, p, content)
	if err != nil {
		return domain.Document{}, domain.ErrUnparsableFile.WithCause(fmt.Errorf("%s: %w", p, err))
	}

	return domain.Document{Text: text, SourcePath: p}, nil
}

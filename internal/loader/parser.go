package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"unicode/utf8"
)

// Parser extracts plain text from a file's raw content.
type Parser interface {
	Parse(ctx context.Context, path string, content []byte) (string, error)
}

// ParserFunc adapts a function to the Parser interface.
type ParserFunc func(ctx context.Context, path string, content []byte) (string, error)

func (f ParserFunc) Parse(ctx context.Context, path string, content []byte) (string, error) {
	return f(ctx, path, content)
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// TextParser reads plain text and markdown verbatim.
type TextParser struct{}

func (TextParser) Parse(_ context.Context, _ string, content []byte) (string, error) {
	content = bytes.TrimPrefix(content, utf8BOM)
	if utf8.Valid(content) {
		return string(content), nil
	}
	return strings.ToValidUTF8(string(content), "�"), nil
}

// ErrPDFToolNotFound is returned when pdftotext is not installed.
var ErrPDFToolNotFound = errors.New("pdftotext not found in PATH (install poppler)")

const pdfToolName = "pdftotext"

// CommandRunner runs an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, ErrPDFToolNotFound
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// PDFParser extracts text from PDFs with poppler's pdftotext.
type PDFParser struct {
	runner CommandRunner
}

func NewPDFParser() *PDFParser {
	return &PDFParser{runner: execRunner{}}
}

// NewPDFParserWithRunner creates a PDFParser that runs pdftotext through runner.
func NewPDFParserWithRunner(runner CommandRunner) *PDFParser {
	return &PDFParser{runner: runner}
}

// CheckAvailable reports whether pdftotext can be found in PATH.
func CheckAvailable() error {
	if _, err := exec.LookPath(pdfToolName); err != nil {
		return ErrPDFToolNotFound
	}
	return nil
}

func (p *PDFParser) Parse(ctx context.Context, path string, content []byte) (string, error) {
	if !bytes.HasPrefix(content, []byte("%PDF-")) {
		return "", fmt.Errorf("%s is not a PDF file", path)
	}

	tmp, err := os.CreateTemp("", "ragdesk-*.pdf")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}

	out, err := p.runner.Run(ctx, pdfToolName, "-enc", "UTF-8", "-layout", tmp.Name(), "-")
	if err != nil {
		return "", err
	}

	// pdftotext separates pages with form feeds.
	text := strings.ReplaceAll(string(out), "\f", "\n\n")
	return strings.ToValidUTF8(text, "�"), nil
}

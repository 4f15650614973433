// Package converter invokes the external FB2-to-EPUB converter binary. The
// binary itself is an out-of-scope external collaborator: this package only
// implements the process-invocation shell around it.
package converter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// Timeout bounds how long a single conversion may run before it is killed.
const Timeout = 10 * time.Second

// Converter transcodes FB2 source bytes to EPUB.
type Converter interface {
	ConvertFB2ToEPUB(ctx context.Context, fb2 []byte, fileName string) ([]byte, error)
}

// ExternalConverter shells out to a binary named "fb2toepub" (or the
// platform equivalent) located in Dir, per the configured ConvertorPath.
type ExternalConverter struct {
	// Dir is the directory containing the converter binary.
	Dir string
	// BinaryName overrides the default executable name; empty uses
	// "fb2toepub".
	BinaryName string
}

// New returns an ExternalConverter rooted at dir.
func New(dir string) *ExternalConverter {
	return &ExternalConverter{Dir: dir}
}

func (c *ExternalConverter) binaryPath() string {
	name := c.BinaryName
	if name == "" {
		name = "fb2toepub"
	}
	return filepath.Join(c.Dir, name)
}

// ConvertFB2ToEPUB writes fb2 to a temporary file, invokes the converter
// binary with input/output paths, reads back the result, and removes the
// temporary files regardless of outcome. The legacy windows-1251 XML
// declaration is rewritten to UTF-8 first, since the converter binary is
// assumed to expect UTF-8 input.
func (c *ExternalConverter) ConvertFB2ToEPUB(ctx context.Context, fb2 []byte, fileName string) ([]byte, error) {
	if c.Dir == "" {
		return nil, fmt.Errorf("converter: no ConvertorPath configured")
	}

	tempDir, err := os.MkdirTemp("", "tinyopds-convert-*")
	if err != nil {
		return nil, fmt.Errorf("converter: create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	utf8Data, err := ensureUTF8(fb2)
	if err != nil {
		return nil, fmt.Errorf("converter: normalize encoding: %w", err)
	}

	inPath := filepath.Join(tempDir, "book.fb2")
	outPath := filepath.Join(tempDir, "book.epub")
	if err := os.WriteFile(inPath, utf8Data, 0o644); err != nil {
		return nil, fmt.Errorf("converter: write input: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.binaryPath(), inPath, outPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("converter: timed out after %s", Timeout)
		}
		return nil, fmt.Errorf("converter: %w: %s", err, stderr.String())
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("converter: read output: %w", err)
	}
	return out, nil
}

// ensureUTF8 rewrites a windows-1251-declared FB2 document to UTF-8,
// leaving any other encoding untouched (the caller's parser already handles
// the full legacy-encoding set; the converter binary only needs the common
// windows-1251 case covered).
func ensureUTF8(data []byte) ([]byte, error) {
	if !bytes.Contains(data[:min(len(data), 256)], []byte("windows-1251")) {
		return data, nil
	}
	decoder := charmap.Windows1251.NewDecoder()
	r := transform.NewReader(bytes.NewReader(data), decoder)
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return bytes.Replace(out, []byte("windows-1251"), []byte("UTF-8"), 1), nil
}

// Package report serializes aggregation results as canonical JSON.
package report

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/ncruces/go-strftime"

	"github.com/vincentbai/browsetrace-sessions/internal/aggregate"
	coreerrors "github.com/vincentbai/browsetrace-sessions/internal/errors"
	"github.com/vincentbai/browsetrace-sessions/internal/models"
)

// Encode returns the RFC 8785 canonical JSON of result:
//
//	{"<dimension>": {"<segment value>": <median seconds>, ...}, ...}
func Encode(result aggregate.Result) ([]byte, error) {
	doc := make(map[string]map[string]float64, len(result))
	for dim, medians := range result {
		values := make(map[string]float64, len(medians))
		for value, median := range medians {
			values[value] = median
		}
		doc[string(dim)] = values
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("marshal report: %w", err),
			coreerrors.CategoryInternalFailure, "report_marshal_failed", "", false)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("canonicalize report: %w", err),
			coreerrors.CategoryInternalFailure, "report_canonicalize_failed", "", false)
	}
	return canonical, nil
}

// Decode parses report JSON back into a Result.
func Decode(data []byte) (aggregate.Result, error) {
	var doc map[string]map[string]float64
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("decode report: %w", err),
			coreerrors.CategoryDataFormat, "report_invalid", "", false)
	}
	result := make(aggregate.Result, len(doc))
	for name, medians := range doc {
		dim, err := models.ParseDimension(name)
		if err != nil {
			return nil, coreerrors.Wrap(err, coreerrors.CategoryDataFormat, "report_invalid", "", false)
		}
		result[dim] = medians
	}
	return result, nil
}

// Digest is the sha256 hex of the canonical form of data.
func Digest(data []byte) (string, error) {
	canonical, err := jcs.Transform(data)
	if err != nil {
		return "", coreerrors.Wrap(fmt.Errorf("canonicalize report: %w", err),
			coreerrors.CategoryDataFormat, "report_invalid", "", false)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Write copies canonical report bytes to w followed by a newline,
// indenting them first when pretty is set.
func Write(w io.Writer, canonical []byte, pretty bool) error {
	out := canonical
	if pretty {
		var buf bytes.Buffer
		if err := json.Indent(&buf, canonical, "", "  "); err != nil {
			return coreerrors.Wrap(fmt.Errorf("indent report: %w", err),
				coreerrors.CategoryDataFormat, "report_invalid", "", false)
		}
		out = buf.Bytes()
	}
	if _, err := w.Write(append(out, '\n')); err != nil {
		return coreerrors.Wrap(fmt.Errorf("write report: %w", err),
			coreerrors.CategoryIOFailure, "report_write_failed", "", false)
	}
	return nil
}

// OutputPath expands strftime directives in pattern, for example
// "reports/median-%Y%m%d-%H%M%S.json".
func OutputPath(pattern string, at time.Time) string {
	return strftime.Format(pattern, at)
}

// WriteFile writes the report to the file named by pattern expanded at
// time at, creating parent directories, and returns the final path.
func WriteFile(pattern string, at time.Time, canonical []byte, pretty bool) (string, error) {
	path := OutputPath(pattern, at)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", coreerrors.Wrap(fmt.Errorf("create report directory: %w", err),
			coreerrors.CategoryIOFailure, "report_write_failed", "check directory permissions", false)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", coreerrors.Wrap(fmt.Errorf("create report file: %w", err),
			coreerrors.CategoryIOFailure, "report_write_failed", "check directory permissions", false)
	}
	if err := Write(f, canonical, pretty); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", coreerrors.Wrap(fmt.Errorf("close report file: %w", err),
			coreerrors.CategoryIOFailure, "report_write_failed", "", false)
	}
	return path, nil
}

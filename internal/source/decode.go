package source

import (
	"bufio"
	"bytes"
	"compress/gzip"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"

	"github.com/kaptinlin/jsonschema"

	coreerrors "github.com/vincentbai/browsetrace-sessions/internal/errors"
	"github.com/vincentbai/browsetrace-sessions/internal/models"
)

//go:embed event.schema.json
var eventSchema []byte

const maxLineBytes = 10 * 1024 * 1024

var gzipMagic = []byte{0x1f, 0x8b}

// Decoder turns a shard payload (optionally gzip-compressed JSON lines)
// into events. Lines failing the event schema are reported as issues
// instead of events.
type Decoder struct {
	schema *jsonschema.Schema
}

func NewDecoder() (*Decoder, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(eventSchema)
	if err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("compile event schema: %w", err),
			coreerrors.CategoryInternalFailure, "event_schema_invalid", "", false)
	}
	return &Decoder{schema: schema}, nil
}

// DecodePayload decodes a whole shard body, gunzipping it when it starts
// with the gzip magic bytes.
func (d *Decoder) DecodePayload(payload []byte) ([]models.Event, []models.RecordIssue, error) {
	if !bytes.HasPrefix(payload, gzipMagic) {
		return d.Decode(bytes.NewReader(payload))
	}
	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, nil, coreerrors.Wrap(fmt.Errorf("open gzip stream: %w", err),
			coreerrors.CategoryDataFormat, "shard_gzip_invalid", "the shard is not a valid gzip file", false)
	}
	defer zr.Close()
	return d.Decode(zr)
}

// Decode reads JSON lines from r. Blank lines are skipped. A read failure
// (including a truncated gzip stream) fails the whole payload.
func (d *Decoder) Decode(r io.Reader) ([]models.Event, []models.RecordIssue, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var events []models.Event
	var issues []models.RecordIssue
	line := 0
	for scanner.Scan() {
		line++
		b := bytes.TrimSpace(scanner.Bytes())
		if len(b) == 0 {
			continue
		}
		event, reason := d.decodeLine(b)
		if reason != "" {
			issues = append(issues, models.RecordIssue{Line: line, Reason: reason})
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, coreerrors.Wrap(fmt.Errorf("read shard payload after line %d: %w", line, err),
			coreerrors.CategoryDataFormat, "shard_payload_unreadable", "the shard may be truncated or corrupt", false)
	}
	return events, issues, nil
}

func (d *Decoder) decodeLine(b []byte) (models.Event, string) {
	result := d.schema.ValidateJSON(b)
	if !result.IsValid() {
		return models.Event{}, fmt.Sprintf("schema validation failed: %v", result.Errors)
	}
	var event models.Event
	if err := json.Unmarshal(b, &event); err != nil {
		return models.Event{}, fmt.Sprintf("decode event: %v", err)
	}
	return event, ""
}

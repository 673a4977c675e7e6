package indexer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strconv"
)

var ErrMissingID = errors.New("document has no id")

// maxLine bounds a single JSONL record.
const maxLine = 10 * 1024 * 1024

// Document is one parsed input line.
type Document struct {
	ID string
	// Source is the compacted JSON line, stored verbatim in the docstore.
	Source []byte
	// Fields are indexed; the id is not among them.
	Fields map[string]any
}

// ParseDocument reads one JSON object with a string or integer "id".
func ParseDocument(line []byte) (Document, error) {
	var fields map[string]any
	if err := json.Unmarshal(line, &fields); err != nil {
		return Document{}, err
	}

	var id string
	switch v := fields["id"].(type) {
	case string:
		id = v
	case float64:
		id = strconv.FormatFloat(v, 'f', -1, 64)
	}
	if id == "" {
		return Document{}, ErrMissingID
	}
	delete(fields, "id")

	var src bytes.Buffer
	if err := json.Compact(&src, line); err != nil {
		return Document{}, err
	}
	return Document{ID: id, Source: src.Bytes(), Fields: fields}, nil
}

// scanLines sends every non-empty line of r to out and returns the count.
func scanLines(ctx context.Context, r io.Reader, out chan<- []byte) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), maxLine)

	n := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		select {
		case out <- bytes.Clone(line):
			n++
		case <-ctx.Done():
			return n, ctx.Err()
		}
	}
	return n, scanner.Err()
}

package catalog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/hpungsan/logsort/internal/config"
	"github.com/hpungsan/logsort/internal/errors"
)

// LogExt is appended to every JSON catalog stem to form the log file name.
const LogExt = ".txt"

// ParseJSON parses one JSON catalog document.
func ParseJSON(r io.Reader, name string, opts Options) (*Catalog, error) {
	c := New(config.ModeJSON)
	if err := c.addJSON(r, name, opts); err != nil {
		return nil, err
	}
	return c, nil
}

type labelEntry struct {
	label string
	logs  []string
	err   error
}

type categoryBody struct {
	Logs *[]string `json:"logs"`
}

// addJSON decodes the top-level object key by key so labels keep document
// order. Nothing is assigned unless the whole document decodes.
func (c *Catalog) addJSON(r io.Reader, name string, opts Options) error {
	entries, err := decodeLabels(r)
	if err != nil {
		return errors.NewCatalogParse(name, err)
	}
	c.Documents++

	for _, e := range entries {
		if e.err != nil {
			c.skip(Skip{Document: name, Item: e.label, Reason: ReasonMalformedCategory, Detail: e.err.Error()})
			continue
		}
		for _, stem := range e.logs {
			cat := c.category(e.label, 0)
			ref := Ref{LogName: stem + LogExt, Label: e.label, Document: name}
			if opts.HardCap > 0 && cat.Admitted >= opts.HardCap {
				cat.Discarded++
				c.skip(Skip{Document: name, Item: ref.LogName, Reason: ReasonOverCap, Detail: e.label})
				continue
			}
			cat.Refs = append(cat.Refs, ref)
			cat.Admitted++
		}
	}
	return nil
}

func decodeLabels(r io.Reader) ([]labelEntry, error) {
	dec := json.NewDecoder(bufio.NewReader(r))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected top-level object, got %v", tok)
	}

	var entries []labelEntry
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		label, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected label, got %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		entries = append(entries, parseBody(label, raw))
	}

	if tok, err := dec.Token(); err != nil {
		return nil, err
	} else if d, ok := tok.(json.Delim); !ok || d != '}' {
		return nil, fmt.Errorf("expected end of object, got %v", tok)
	}
	return entries, nil
}

func parseBody(label string, raw json.RawMessage) labelEntry {
	var body categoryBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return labelEntry{label: label, err: err}
	}
	if body.Logs == nil {
		return labelEntry{label: label, err: fmt.Errorf("missing logs array")}
	}
	return labelEntry{label: label, logs: *body.Logs}
}

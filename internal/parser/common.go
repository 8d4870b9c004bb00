package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/CZERTAINLY/csop/internal/model"
)

// decode unmarshals a whole report. Empty or invalid documents are ErrMalformed.
func decode(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("%w: empty payload", model.ErrMalformed)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", model.ErrMalformed, err)
	}
	return nil
}

// leading returns the first non-space byte of data or 0.
func leading(data []byte) byte {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return 0
	}
	return data[0]
}

// an prefixes word with an indefinite article.
func an(word string) string {
	if word == "" {
		return word
	}
	if strings.ContainsRune("aeiouAEIOU", rune(word[0])) {
		return "an " + word
	}
	return "a " + word
}

// collector accumulates findings of one report. Records which can't be turned
// into a finding are remembered and reported together.
type collector struct {
	source   string
	findings []model.Finding
	errs     []error
}

func newCollector(in Input) *collector {
	return &collector{source: in.Name}
}

func (c *collector) add(f model.Finding, basis ...string) {
	f.Source = c.source
	nf, err := model.NewFinding(f, basis...)
	if err != nil {
		c.errs = append(c.errs, fmt.Errorf("finding %q at %q: %w", f.Title, f.Location, err))
		return
	}
	c.findings = append(c.findings, nf)
}

func (c *collector) fail(err error) {
	c.errs = append(c.errs, err)
}

func (c *collector) result() ([]model.Finding, error) {
	return c.findings, errors.Join(c.errs...)
}

// rawArray encodes records of a group as a JSON array.
func rawArray(records []json.RawMessage) json.RawMessage {
	b, err := json.Marshal(records)
	if err != nil {
		return nil
	}
	return b
}

// appendUnique appends s unless it is empty or already present.
func appendUnique(list []string, s string) []string {
	if s == "" {
		return list
	}
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

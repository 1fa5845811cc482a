package report

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/qadash/internal/columns"
)

// Kind selects which summary a source gets.
type Kind string

const (
	KindRuns   Kind = "runs"   // test run sheets: totals, pass rate, platforms
	KindIssues Kind = "issues" // bug sheets: counts by severity and status
)

// Source describes one published sheet tab.
type Source struct {
	Key           string `yaml:"key" json:"key"`
	Label         string `yaml:"label" json:"label"`
	Kind          Kind   `yaml:"kind" json:"kind"`
	URL           string `yaml:"url,omitempty" json:"url,omitempty"`
	SpreadsheetID string `yaml:"spreadsheet_id,omitempty" json:"spreadsheetId,omitempty"`
	GID           string `yaml:"gid,omitempty" json:"gid,omitempty"`
}

const publishedCSVFormat = "https://docs.google.com/spreadsheets/d/e/%s/pub?gid=%s&single=true&output=csv"

// CSVURL returns the export URL. An explicit URL wins over SpreadsheetID/GID.
func (s Source) CSVURL() string {
	if s.URL != "" {
		return s.URL
	}
	gid := s.GID
	if gid == "" {
		gid = "0"
	}
	return fmt.Sprintf(publishedCSVFormat, url.PathEscape(s.SpreadsheetID), url.QueryEscape(gid))
}

// DisplayName returns the label, or the key when no label is set.
func (s Source) DisplayName() string {
	if s.Label != "" {
		return s.Label
	}
	return s.Key
}

// Catalog is the on-disk list of sources plus optional alias overrides.
type Catalog struct {
	Sources []Source            `yaml:"sources"`
	Aliases map[string][]string `yaml:"aliases,omitempty"`
}

// LoadCatalog reads and validates a catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	for i := range c.Sources {
		c.Sources[i].Key = strings.TrimSpace(c.Sources[i].Key)
		if c.Sources[i].Kind == "" {
			c.Sources[i].Kind = KindRuns
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks keys, kinds and locations. All problems are reported together.
func (c *Catalog) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.Sources))

	for i, s := range c.Sources {
		switch {
		case s.Key == "":
			errs = append(errs, fmt.Errorf("source %d: key is required", i))
		case seen[s.Key]:
			errs = append(errs, fmt.Errorf("source %q: duplicate key", s.Key))
		}
		seen[s.Key] = true

		if s.Kind != KindRuns && s.Kind != KindIssues {
			errs = append(errs, fmt.Errorf("source %q: unknown kind %q", s.Key, s.Kind))
		}
		if s.URL == "" && s.SpreadsheetID == "" {
			errs = append(errs, fmt.Errorf("source %q: url or spreadsheet_id is required", s.Key))
		}
	}

	if _, err := columns.DefaultAliases().Merge(c.Aliases); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidCatalog, errors.Join(errs...))
	}
	return nil
}

// ResolveAliases merges the catalog overrides onto base.
func (c *Catalog) ResolveAliases(base columns.Aliases) (columns.Aliases, error) {
	if base == nil {
		base = columns.DefaultAliases()
	}
	return base.Merge(c.Aliases)
}

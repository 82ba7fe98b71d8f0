// Package catalog parses category catalogs into ordered per-category lists of
// log references.
//
// Two document formats are supported. JSON catalogs name categories by label:
//
//	{"category.timeout": {"logs": ["log1", "log2"]}}
//
// XML catalogs carry repeated Example elements with a numeric Category code:
//
//	<Example><Log>a/b/c/log1.log</Log><Keywords>..</Keywords>
//	<Category>3</Category><Chunk>..</Chunk></Example>
package catalog

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/logsort/internal/config"
	"github.com/hpungsan/logsort/internal/errors"
	"github.com/hpungsan/logsort/internal/logging"
)

// SentinelID is the category code of XML examples whose Category text is not
// an integer.
const SentinelID = -1

// Skip reasons.
const (
	ReasonOverCap            = "over_cap"
	ReasonMalformedCategory  = "malformed_category"
	ReasonMissingElement     = "missing_element"
	ReasonMalformedReference = "malformed_reference"
	ReasonUnreadableDocument = "unreadable_document"
)

// Ref is one catalog entry pointing at a log file by name.
type Ref struct {
	LogName string `json:"log_name"`

	// JSON form.
	Label string `json:"label,omitempty"`

	// XML form.
	Keywords   string `json:"keywords,omitempty"`
	CategoryID int    `json:"category_id,omitempty"`
	Chunk      string `json:"chunk,omitempty"`

	Document string `json:"document"`
}

// Category is the ordered list of refs assigned to one label or code.
type Category struct {
	Key string `json:"key"`
	// ID is the numeric code in XML mode.
	ID   int   `json:"id,omitempty"`
	Refs []Ref `json:"refs"`
	// Admitted counts entries accepted under the hard cap.
	Admitted int `json:"admitted"`
	// Discarded counts entries refused once the hard cap was reached.
	Discarded int `json:"discarded,omitempty"`
}

// Skip is a catalog entry or document that contributed nothing.
type Skip struct {
	Document string `json:"document"`
	Item     string `json:"item,omitempty"`
	Reason   string `json:"reason"`
	Detail   string `json:"detail,omitempty"`
}

// Options controls parsing.
type Options struct {
	// HardCap limits admitted entries per category in JSON mode; 0 disables it.
	HardCap int
	Log     *zap.Logger
}

// Catalog holds categories in first-seen order.
type Catalog struct {
	Mode      string
	Documents int
	Skips     []Skip

	byKey map[string]*Category
	order []*Category
}

// New returns an empty catalog for mode.
func New(mode string) *Catalog {
	return &Catalog{Mode: mode, byKey: map[string]*Category{}}
}

// Categories returns the categories in the order they were first seen.
func (c *Catalog) Categories() []*Category {
	return c.order
}

// Category returns the category stored under key.
func (c *Catalog) Category(key string) (*Category, bool) {
	cat, ok := c.byKey[key]
	return cat, ok
}

// Len returns the number of categories.
func (c *Catalog) Len() int {
	return len(c.order)
}

// Refs returns the number of admitted refs across all categories.
func (c *Catalog) Refs() int {
	n := 0
	for _, cat := range c.order {
		n += len(cat.Refs)
	}
	return n
}

func (c *Catalog) category(key string, id int) *Category {
	cat, ok := c.byKey[key]
	if !ok {
		cat = &Category{Key: key, ID: id}
		c.byKey[key] = cat
		c.order = append(c.order, cat)
	}
	return cat
}

func (c *Catalog) skip(s Skip) {
	c.Skips = append(c.Skips, s)
}

// LoadDir parses every catalog document for mode under dir, recursively and
// in lexical order, into one catalog. Documents that cannot be read or
// decoded are recorded as skips.
func LoadDir(ctx context.Context, dir, mode string, opts Options) (*Catalog, error) {
	ext, err := documentExt(mode)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, errors.NewNotFound(dir)
	}
	log := logging.OrNop(opts.Log).Named("catalog")

	var docs []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && strings.EqualFold(filepath.Ext(path), ext) {
			docs = append(docs, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c := New(mode)
	for _, path := range docs {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewCancelled("catalog")
		}
		name, _ := filepath.Rel(dir, path)
		name = filepath.ToSlash(name)
		if err := c.loadFile(path, name, opts); err != nil {
			log.Warn("unreadable catalog document", zap.String("document", name), zap.Error(err))
			c.skip(Skip{Document: name, Reason: ReasonUnreadableDocument, Detail: err.Error()})
		}
	}

	log.Info("loaded catalog",
		zap.String("dir", dir),
		zap.String("mode", mode),
		zap.Int("documents", c.Documents),
		zap.Int("categories", c.Len()),
		zap.Int("refs", c.Refs()),
		zap.Int("skips", len(c.Skips)))
	return c, nil
}

func (c *Catalog) loadFile(path, name string, opts Options) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if c.Mode == config.ModeXML {
		return c.addXML(f, name, opts)
	}
	return c.addJSON(f, name, opts)
}

func documentExt(mode string) (string, error) {
	switch mode {
	case config.ModeJSON:
		return ".json", nil
	case config.ModeXML:
		return ".xml", nil
	}
	return "", errors.NewInvalidRequest("unknown catalog mode: " + mode)
}

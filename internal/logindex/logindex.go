// Package logindex scans the raw log tree and indexes eligible log files by
// file name, the key category catalogs refer to them by.
package logindex

import (
	"context"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/logsort/internal/config"
	"github.com/hpungsan/logsort/internal/errors"
	"github.com/hpungsan/logsort/internal/fsutil"
	"github.com/hpungsan/logsort/internal/logging"
)

// NestedMarker is the directory path between a repository and its attempt
// directories in the nested layout.
var NestedMarker = []string{"failed", "github"}

// LogFile is one indexed log.
type LogFile struct {
	Name string `json:"name"`
	Path string `json:"path"`
	// Dir is the containing directory relative to the scanned root.
	Dir string `json:"dir"`
}

// Collision records two eligible files sharing a name. Kept is the one left
// in the index.
type Collision struct {
	Name    string `json:"name"`
	Kept    string `json:"kept"`
	Dropped string `json:"dropped"`
}

// Index maps log file names to their location.
type Index struct {
	Root  string             `json:"root"`
	Files map[string]LogFile `json:"-"`
	// Total counts every eligible file seen, collided duplicates included.
	Total      int         `json:"total"`
	Collisions []Collision `json:"collisions,omitempty"`
	// Unmarked lists repositories without the nested marker directory.
	Unmarked []string `json:"unmarked,omitempty"`
}

// Lookup returns the file indexed under name.
func (ix *Index) Lookup(name string) (LogFile, bool) {
	f, ok := ix.Files[name]
	return f, ok
}

// Len returns the number of distinct names.
func (ix *Index) Len() int {
	return len(ix.Files)
}

// Options controls a scan.
type Options struct {
	Ext       string // eligible extension without the dot
	Layout    string // config.LayoutFlat or config.LayoutNested
	Collision string // config.CollisionLastWins or config.CollisionError
	Log       *zap.Logger
}

// Eligible reports whether name ends in "."+ext. Names without a dot, or
// whose only dot is the first character, are never eligible.
func Eligible(name, ext string) bool {
	i := strings.LastIndex(name, ".")
	if i <= 0 {
		return false
	}
	return name[i+1:] == ext
}

// Scan walks root in lexical order and indexes every eligible file.
func Scan(ctx context.Context, root string, opts Options) (*Index, error) {
	if opts.Ext == "" {
		return nil, errors.NewInvalidRequest("extension is required")
	}
	if !fsutil.IsDir(root) {
		return nil, errors.NewNotFound(root)
	}
	log := logging.OrNop(opts.Log).Named("index")

	s := &scanner{
		ix:   &Index{Root: root, Files: map[string]LogFile{}},
		opts: opts,
		log:  log,
	}

	var err error
	switch opts.Layout {
	case "", config.LayoutFlat:
		err = s.flat(ctx, root)
	case config.LayoutNested:
		err = s.nested(ctx, root)
	default:
		return nil, errors.NewInvalidRequest("unknown layout: " + opts.Layout)
	}
	if err != nil {
		return nil, err
	}

	log.Info("indexed logs",
		zap.String("root", root),
		zap.Int("files", s.ix.Len()),
		zap.Int("eligible", s.ix.Total),
		zap.Int("collisions", len(s.ix.Collisions)))
	return s.ix, nil
}

type scanner struct {
	ix   *Index
	opts Options
	log  *zap.Logger
}

// flat: root/<sub>/<file>.
func (s *scanner) flat(ctx context.Context, root string) error {
	subs, err := fsutil.SubDirs(root)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if err := s.dir(ctx, root, sub); err != nil {
			return err
		}
	}
	return nil
}

// nested: root/<repo>/failed/github/<attempt>/<file>.
func (s *scanner) nested(ctx context.Context, root string) error {
	repos, err := fsutil.SubDirs(root)
	if err != nil {
		return err
	}
	for _, repo := range repos {
		marker := filepath.Join(append([]string{repo}, NestedMarker...)...)
		if !fsutil.IsDir(filepath.Join(root, marker)) {
			s.ix.Unmarked = append(s.ix.Unmarked, repo)
			s.log.Debug("repository without marker directory", zap.String("repo", repo))
			continue
		}
		attempts, err := fsutil.SubDirs(filepath.Join(root, marker))
		if err != nil {
			return err
		}
		for _, attempt := range attempts {
			if err := s.dir(ctx, root, filepath.Join(marker, attempt)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *scanner) dir(ctx context.Context, root, rel string) error {
	if err := ctx.Err(); err != nil {
		return errors.NewCancelled("index")
	}
	names, err := fsutil.Files(filepath.Join(root, rel))
	if err != nil {
		return err
	}
	for _, name := range names {
		if !Eligible(name, s.opts.Ext) {
			continue
		}
		if err := s.add(LogFile{Name: name, Path: filepath.Join(root, rel, name), Dir: filepath.ToSlash(rel)}); err != nil {
			return err
		}
	}
	return nil
}

func (s *scanner) add(f LogFile) error {
	s.ix.Total++
	prev, dup := s.ix.Files[f.Name]
	if dup {
		if s.opts.Collision == config.CollisionError {
			return errors.NewIndexCollision(f.Name, prev.Path, f.Path)
		}
		s.ix.Collisions = append(s.ix.Collisions, Collision{Name: f.Name, Kept: f.Path, Dropped: prev.Path})
		s.log.Debug("log name collision", zap.String("name", f.Name), zap.String("kept", f.Path))
	}
	s.ix.Files[f.Name] = f
	return nil
}

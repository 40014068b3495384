package catalog

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type fileFormat struct {
	Documents []Entry `yaml:"documents"`
}

// LoadFile reads a YAML catalog and overlays it on the builtin entries:
// an entry with a builtin type replaces it field by field where the file
// sets a value, and a new type is added.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s", path)
	}
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "catalog: parse %s", path)
	}
	return New(overlay(Builtin(), f.Documents))
}

func overlay(base, extra []Entry) []Entry {
	idx := make(map[string]int, len(base))
	out := append([]Entry(nil), base...)
	for i, e := range out {
		idx[string(e.Type)] = i
	}
	for _, e := range extra {
		i, ok := idx[string(e.Type)]
		if !ok {
			idx[string(e.Type)] = len(out)
			out = append(out, e)
			continue
		}
		cur := out[i]
		if e.Title != "" {
			cur.Title = e.Title
		}
		if e.Prerequisites != nil {
			cur.Prerequisites = e.Prerequisites
		}
		if e.Sections != nil {
			cur.Sections = e.Sections
		}
		if e.Instructions != "" {
			cur.Instructions = e.Instructions
		}
		out[i] = cur
	}
	return out
}

// Watch reloads path into c whenever the file changes, until ctx is done.
// A file that fails to load is logged and the previous catalog kept.
func Watch(ctx context.Context, path string, c *Catalog) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return eris.Wrap(err, "catalog: create watcher")
	}
	// Watch the directory: editors often replace the file via rename.
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close() //nolint:errcheck
		return eris.Wrapf(err, "catalog: watch %s", path)
	}

	target := filepath.Clean(path)
	go func() {
		defer w.Close() //nolint:errcheck
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				next, err := LoadFile(path)
				if err != nil {
					zap.L().Warn("catalog: reload failed, keeping previous", zap.String("path", path), zap.Error(err))
					continue
				}
				c.Replace(next)
				zap.L().Info("catalog: reloaded", zap.String("path", path), zap.Int("types", len(next.Types())))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				zap.L().Warn("catalog: watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

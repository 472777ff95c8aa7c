// Package walk expands directories into the test files they contain.
package walk

import (
	"context"
	"io/fs"
	"iter"
	"os"
	"path"
	"path/filepath"
)

// Roots is a convenience wrapper around FS for os.Root. See FS for details.
func Roots(ctx context.Context, pattern string, roots ...*os.Root) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, root := range roots {
			for p, err := range FS(ctx, root.FS(), root.Name(), pattern) {
				if !yield(p, err) {
					return
				}
			}
		}
	}
}

// FS recursively walks the filesystem rooted at root in lexical order and
// yields a path of every regular file whose base name matches pattern,
// or an error if a directory can't be read. Each path is prefixed with
// name. It does not follow symlinks.
func FS(ctx context.Context, root fs.FS, name, pattern string) iter.Seq2[string, error] {
	if root == nil {
		panic("root is nil")
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return func(yield func(string, error) bool) {
			yield("", err)
		}
	}

	return func(yield func(string, error) bool) {
		fn := func(p string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return fs.SkipAll
			}
			if err != nil {
				if !yield(filepath.Join(name, p), err) {
					return fs.SkipAll
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			if ok, _ := path.Match(pattern, d.Name()); !ok {
				return nil
			}
			if !yield(filepath.Join(name, filepath.FromSlash(p)), nil) {
				return fs.SkipAll
			}
			return nil
		}
		_ = fs.WalkDir(root, ".", fn)
	}
}

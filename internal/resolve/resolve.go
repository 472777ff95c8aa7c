// Package resolve maps test names reported by a runner to test identities.
// Resolvers are read-only once built and safe for concurrent use.
package resolve

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/CZERTAINLY/Herald/internal/model"
	"github.com/CZERTAINLY/Herald/internal/protocol"
)

// Separator splits a file from the rest of a reported test name.
const Separator = "::"

// Static resolves only names it was built with.
type Static struct {
	ids map[string]model.TestID
}

func NewStatic(ids ...model.TestID) Static {
	m := make(map[string]model.TestID, len(ids))
	for _, id := range ids {
		m[id.ID] = id
	}
	return Static{ids: m}
}

func (s Static) Resolve(name string) (model.TestID, bool) {
	id, ok := s.ids[name]
	return id, ok
}

func (s Static) Len() int {
	return len(s.ids)
}

// Passthrough resolves every name. Names in the form file::rest get a
// file URI when the file exists under Root.
type Passthrough struct {
	Root string
}

func (p Passthrough) Resolve(name string) (model.TestID, bool) {
	if name == "" {
		return model.TestID{}, false
	}
	id := model.TestID{
		ID:    name,
		Label: protocol.ShortName(name),
	}
	file, _, ok := strings.Cut(name, Separator)
	if !ok || file == "" {
		return id, true
	}
	path := file
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.Root, path)
	}
	if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
		id.URI = FileURI(path)
	}
	return id, true
}

// FileURI returns a file:// URI of an absolute path.
func FileURI(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	if !strings.HasPrefix(u.Path, "/") {
		u.Path = "/" + u.Path
	}
	return u.String()
}

package filesystem

import (
	"context"
	"os"
	"path"

	krfs "github.com/kr/fs"
)

// walkFS adapts a Provider to kr/fs.FileSystem for one context.
type walkFS struct {
	ctx      context.Context //nolint:containedctx // kr/fs has no context parameter
	provider *Provider
}

func (w walkFS) ReadDir(dirname string) ([]os.FileInfo, error) {
	infos, err := w.provider.List(w.ctx, dirname)
	if err != nil {
		return nil, err
	}

	result := make([]os.FileInfo, len(infos))
	for i := range infos {
		result[i] = infos[i]
	}

	return result, nil
}

func (w walkFS) Lstat(name string) (os.FileInfo, error) {
	return w.provider.Stat(w.ctx, name)
}

func (w walkFS) Join(elem ...string) string {
	return path.Join(elem...)
}

// Walk returns a depth-first walker rooted at root. Each directory costs one
// listing round trip.
func (p *Provider) Walk(ctx context.Context, root string) *krfs.Walker {
	return krfs.WalkFS(p.Resolve(root), walkFS{ctx: ctx, provider: p})
}

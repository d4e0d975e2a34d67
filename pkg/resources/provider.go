package resources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"regexp"
	"strings"
)

// Provider enumerates and opens template resources.
type Provider interface {
	// List returns every location the provider can open, in a stable order.
	List(ctx context.Context) ([]string, error)
	// Open returns a reader for the resource at location.
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}

// FSProvider serves the regular files of an fs.FS. The file "a/b.dust" has the
// location "/a/b.dust".
type FSProvider struct {
	fsys fs.FS
}

// NewFSProvider returns a provider over fsys.
func NewFSProvider(fsys fs.FS) *FSProvider {
	return &FSProvider{fsys: fsys}
}

// NewDirProvider returns a provider over the directory tree rooted at dir.
func NewDirProvider(dir string) *FSProvider {
	return NewFSProvider(os.DirFS(dir))
}

// List walks the file system in lexical order.
func (p *FSProvider) List(ctx context.Context) ([]string, error) {
	var (
		locations []string
		errs      []error
	)
	err := fs.WalkDir(p.fsys, ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			if name == "." {
				return err
			}
			// An unreadable entry only hides its own subtree.
			errs = append(errs, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if err = ctx.Err(); err != nil {
			return err
		}
		if d.Type().IsRegular() {
			locations = append(locations, "/"+name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	if len(errs) > 0 {
		return locations, fmt.Errorf("failed to list resources: %w", errors.Join(errs...))
	}
	return locations, nil
}

func (p *FSProvider) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := strings.TrimPrefix(path.Clean("/"+location), "/")
	if name == "" {
		return nil, &fs.PathError{Op: "open", Path: location, Err: fs.ErrInvalid}
	}
	return p.fsys.Open(name)
}

// Chain merges several providers. List concatenates their locations in
// provider order; Open asks each provider in turn and returns the first
// resource found.
type Chain []Provider

func (c Chain) List(ctx context.Context) ([]string, error) {
	var locations []string
	var errs []error
	for _, p := range c {
		l, err := p.List(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		locations = append(locations, l...)
	}
	return locations, errors.Join(errs...)
}

func (c Chain) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	err := error(fs.ErrNotExist)
	for _, p := range c {
		rc, openErr := p.Open(ctx, location)
		if openErr == nil {
			return rc, nil
		}
		err = openErr
		if !errors.Is(openErr, fs.ErrNotExist) {
			return nil, openErr
		}
	}
	return nil, err
}

// CompilePattern turns a resource pattern into an anchored regular
// expression: "*" matches any substring and everything else is literal.
func CompilePattern(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return regexp.MustCompile(`(?s)^` + strings.Join(parts, ".*") + "$")
}

// IsWildcard reports whether pattern needs enumeration to resolve.
func IsWildcard(pattern string) bool {
	return strings.Contains(pattern, "*")
}

// Expand resolves pattern against p. A pattern without "*" names a single
// location and is returned as is without consulting the provider; whether it
// exists is discovered when it is read.
func Expand(ctx context.Context, p Provider, pattern string) ([]string, error) {
	if !IsWildcard(pattern) {
		return []string{pattern}, nil
	}
	locations, err := p.List(ctx)
	if err != nil && len(locations) == 0 {
		return nil, fmt.Errorf("failed to expand pattern %q: %w", pattern, err)
	}
	re := CompilePattern(pattern)
	var matches []string
	for _, location := range locations {
		if re.MatchString(location) {
			matches = append(matches, location)
		}
	}
	return matches, err
}

// NameOf returns the logical template name for a location: its final path
// segment.
func NameOf(location string) string {
	if i := strings.LastIndexByte(location, '/'); i >= 0 {
		return location[i+1:]
	}
	return location
}

package resources

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"dust/testResource.dust":    {Data: []byte("Hello {name}!")},
		"dust/anotherResource.dust": {Data: []byte("Bye {name}!")},
		"dust/nested/deep.dust":     {Data: []byte("deep")},
		"dust/readme.txt":           {Data: []byte("not a template")},
		"other/page.dust":           {Data: []byte("page")},
	}
}

func TestCompilePattern(t *testing.T) {
	tests := []struct {
		pattern  string
		location string
		want     bool
	}{
		{"/dust/*.dust", "/dust/testResource.dust", true},
		{"/dust/*.dust", "/dust/nested/deep.dust", true},
		{"/dust/*.dust", "/dust/readme.txt", false},
		{"/dust/*.dust", "/other/dust/x.dust", false},
		{"/dust/*.dust", "/dustXa.dust", false},
		{"*", "/anything/at/all", true},
		{"/a.b", "/aXb", false},
		{"/a+(b)", "/a+(b)", true},
		{"/exact.dust", "/exact.dust", true},
		{"/exact.dust", "/exact.dust.bak", false},
		{"/*/page.*", "/other/page.dust", true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.location, func(t *testing.T) {
			if got := CompilePattern(tt.pattern).MatchString(tt.location); got != tt.want {
				t.Errorf("CompilePattern(%q).MatchString(%q) = %v, want %v", tt.pattern, tt.location, got, tt.want)
			}
		})
	}
}

func TestNameOf(t *testing.T) {
	tests := map[string]string{
		"/dust/testResource.dust": "testResource.dust",
		"/db/page":                "page",
		"bare.dust":               "bare.dust",
		"/dir/":                   "",
	}
	for location, want := range tests {
		if got := NameOf(location); got != want {
			t.Errorf("NameOf(%q) = %q, want %q", location, got, want)
		}
	}
}

func TestFSProvider_List(t *testing.T) {
	p := NewFSProvider(testFS())
	got, err := p.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{
		"/dust/anotherResource.dust",
		"/dust/nested/deep.dust",
		"/dust/readme.txt",
		"/dust/testResource.dust",
		"/other/page.dust",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("List mismatch (-want +got):\n%s", diff)
	}
}

// unreadableDirFS fails to read the listed directories.
type unreadableDirFS struct {
	fstest.MapFS
	bad map[string]bool
}

func (f unreadableDirFS) ReadDir(name string) ([]fs.DirEntry, error) {
	if f.bad[name] {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrPermission}
	}
	return f.MapFS.ReadDir(name)
}

func TestFSProvider_ListPartialFailure(t *testing.T) {
	fsys := unreadableDirFS{
		MapFS: fstest.MapFS{
			"a.dust":      {Data: []byte("a")},
			"bad/x.dust":  {Data: []byte("x")},
			"good/b.dust": {Data: []byte("b")},
		},
		bad: map[string]bool{"bad": true},
	}
	p := NewFSProvider(fsys)

	got, err := p.List(context.Background())
	if !errors.Is(err, fs.ErrPermission) {
		t.Errorf("expected the unreadable directory to be reported, got %v", err)
	}
	if diff := cmp.Diff([]string{"/a.dust", "/good/b.dust"}, got); diff != "" {
		t.Errorf("readable entries were lost (-want +got):\n%s", diff)
	}

	matches, err := Expand(context.Background(), p, "/*.dust")
	if err == nil {
		t.Error("Expand dropped the listing error")
	}
	if diff := cmp.Diff([]string{"/a.dust", "/good/b.dust"}, matches); diff != "" {
		t.Errorf("Expand mismatch (-want +got):\n%s", diff)
	}

	// A failure at the root is still fatal.
	root := unreadableDirFS{MapFS: fsys.MapFS, bad: map[string]bool{".": true}}
	if got, err = NewFSProvider(root).List(context.Background()); err == nil || got != nil {
		t.Errorf("List with an unreadable root = %v, %v; want nil, error", got, err)
	}
}

func TestFSProvider_Open(t *testing.T) {
	p := NewFSProvider(testFS())
	ctx := context.Background()

	text, err := ReadString(ctx, p, "/dust/testResource.dust")
	if err != nil {
		t.Fatalf("ReadString failed: %v", err)
	}
	if text != "Hello {name}!" {
		t.Errorf("unexpected content %q", text)
	}

	_, err = ReadString(ctx, p, "/dust/missing.dust")
	var readErr *ReadError
	if !errors.As(err, &readErr) {
		t.Fatalf("expected *ReadError, got %v", err)
	}
	if readErr.Location != "/dust/missing.dust" {
		t.Errorf("unexpected location %q", readErr.Location)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected the error to wrap fs.ErrNotExist, got %v", err)
	}
}

func TestDirProvider(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "a.dust"), []byte("A"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := NewDirProvider(dir)
	got, err := Expand(context.Background(), p, "/*.dust")
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	if diff := cmp.Diff([]string{"/sub/a.dust"}, got); diff != "" {
		t.Errorf("Expand mismatch (-want +got):\n%s", diff)
	}
}

func TestExpand(t *testing.T) {
	p := NewFSProvider(testFS())
	ctx := context.Background()

	got, err := Expand(ctx, p, "/dust/*Resource.dust")
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	want := []string{"/dust/anotherResource.dust", "/dust/testResource.dust"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Expand mismatch (-want +got):\n%s", diff)
	}

	// Literal patterns are passed through unchecked.
	got, err = Expand(ctx, p, "/dust/missing.dust")
	if err != nil {
		t.Fatalf("Expand of a literal failed: %v", err)
	}
	if diff := cmp.Diff([]string{"/dust/missing.dust"}, got); diff != "" {
		t.Errorf("literal Expand mismatch (-want +got):\n%s", diff)
	}

	got, err = Expand(ctx, p, "/nowhere/*")
	if err != nil || len(got) != 0 {
		t.Errorf("Expand with no matches = %v, %v; want empty, nil", got, err)
	}
}

type failingProvider struct{}

func (failingProvider) List(context.Context) ([]string, error) {
	return nil, errors.New("listing unavailable")
}

func (failingProvider) Open(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("backend down")
}

func TestExpand_ListFailure(t *testing.T) {
	_, err := Expand(context.Background(), failingProvider{}, "/*")
	if err == nil || !strings.Contains(err.Error(), "listing unavailable") {
		t.Fatalf("expected the listing error, got %v", err)
	}
}

func TestChain(t *testing.T) {
	first := NewFSProvider(fstest.MapFS{"a.dust": {Data: []byte("first a")}})
	second := NewFSProvider(fstest.MapFS{
		"a.dust": {Data: []byte("second a")},
		"b.dust": {Data: []byte("second b")},
	})
	chain := Chain{first, second}
	ctx := context.Background()

	got, err := chain.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if diff := cmp.Diff([]string{"/a.dust", "/a.dust", "/b.dust"}, got); diff != "" {
		t.Errorf("List mismatch (-want +got):\n%s", diff)
	}

	for location, want := range map[string]string{"/a.dust": "first a", "/b.dust": "second b"} {
		text, err := ReadString(ctx, chain, location)
		if err != nil {
			t.Fatalf("ReadString(%q) failed: %v", location, err)
		}
		if text != want {
			t.Errorf("ReadString(%q) = %q, want %q", location, text, want)
		}
	}

	if _, err = chain.Open(ctx, "/c.dust"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected fs.ErrNotExist for a missing resource, got %v", err)
	}
}

func TestChain_PartialListFailure(t *testing.T) {
	chain := Chain{failingProvider{}, NewFSProvider(testFS())}
	got, err := Expand(context.Background(), chain, "/other/*")
	if err == nil {
		t.Error("expected the failing provider's error to be reported")
	}
	if diff := cmp.Diff([]string{"/other/page.dust"}, got); diff != "" {
		t.Errorf("the healthy provider's matches were lost (-want +got):\n%s", diff)
	}
}

func TestChain_OpenStopsOnHardError(t *testing.T) {
	chain := Chain{failingProvider{}, NewFSProvider(testFS())}
	if _, err := chain.Open(context.Background(), "/other/page.dust"); err == nil || errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected the backend error, got %v", err)
	}
}

func TestDecodeUTF8(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"plain", []byte("¡Héllø {name}!"), "¡Héllø {name}!"},
		{"bom stripped", append([]byte{0xEF, 0xBB, 0xBF}, []byte("Yårñ")...), "Yårñ"},
		{"ill-formed replaced", []byte{'a', 0xFF, 'b'}, "a�b"},
		{"empty", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeUTF8(strings.NewReader(string(tt.in)))
			if err != nil {
				t.Fatalf("DecodeUTF8 failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("DecodeUTF8 = %q, want %q", got, tt.want)
			}
		})
	}
}

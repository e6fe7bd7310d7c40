package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

type entry struct {
	name     string
	body     string
	typeflag byte
	linkname string
	mode     int64
}

func buildTar(t *testing.T, entries []entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		typeflag := e.typeflag
		if typeflag == 0 {
			typeflag = tar.TypeReg
		}
		mode := e.mode
		if mode == 0 {
			mode = 0644
		}
		hdr := &tar.Header{
			Name:     e.name,
			Typeflag: typeflag,
			Linkname: e.linkname,
			Mode:     mode,
			Size:     int64(len(e.body)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("failed to write header: %v", err)
		}
		if _, err := tw.Write([]byte(e.body)); err != nil {
			t.Fatalf("failed to write body: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("failed to close tar: %v", err)
	}
	return buf.Bytes()
}

func compress(t *testing.T, c Compression, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	var w io.WriteCloser
	var err error

	switch c {
	case CompressionNone:
		return data
	case CompressionGzip:
		w = gzip.NewWriter(&buf)
	case CompressionXz:
		w, err = xz.NewWriter(&buf)
	case CompressionZstd:
		w, err = zstd.NewWriter(&buf)
	case CompressionLZ4:
		w = lz4.NewWriter(&buf)
	default:
		t.Fatalf("no writer for %s", c)
	}
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("failed to compress: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	return buf.Bytes()
}

var sourceTree = []entry{
	{name: "foo-1.0/", typeflag: tar.TypeDir, mode: 0755},
	{name: "foo-1.0/configure", body: "#!/bin/sh\n", mode: 0755},
	{name: "foo-1.0/src/main.c", body: "int main(void) { return 0; }\n"},
	{name: "foo-1.0/README", typeflag: tar.TypeSymlink, linkname: "src/main.c"},
	{name: "foo-1.0/COPYING", typeflag: tar.TypeLink, linkname: "foo-1.0/src/main.c"},
}

func TestExtract_Compressions(t *testing.T) {
	raw := buildTar(t, sourceTree)

	for _, c := range []Compression{CompressionNone, CompressionGzip, CompressionXz, CompressionZstd, CompressionLZ4} {
		t.Run(string(c), func(t *testing.T) {
			data := compress(t, c, raw)

			detected, _, err := Detect(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("detect failed: %v", err)
			}
			if detected != c {
				t.Errorf("expected %s, got %s", c, detected)
			}

			dest := t.TempDir()
			if err := Extract(context.Background(), bytes.NewReader(data), dest, Options{Strip: 1}); err != nil {
				t.Fatalf("extract failed: %v", err)
			}

			got, err := os.ReadFile(filepath.Join(dest, "src", "main.c"))
			if err != nil || string(got) != "int main(void) { return 0; }\n" {
				t.Errorf("unexpected main.c %q: %v", got, err)
			}

			info, err := os.Stat(filepath.Join(dest, "configure"))
			if err != nil {
				t.Fatalf("stat failed: %v", err)
			}
			if info.Mode().Perm() != 0755 {
				t.Errorf("expected mode 0755, got %v", info.Mode().Perm())
			}

			link, err := os.Readlink(filepath.Join(dest, "README"))
			if err != nil || link != "src/main.c" {
				t.Errorf("expected symlink to src/main.c, got %q: %v", link, err)
			}

			if _, err := os.Stat(filepath.Join(dest, "COPYING")); err != nil {
				t.Errorf("expected hard link: %v", err)
			}
		})
	}
}

func TestExtractFile_Bzip2(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "build")
	if err := ExtractFile(context.Background(), filepath.Join("testdata", "hello-1.0.tar.bz2"), dest, Options{Strip: 1}); err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dest, "configure"))
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(got) != "#!/bin/sh\necho hello\n" {
		t.Errorf("unexpected content %q", got)
	}
}

func TestExtract_NoStrip(t *testing.T) {
	dest := t.TempDir()
	raw := buildTar(t, []entry{
		{name: "./usr/bin/", typeflag: tar.TypeDir, mode: 0755},
		{name: "./usr/bin/sh", body: "x", mode: 0755},
		{name: "./bin", typeflag: tar.TypeSymlink, linkname: "usr/bin"},
	})

	if err := Extract(context.Background(), bytes.NewReader(raw), dest, Options{}); err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "usr", "bin", "sh")); err != nil {
		t.Errorf("expected usr/bin/sh: %v", err)
	}
}

func TestExtract_Unsafe(t *testing.T) {
	tests := []struct {
		name    string
		entries []entry
	}{
		{
			name:    "dotdot",
			entries: []entry{{name: "foo/../../etc/passwd", body: "x"}},
		},
		{
			name: "through symlink",
			entries: []entry{
				{name: "foo/escape", typeflag: tar.TypeSymlink, linkname: "/tmp"},
				{name: "foo/escape/owned", body: "x"},
			},
		},
		{
			name:    "hard link outside",
			entries: []entry{{name: "foo/shadow", typeflag: tar.TypeLink, linkname: "../../etc/shadow"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dest := t.TempDir()
			err := Extract(context.Background(), bytes.NewReader(buildTar(t, tt.entries)), dest, Options{Strip: 1})
			if !errors.Is(err, ErrUnsafePath) {
				t.Errorf("expected ErrUnsafePath, got %v", err)
			}
		})
	}
}

func TestExtract_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Extract(ctx, bytes.NewReader(buildTar(t, sourceTree)), t.TempDir(), Options{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestEntryPath(t *testing.T) {
	tests := []struct {
		name  string
		strip int
		want  string
		ok    bool
	}{
		{name: "foo-1.0/", strip: 1, ok: false},
		{name: "foo-1.0/a/b", strip: 1, want: filepath.Join("a", "b"), ok: true},
		{name: "./a", strip: 0, want: "a", ok: true},
		{name: "/abs/path", strip: 0, want: filepath.Join("abs", "path"), ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := entryPath(tt.name, tt.strip)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tt.ok || got != tt.want {
				t.Errorf("expected (%q, %v), got (%q, %v)", tt.want, tt.ok, got, ok)
			}
		})
	}
}

// Package archive extracts source and base-system tarballs.
package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// ErrUnsafePath is returned for entries that would land outside the
// destination directory.
var ErrUnsafePath = errors.New("unsafe path in archive")

// Options controls extraction.
type Options struct {
	// Strip drops this many leading path components from every entry.
	Strip int

	// PreserveOwner applies the uid and gid recorded in the archive and
	// creates device nodes. It requires root.
	PreserveOwner bool

	Logger zerolog.Logger
}

// ExtractFile extracts the tarball at path into dest, creating dest if needed.
func ExtractFile(ctx context.Context, path, dest string, opts Options) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	if err := Extract(ctx, f, dest, opts); err != nil {
		return fmt.Errorf("failed to extract %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Extract reads a possibly compressed tar stream from r into dest.
func Extract(ctx context.Context, r io.Reader, dest string, opts Options) error {
	compression, r, err := Detect(r)
	if err != nil {
		return err
	}
	rc, err := Decompress(compression, r)
	if err != nil {
		return err
	}
	defer rc.Close()

	dest, err = filepath.Abs(dest)
	if err != nil {
		return fmt.Errorf("failed to resolve destination: %w", err)
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}

	opts.Logger.Debug().
		Str("compression", string(compression)).
		Str("dest", dest).
		Int("strip", opts.Strip).
		Msg("extracting archive")

	tr := tar.NewReader(rc)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar entry: %w", err)
		}

		name, ok, err := entryPath(hdr.Name, opts.Strip)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		target := filepath.Join(dest, name)
		if err := checkParents(dest, name); err != nil {
			return err
		}

		if err := writeEntry(tr, hdr, dest, target, opts); err != nil {
			return fmt.Errorf("%s: %w", hdr.Name, err)
		}
	}
}

// entryPath strips components from an archive name and checks that the
// rest stays local. ok is false for entries stripped away entirely.
func entryPath(name string, strip int) (string, bool, error) {
	name = strings.TrimLeft(filepath.ToSlash(name), "/")
	parts := make([]string, 0, 8)
	for _, p := range strings.Split(name, "/") {
		if p != "" && p != "." {
			parts = append(parts, p)
		}
	}
	if len(parts) <= strip {
		return "", false, nil
	}
	rel := filepath.Join(parts[strip:]...)
	if !filepath.IsLocal(rel) {
		return "", false, fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return rel, true, nil
}

// checkParents refuses to write through a symlink created by an earlier
// entry, which could otherwise point outside dest.
func checkParents(dest, rel string) error {
	dir := dest
	parts := strings.Split(filepath.Dir(rel), string(filepath.Separator))
	for _, p := range parts {
		if p == "." {
			break
		}
		dir = filepath.Join(dir, p)
		info, err := os.Lstat(dir)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s traverses symlink %s", ErrUnsafePath, rel, dir)
		}
	}
	return nil
}

func writeEntry(tr *tar.Reader, hdr *tar.Header, dest, target string, opts Options) error {
	mode := hdr.FileInfo().Mode() & (fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky)

	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(target, 0755); err != nil {
			return err
		}
		if !opts.PreserveOwner {
			// Unprivileged extraction must still be able to fill the directory.
			mode |= 0700
		}
		if err := os.Chmod(target, mode); err != nil {
			return err
		}

	case tar.TypeReg:
		if err := prepareTarget(target); err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil {
			_ = out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
		if err := os.Chmod(target, mode); err != nil {
			return err
		}
		_ = os.Chtimes(target, hdr.AccessTime, hdr.ModTime)

	case tar.TypeSymlink:
		if err := prepareTarget(target); err != nil {
			return err
		}
		if err := os.Symlink(hdr.Linkname, target); err != nil {
			return err
		}

	case tar.TypeLink:
		linkRel, ok, err := entryPath(hdr.Linkname, opts.Strip)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: hard link target %s stripped away", ErrUnsafePath, hdr.Linkname)
		}
		if err := prepareTarget(target); err != nil {
			return err
		}
		if err := os.Link(filepath.Join(dest, linkRel), target); err != nil {
			return err
		}

	case tar.TypeChar, tar.TypeBlock, tar.TypeFifo:
		if !opts.PreserveOwner {
			opts.Logger.Debug().Str("entry", hdr.Name).Msg("skipping special file")
			return nil
		}
		if err := prepareTarget(target); err != nil {
			return err
		}
		if err := mknod(target, hdr); err != nil {
			return err
		}

	case tar.TypeXGlobalHeader:
		return nil

	default:
		opts.Logger.Debug().Str("entry", hdr.Name).Int("type", int(hdr.Typeflag)).Msg("skipping unsupported entry")
		return nil
	}

	if opts.PreserveOwner {
		if err := os.Lchown(target, hdr.Uid, hdr.Gid); err != nil {
			return err
		}
		// chown clears setuid and setgid bits.
		if hdr.Typeflag == tar.TypeReg && mode&(fs.ModeSetuid|fs.ModeSetgid) != 0 {
			return os.Chmod(target, mode)
		}
	}
	return nil
}

// prepareTarget creates the parent directory and removes any non-directory
// already at target.
func prepareTarget(target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	info, err := os.Lstat(target)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("a directory exists at %s", target)
	}
	return os.Remove(target)
}

func mknod(target string, hdr *tar.Header) error {
	perm := uint32(hdr.Mode & 0o7777)
	switch hdr.Typeflag {
	case tar.TypeChar:
		perm |= unix.S_IFCHR
	case tar.TypeBlock:
		perm |= unix.S_IFBLK
	case tar.TypeFifo:
		perm |= unix.S_IFIFO
	}
	dev := unix.Mkdev(uint32(hdr.Devmajor), uint32(hdr.Devminor))
	if err := unix.Mknod(target, perm, int(dev)); err != nil {
		return fmt.Errorf("mknod: %w", err)
	}
	return nil
}

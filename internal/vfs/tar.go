package vfs

import (
	"archive/tar"
	"fmt"
	"io"
	"path"
)

// LoadTar imports a streaming tar archive (the guest's root_fs_tar export,
// spec.md §4.2 "Import protocol"), rejecting any entry that is not a
// regular file or directory: symlinks, hardlinks, sparse files, and other
// special entry types are all refused. A single rejected entry fails the
// whole load — matching original_source's guests/evil/src/root/*.rs
// fixtures (invalid_entry, sparse, unsupported_entry, large_file,
// many_files, path_long, tar_too_large).
func (f *FS) LoadTar(r io.Reader) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}
		name := path.Clean("/" + hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if name != "/" {
				if err := f.Mkdir(name); err != nil {
					return fmt.Errorf("tar entry %q: %w", hdr.Name, err)
				}
			}
		case tar.TypeReg, tar.TypeRegA:
			if err := f.Create(name); err != nil {
				return fmt.Errorf("tar entry %q: %w", hdr.Name, err)
			}
			data := make([]byte, hdr.Size)
			if _, err := io.ReadFull(tr, data); err != nil {
				return fmt.Errorf("tar entry %q: read body: %w", hdr.Name, err)
			}
			if err := f.Write(name, data); err != nil {
				return fmt.Errorf("tar entry %q: %w", hdr.Name, err)
			}
		default:
			return fmt.Errorf("tar entry %q: unsupported entry type %c (symlinks, hardlinks, sparse and device files are rejected)", hdr.Name, hdr.Typeflag)
		}
	}
}

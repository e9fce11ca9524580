package remote

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Archive builds a tar.gz of the working copy, excluding VCS metadata. The
// result is what gets uploaded to the host and unpacked by the bootstrap
// script.
func Archive(srcDir string) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	err := filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, rErr := filepath.Rel(srcDir, path)
		if rErr != nil {
			return rErr
		}
		if rel == "." {
			return nil
		}
		if info.IsDir() {
			if filepath.Base(path) == ".git" {
				return filepath.SkipDir
			}
			hdr := &tar.Header{
				Name:     filepath.ToSlash(rel) + "/",
				Mode:     int64(info.Mode().Perm()),
				Typeflag: tar.TypeDir,
				ModTime:  info.ModTime(),
			}
			return tw.WriteHeader(hdr)
		}
		if !info.Mode().IsRegular() {
			return nil // sockets, symlinks etc are not shipped
		}

		hdr := &tar.Header{
			Name:    filepath.ToSlash(rel),
			Mode:    int64(info.Mode().Perm()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, oErr := os.Open(path)
		if oErr != nil {
			return oErr
		}
		defer f.Close()
		_, cErr := io.Copy(tw, f)
		return cErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to archive %s: %w", srcDir, err)
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExtractNames lists the entries of a tar.gz archive. Test helper exposed
// here because it pairs with Archive.
func ExtractNames(data []byte) ([]string, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		names = append(names, strings.TrimSuffix(hdr.Name, "/"))
	}
	return names, nil
}

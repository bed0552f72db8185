package ingest

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"strings"

	"github.com/serhei/bunsen/internal/bunsenerr"
)

// LoadTar reads a bunsen upload bundle from a tar or tar.gz stream: the
// upload front-end hands ingest() a tar of files. Only regular-file
// entries are kept, each as a file_map entry keyed by its path within the
// archive (a leading "./" removed); directories and other entry types are
// skipped.
func LoadTar(r io.Reader, gzipped bool) (map[string][]byte, error) {
	if gzipped {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, bunsenerr.Wrap(err, bunsenerr.BadConfig, "opening gzip stream")
		}
		defer gz.Close()
		r = gz
	}

	files := map[string][]byte{}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, bunsenerr.Wrap(err, bunsenerr.BadConfig, "reading tar stream")
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, bunsenerr.Wrap(err, bunsenerr.BadConfig, "reading tar entry "+hdr.Name)
		}
		files[strings.TrimPrefix(hdr.Name, "./")] = data
	}
	return files, nil
}

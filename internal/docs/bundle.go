package docs

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// BundleInfo describes a written documentation bundle
type BundleInfo struct {
	Path      string
	SHA256    string
	SizeBytes int64
	Files     []string
}

// bundleFiles maps every format to its name inside a bundle
var bundleFiles = []struct {
	name   string
	format Format
}{
	{"openapi.json", FormatOpenAPI},
	{"openapi.yaml", FormatOpenAPIYAML},
	{"postman_collection.json", FormatPostman},
	{"API.md", FormatMarkdown},
}

// Bundle writes every documentation format into a tar.gz archive at path
func Bundle(src Source, info Info, path string) (*BundleInfo, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	outFile, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create bundle file: %w", err)
	}
	defer outFile.Close()

	// Hash what is written to disk
	hasher := sha256.New()
	gzWriter := gzip.NewWriter(io.MultiWriter(outFile, hasher))
	tarWriter := tar.NewWriter(gzWriter)

	modTime := time.Now().UTC()
	files := make([]string, 0, len(bundleFiles))
	for _, f := range bundleFiles {
		data, err := Generate(src, f.format, info)
		if err != nil {
			return nil, fmt.Errorf("failed to generate %s: %w", f.name, err)
		}
		header := &tar.Header{
			Name:    f.name,
			Mode:    0o644,
			Size:    int64(len(data)),
			ModTime: modTime,
		}
		if err := tarWriter.WriteHeader(header); err != nil {
			return nil, err
		}
		if _, err := tarWriter.Write(data); err != nil {
			return nil, err
		}
		files = append(files, f.name)
	}

	// Close writers to flush data before calculating hash
	if err := tarWriter.Close(); err != nil {
		return nil, err
	}
	if err := gzWriter.Close(); err != nil {
		return nil, err
	}
	if err := outFile.Close(); err != nil {
		return nil, err
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat bundle: %w", err)
	}
	return &BundleInfo{
		Path:      path,
		SHA256:    fmt.Sprintf("%x", hasher.Sum(nil)),
		SizeBytes: stat.Size(),
		Files:     files,
	}, nil
}

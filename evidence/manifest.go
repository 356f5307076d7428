package evidence

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// WriteManifest hashes every file under dir except the manifest itself and
// writes "<sha256>  <relative/path>" lines in path order.
func WriteManifest(dir string) error {
	entries, err := hashTree(dir)
	if err != nil {
		return err
	}
	var b bytes.Buffer
	for _, e := range entries {
		fmt.Fprintf(&b, "%s  %s\n", e.sum, e.rel)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), b.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Verify recomputes the manifest of dir and compares it with the stored one.
// Missing, extra or modified files yield ErrManifestMismatch.
func Verify(dir string) error {
	want, err := readManifest(filepath.Join(dir, ManifestFile))
	if err != nil {
		return err
	}
	got, err := hashTree(dir)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(got))
	for _, e := range got {
		seen[e.rel] = true
		sum, ok := want[e.rel]
		if !ok {
			return fmt.Errorf("%w: unlisted file %s", ErrManifestMismatch, e.rel)
		}
		if sum != e.sum {
			return fmt.Errorf("%w: %s changed", ErrManifestMismatch, e.rel)
		}
	}
	for rel := range want {
		if !seen[rel] {
			return fmt.Errorf("%w: %s missing", ErrManifestMismatch, rel)
		}
	}
	return nil
}

type fileHash struct {
	rel string
	sum string
}

func hashTree(dir string) ([]fileHash, error) {
	var out []fileHash
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == ManifestFile {
			return nil
		}
		sum, err := hashFile(path)
		if err != nil {
			return err
		}
		out = append(out, fileHash{rel: rel, sum: sum})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", dir, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].rel < out[j].rel })
	return out, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func readManifest(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	defer f.Close()
	out := map[string]string{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		sum, rel, ok := strings.Cut(line, "  ")
		if !ok || len(sum) != sha256.Size*2 {
			return nil, fmt.Errorf("%w: malformed line %q", ErrManifestMismatch, line)
		}
		out[rel] = sum
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return out, nil
}

package export

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"

	"github.com/gowebpki/jcs"
	"github.com/upb/compliance-ledger/services/contentstore"
	"github.com/upb/compliance-ledger/services/snapshot"
)

// maxArchiveEntry bounds a single decompressed entry read during verification
const maxArchiveEntry = 1 << 30

// Verification is the outcome of checking an archive against its own manifest
type Verification struct {
	ManifestDigest string
	EvidenceFiles  int
	PolicyFiles    int
	Problems       []string
}

// OK reports whether no problem was found
func (v *Verification) OK() bool {
	return len(v.Problems) == 0
}

func (v *Verification) problemf(format string, args ...interface{}) {
	v.Problems = append(v.Problems, fmt.Sprintf(format, args...))
}

// VerifyArchive checks an exported archive offline: the manifest matches the
// schema and is canonical, every evidence file hashes to its manifest digest,
// policies match their recorded content, the index agrees with the manifest and
// nothing unlisted is present. An error is returned only when data is not a
// readable archive.
func VerifyArchive(data []byte) (*Verification, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	files := make(map[string][]byte, len(zr.File))
	for _, zf := range zr.File {
		if _, dup := files[zf.Name]; dup {
			return nil, fmt.Errorf("duplicate archive entry %q", zf.Name)
		}
		body, err := readEntry(zf)
		if err != nil {
			return nil, err
		}
		files[zf.Name] = body
	}

	result := &Verification{}
	raw, ok := files["manifest.json"]
	if !ok {
		result.problemf("manifest.json is missing")
		return result, nil
	}
	if err := snapshot.ValidateJSON(raw); err != nil {
		result.problemf("manifest.json does not match the schema: %v", err)
		return result, nil
	}
	canonical, err := jcs.Transform(raw)
	if err != nil || !bytes.Equal(canonical, raw) {
		result.problemf("manifest.json is not in canonical form")
	}
	result.ManifestDigest = snapshot.DigestOf(raw)

	var manifest snapshot.Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		result.problemf("manifest.json cannot be decoded: %v", err)
		return result, nil
	}

	listed := map[string]bool{"manifest.json": true, "index.json": true}
	for _, c := range manifest.Controls {
		for _, e := range c.Evidence {
			listed[e.ArchivePath] = true
			body, ok := files[e.ArchivePath]
			if !ok {
				result.problemf("%s: evidence %s is missing", c.Code, e.ArchivePath)
				continue
			}
			result.EvidenceFiles++
			if int64(len(body)) != e.SizeBytes {
				result.problemf("%s: %s is %d bytes, manifest records %d", c.Code, e.ArchivePath, len(body), e.SizeBytes)
			}
			if !contentstore.Verify(e.Digest, body) {
				result.problemf("%s: %s does not match digest %s", c.Code, e.ArchivePath, e.Digest)
			}
		}
	}
	for _, p := range manifest.Policies {
		listed[p.ArchivePath] = true
		body, ok := files[p.ArchivePath]
		if !ok {
			result.problemf("policy %s is missing", p.ArchivePath)
			continue
		}
		result.PolicyFiles++
		if string(body) != p.Content {
			result.problemf("policy %s differs from the manifest", p.ArchivePath)
		}
	}

	if rawIndex, ok := files["index.json"]; !ok {
		result.problemf("index.json is missing")
	} else {
		var index map[string][]string
		if err := json.Unmarshal(rawIndex, &index); err != nil {
			result.problemf("index.json cannot be decoded: %v", err)
		} else if !reflect.DeepEqual(normalizeIndex(index), normalizeIndex(manifest.Index())) {
			result.problemf("index.json does not match the manifest")
		}
	}

	var extra []string
	for name := range files {
		if !listed[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		result.problemf("unlisted file %s", name)
	}
	return result, nil
}

func readEntry(zf *zip.File) ([]byte, error) {
	rc, err := zf.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", zf.Name, err)
	}
	defer rc.Close()
	body, err := io.ReadAll(io.LimitReader(rc, maxArchiveEntry+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", zf.Name, err)
	}
	if len(body) > maxArchiveEntry {
		return nil, fmt.Errorf("entry %s exceeds %d bytes", zf.Name, maxArchiveEntry)
	}
	return body, nil
}

// normalizeIndex treats a nil and an empty path list alike
func normalizeIndex(index map[string][]string) map[string][]string {
	out := make(map[string][]string, len(index))
	for code, paths := range index {
		if len(paths) == 0 {
			paths = []string{}
		}
		out[code] = paths
	}
	return out
}

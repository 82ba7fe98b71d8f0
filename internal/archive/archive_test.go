package archive

import (
	"bytes"
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zip"

	"github.com/hpungsan/logsort/internal/errors"
)

// writeTree creates files under root from a map of slash paths to content.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

// readTree returns every regular file under root keyed by slash path.
func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		out[filepath.ToSlash(rel)] = string(b)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func noisyText(seed int64, n int) string {
	r := rand.New(rand.NewSource(seed))
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789 \n"
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(alphabet[r.Intn(len(alphabet))])
	}
	return b.String()
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "train")
	compressed := filepath.Join(dir, "compressed_data")
	restored := filepath.Join(dir, "restored")

	want := map[string]string{
		"a/log1.txt": "build failed: exit 1\n",
		"a/log2.txt": "timeout\n",
		"b/x.log":    noisyText(1, 500),
	}
	writeTree(t, raw, want)

	ctx := context.Background()
	codec := New(nil)

	res, err := codec.CompressTree(ctx, raw, compressed)
	if err != nil {
		t.Fatalf("CompressTree: %v", err)
	}
	if res.Archives != 3 {
		t.Errorf("Archives = %d, want 3", res.Archives)
	}
	for _, p := range []string{"a/log1.zip", "a/log2.zip", "b/x.zip"} {
		if _, err := os.Stat(filepath.Join(compressed, filepath.FromSlash(p))); err != nil {
			t.Errorf("missing archive %s: %v", p, err)
		}
	}

	res, err = codec.DecompressTree(ctx, compressed, restored)
	if err != nil {
		t.Fatalf("DecompressTree: %v", err)
	}
	if res.Entries != 3 {
		t.Errorf("Entries = %d, want 3", res.Entries)
	}
	if diff := cmp.Diff(want, readTree(t, restored)); diff != "" {
		t.Errorf("restored tree mismatch (-want +got):\n%s", diff)
	}
}

func TestCompressTree_Overwrites(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "raw")
	arch := filepath.Join(dir, "arch")
	out := filepath.Join(dir, "out")
	codec := New(nil)
	ctx := context.Background()

	writeTree(t, raw, map[string]string{"a/log.txt": "v1"})
	if _, err := codec.CompressTree(ctx, raw, arch); err != nil {
		t.Fatal(err)
	}
	writeTree(t, raw, map[string]string{"a/log.txt": "v2"})
	if _, err := codec.CompressTree(ctx, raw, arch); err != nil {
		t.Fatal(err)
	}
	if _, err := codec.DecompressTree(ctx, arch, out); err != nil {
		t.Fatal(err)
	}
	if got := readTree(t, out)["a/log.txt"]; got != "v2" {
		t.Errorf("content = %q, want v2", got)
	}
}

func TestDecompressTree_ExtractsAllEntries(t *testing.T) {
	dir := t.TempDir()
	arch := filepath.Join(dir, "arch")
	out := filepath.Join(dir, "out")

	writeZipEntries(t, filepath.Join(arch, "grp", "bundle.zip"), map[string]string{
		"one.txt":       "1",
		"two.txt":       "2",
		"sub/three.txt": "3",
	})
	// Non-zip files are ignored.
	writeTree(t, arch, map[string]string{"grp/notes.md": "ignore"})

	res, err := New(nil).DecompressTree(context.Background(), arch, out)
	if err != nil {
		t.Fatalf("DecompressTree: %v", err)
	}
	if res.Entries != 3 {
		t.Errorf("Entries = %d, want 3", res.Entries)
	}
	want := map[string]string{
		"grp/one.txt":       "1",
		"grp/two.txt":       "2",
		"grp/sub/three.txt": "3",
	}
	if diff := cmp.Diff(want, readTree(t, out)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestDecompressSingle(t *testing.T) {
	dir := t.TempDir()
	categories := filepath.Join(dir, "categories")
	writeZipEntries(t, categories+".zip", map[string]string{
		"a.json": `{"category.x":{"logs":[]}}`,
	})

	codec := New(nil)
	res, err := codec.DecompressSingle(context.Background(), categories)
	if err != nil {
		t.Fatalf("DecompressSingle: %v", err)
	}
	if res.Entries != 1 {
		t.Errorf("Entries = %d, want 1", res.Entries)
	}
	if _, err := os.Stat(filepath.Join(categories, "a.json")); err != nil {
		t.Errorf("a.json not extracted: %v", err)
	}

	_, err = codec.DecompressSingle(context.Background(), filepath.Join(dir, "missing"))
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("missing archive: err = %v, want NOT_FOUND", err)
	}
}

func TestDecompress_RejectsZipSlip(t *testing.T) {
	dir := t.TempDir()
	arch := filepath.Join(dir, "arch")
	out := filepath.Join(dir, "out")
	writeZipEntries(t, filepath.Join(arch, "grp", "evil.zip"), map[string]string{
		"../../escaped.txt": "pwned",
	})

	res, err := New(nil).DecompressTree(context.Background(), arch, out)
	if !errors.Is(err, errors.ErrArchive) {
		t.Fatalf("err = %v, want ARCHIVE_ERROR", err)
	}
	if len(res.Failures) != 1 {
		t.Errorf("Failures = %v, want 1", res.Failures)
	}
	if _, err := os.Stat(filepath.Join(dir, "escaped.txt")); !os.IsNotExist(err) {
		t.Error("entry escaped the destination directory")
	}
}

func TestDecompressTree_CorruptArchiveContinues(t *testing.T) {
	dir := t.TempDir()
	arch := filepath.Join(dir, "arch")
	out := filepath.Join(dir, "out")
	writeTree(t, arch, map[string]string{"grp/bad.zip": "not a zip"})
	writeZipEntries(t, filepath.Join(arch, "grp", "good.zip"), map[string]string{"good.txt": "ok"})

	res, err := New(nil).DecompressTree(context.Background(), arch, out)
	if err == nil {
		t.Fatal("expected error for corrupt archive")
	}
	if res.Archives != 1 || len(res.Failures) != 1 {
		t.Errorf("Archives = %d, Failures = %d, want 1 and 1", res.Archives, len(res.Failures))
	}
	if got := readTree(t, out)["grp/good.txt"]; got != "ok" {
		t.Errorf("good.txt = %q, want ok", got)
	}
}

func TestMissingRoot(t *testing.T) {
	codec := New(nil)
	missing := filepath.Join(t.TempDir(), "nope")
	if _, err := codec.CompressTree(context.Background(), missing, t.TempDir()); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("CompressTree err = %v, want NOT_FOUND", err)
	}
	if _, err := codec.MergeSplitParts(context.Background(), missing, t.TempDir()); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("MergeSplitParts err = %v, want NOT_FOUND", err)
	}
}

func TestCancelled(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "raw")
	writeTree(t, raw, map[string]string{"a/log.txt": "x"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil).CompressTree(ctx, raw, filepath.Join(dir, "arch"))
	if !errors.Is(err, errors.ErrCancelled) {
		t.Errorf("err = %v, want CANCELLED", err)
	}
}

func writeZipEntries(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

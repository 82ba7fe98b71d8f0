package archive

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hpungsan/logsort/internal/errors"
)

func TestSplitMergeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "train")
	split := filepath.Join(dir, "train_splitted")
	merged := filepath.Join(dir, "train_merged")
	restored := filepath.Join(dir, "restored")

	want := map[string]string{
		"repoA/log1.txt": noisyText(1, 4000),
		"repoA/log2.txt": noisyText(2, 4000),
		"repoB/log3.txt": "short",
	}
	writeTree(t, raw, want)

	ctx := context.Background()
	codec := New(nil)

	res, err := codec.CreateSplitParts(ctx, raw, split, 1024)
	if err != nil {
		t.Fatalf("CreateSplitParts: %v", err)
	}
	if res.Archives != 2 {
		t.Errorf("Archives = %d, want 2", res.Archives)
	}

	parts, err := os.ReadDir(filepath.Join(split, "repoA"))
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) < 2 {
		t.Fatalf("repoA parts = %d, want several", len(parts))
	}
	for _, p := range parts {
		info, _ := p.Info()
		if info.Size() > 1024 {
			t.Errorf("part %s is %d bytes, exceeds part size", p.Name(), info.Size())
		}
	}
	if _, err := os.Stat(filepath.Join(split, "repoA", "repoA.z01")); err != nil {
		t.Errorf("first part missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(split, "repoA", "repoA.zip")); err != nil {
		t.Errorf("final part missing: %v", err)
	}

	mres, err := codec.MergeSplitParts(ctx, split, merged)
	if err != nil {
		t.Fatalf("MergeSplitParts: %v", err)
	}
	if mres.Merged != 1 || mres.Copied != 1 {
		t.Errorf("Merged = %d, Copied = %d, want 1 and 1", mres.Merged, mres.Copied)
	}

	if _, err := codec.DecompressTree(ctx, merged, restored); err != nil {
		t.Fatalf("DecompressTree: %v", err)
	}
	if diff := cmp.Diff(want, readTree(t, restored)); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateSplitParts_WritesSpannedParts(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "raw")
	split := filepath.Join(dir, "split")
	merged := filepath.Join(dir, "merged")
	want := map[string]string{"item/a.txt": noisyText(3, 3000), "item/b.txt": noisyText(4, 3000)}
	writeTree(t, raw, want)

	ctx := context.Background()
	codec := New(nil)
	if _, err := codec.CreateSplitParts(ctx, raw, split, 512); err != nil {
		t.Fatal(err)
	}

	sets, err := partSets(filepath.Join(split, "item"))
	if err != nil {
		t.Fatal(err)
	}
	if len(sets) != 1 || len(sets[0].parts) < 3 {
		t.Fatalf("sets = %+v, want one set of several parts", sets)
	}
	parts := sets[0].parts
	first, err := os.ReadFile(parts[0])
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(first, spanSig) {
		t.Errorf("first part starts with %q, want spanning signature", first[:4])
	}

	final, err := os.ReadFile(parts[len(parts)-1])
	if err != nil {
		t.Fatal(err)
	}
	e, err := readEndRecord(bytes.NewReader(final), int64(len(final)))
	if err != nil {
		t.Fatalf("final part has no end record: %v", err)
	}
	if int(e.disk) != len(parts)-1 || e.count != 2 {
		t.Errorf("end record disk = %d, count = %d, want %d and 2", e.disk, e.count, len(parts)-1)
	}

	if _, err := codec.MergeSplitParts(ctx, split, merged); err != nil {
		t.Fatal(err)
	}
	restored := filepath.Join(dir, "restored")
	if _, err := codec.DecompressTree(ctx, merged, restored); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, readTree(t, restored)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge_SinglePartCopiedDirectly(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "raw")
	split := filepath.Join(dir, "split")
	merged := filepath.Join(dir, "merged")
	writeTree(t, raw, map[string]string{"x/log.txt": "tiny"})

	ctx := context.Background()
	codec := New(nil)
	if _, err := codec.CreateSplitParts(ctx, raw, split, 1<<20); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(filepath.Join(split, "x"))
	if len(entries) != 1 || entries[0].Name() != "x.zip" {
		t.Fatalf("split entries = %v, want only x.zip", entries)
	}

	res, err := codec.MergeSplitParts(ctx, split, merged)
	if err != nil {
		t.Fatalf("MergeSplitParts: %v", err)
	}
	if res.Copied != 1 || res.Merged != 0 {
		t.Errorf("Copied = %d, Merged = %d, want 1 and 0", res.Copied, res.Merged)
	}

	part, _ := os.ReadFile(filepath.Join(split, "x", "x.zip"))
	out, err := os.ReadFile(filepath.Join(merged, "x", "x.zip"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(part, out) {
		t.Error("single part not copied byte-for-byte")
	}
}

func TestCreateSplitParts_SkipsExisting(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "raw")
	split := filepath.Join(dir, "split")
	writeTree(t, raw, map[string]string{
		"done/a.txt": "a",
		"todo/b.txt": "b",
	})
	if err := os.MkdirAll(filepath.Join(split, "done"), 0o755); err != nil {
		t.Fatal(err)
	}

	res, err := New(nil).CreateSplitParts(context.Background(), raw, split, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"done"}, res.Skipped); diff != "" {
		t.Errorf("Skipped mismatch (-want +got):\n%s", diff)
	}
	if res.Archives != 1 {
		t.Errorf("Archives = %d, want 1", res.Archives)
	}
	entries, _ := os.ReadDir(filepath.Join(split, "done"))
	if len(entries) != 0 {
		t.Error("existing split directory was rewritten")
	}
	// No staging directories left behind.
	top, _ := os.ReadDir(split)
	if len(top) != 2 {
		t.Errorf("split root entries = %d, want 2", len(top))
	}
}

func TestCreateSplitParts_InvalidPartSize(t *testing.T) {
	_, err := New(nil).CreateSplitParts(context.Background(), t.TempDir(), t.TempDir(), 0)
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("err = %v, want INVALID_REQUEST", err)
	}
}

func TestMerge_MissingPartFails(t *testing.T) {
	dir := t.TempDir()
	split := filepath.Join(dir, "split")
	writeTree(t, split, map[string]string{
		"item/item.z02": "b",
		"item/item.zip": "c",
	})

	res, err := New(nil).MergeSplitParts(context.Background(), split, filepath.Join(dir, "merged"))
	if !errors.Is(err, errors.ErrArchive) {
		t.Fatalf("err = %v, want ARCHIVE_ERROR", err)
	}
	if len(res.Failures) != 1 {
		t.Errorf("Failures = %d, want 1", len(res.Failures))
	}
}

func TestMergeWithFallback_RegeneratesBrokenSplit(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "raw")
	split := filepath.Join(dir, "split")
	merged := filepath.Join(dir, "merged")
	want := map[string]string{"item/a.txt": noisyText(4, 3000)}
	writeTree(t, raw, want)

	// Corrupt split: parts that do not form a zip.
	writeTree(t, split, map[string]string{
		"item/item.z01": "garbage",
		"item/item.zip": "more garbage",
	})

	ctx := context.Background()
	codec := New(nil)
	res, err := codec.MergeWithFallback(ctx, raw, split, merged, 1024)
	if err != nil {
		t.Fatalf("MergeWithFallback: %v", err)
	}
	if res.Merged != 1 {
		t.Errorf("Merged = %d, want 1", res.Merged)
	}

	restored := filepath.Join(dir, "restored")
	if _, err := codec.DecompressTree(ctx, merged, restored); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, readTree(t, restored)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeWithFallback_MissingSplitRoot(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "raw")
	writeTree(t, raw, map[string]string{"item/a.txt": "hello"})

	res, err := New(nil).MergeWithFallback(context.Background(), raw,
		filepath.Join(dir, "split"), filepath.Join(dir, "merged"), 1024)
	if err != nil {
		t.Fatalf("MergeWithFallback: %v", err)
	}
	if res.Archives != 1 {
		t.Errorf("Archives = %d, want 1", res.Archives)
	}
}

func TestMergeWithFallback_SecondFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	split := filepath.Join(dir, "split")
	writeTree(t, split, map[string]string{
		"item/item.z02": "garbage",
		"item/item.zip": "garbage",
	})

	// No unsplit source to regenerate from.
	_, err := New(nil).MergeWithFallback(context.Background(), filepath.Join(dir, "raw"),
		split, filepath.Join(dir, "merged"), 1024)
	if !errors.Is(err, errors.ErrMergeFailed) {
		t.Fatalf("err = %v, want MERGE_FAILED", err)
	}
}

func TestPartWriter_ExactBoundary(t *testing.T) {
	dir := t.TempDir()
	pw := &partWriter{dir: dir, base: "b", size: 4}
	if _, err := pw.Write([]byte("12345678")); err != nil {
		t.Fatal(err)
	}
	if err := pw.Close(); err != nil {
		t.Fatal(err)
	}
	if pw.parts != 2 {
		t.Fatalf("parts = %d, want 2", pw.parts)
	}
	got := readTree(t, dir)
	want := map[string]string{"b.z01": "1234", "b.zip": "5678"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

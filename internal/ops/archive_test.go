package ops

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hpungsan/logsort/internal/errors"
)

func TestCompressDecompress_DefaultRoots(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	raw := filepath.Join(cfg.DataRoot, "train")
	writeFiles(t, raw, map[string]string{
		"a/log1.txt": "one",
		"a/log2.txt": "two",
		"b/log3.txt": "three",
	})
	want := tree(t, raw)

	out, err := Compress(ctx, cfg, nil, CompressInput{})
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if out.Archives != 3 {
		t.Errorf("Archives = %d, want 3", out.Archives)
	}
	if out.Target != filepath.Join(cfg.DataRoot, "compressed_data") {
		t.Errorf("Target = %q", out.Target)
	}

	restored := filepath.Join(cfg.DataRoot, "restored")
	dout, err := Decompress(ctx, cfg, nil, DecompressInput{Target: restored})
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	if dout.Entries != 3 {
		t.Errorf("Entries = %d, want 3", dout.Entries)
	}
	if diff := cmp.Diff(want, tree(t, restored)); diff != "" {
		t.Errorf("restored tree mismatch (-want +got):\n%s", diff)
	}
}

func TestDecompress_FailuresReportedNotReturned(t *testing.T) {
	cfg := testConfig(t)
	compressed := filepath.Join(cfg.DataRoot, "compressed_data")
	writeFiles(t, compressed, map[string]string{"a/broken.zip": "not a zip"})
	writeZip(t, filepath.Join(compressed, "a", "good.zip"), map[string]string{"good.txt": "ok"})

	out, err := Decompress(context.Background(), cfg, nil, DecompressInput{})
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	if out.Archives != 1 || len(out.Failures) != 1 {
		t.Errorf("Archives = %d, Failures = %v; want 1 and 1", out.Archives, out.Failures)
	}
}

func TestDecompress_MissingRoot(t *testing.T) {
	cfg := testConfig(t)
	_, err := Decompress(context.Background(), cfg, nil, DecompressInput{})
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestDecompressSingle_Categories(t *testing.T) {
	cfg := testConfig(t)
	writeZip(t, filepath.Join(cfg.DataRoot, "categories.zip"), map[string]string{"cats.json": `{}`})

	out, err := DecompressSingle(context.Background(), cfg, nil, DecompressSingleInput{})
	if err != nil {
		t.Fatalf("DecompressSingle failed: %v", err)
	}
	if out.Entries != 1 {
		t.Errorf("Entries = %d, want 1", out.Entries)
	}
	if _, err := os.Stat(filepath.Join(cfg.DataRoot, "categories", "cats.json")); err != nil {
		t.Errorf("cats.json not extracted: %v", err)
	}
}

func TestSplitMerge(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	raw := filepath.Join(cfg.DataRoot, "train")
	writeFiles(t, raw, map[string]string{
		"a/log1.txt": "one",
		"b/log2.txt": "two",
	})

	sout, err := Split(ctx, cfg, nil, SplitInput{PartSize: 64})
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if sout.Parts < 2 {
		t.Errorf("Parts = %d, want several with a 64-byte part size", sout.Parts)
	}

	mout, err := Merge(ctx, cfg, nil, MergeInput{})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if mout.Archives != 2 {
		t.Errorf("Archives = %d, want 2", mout.Archives)
	}

	restored := filepath.Join(cfg.DataRoot, "restored")
	if _, err := Decompress(ctx, cfg, nil, DecompressInput{Source: mout.Target, Target: restored}); err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	if diff := cmp.Diff(tree(t, raw), tree(t, restored)); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSplit_InvalidPartSize(t *testing.T) {
	cfg := testConfig(t)
	writeFiles(t, filepath.Join(cfg.DataRoot, "train"), map[string]string{"a/log1.txt": "one"})

	_, err := Split(context.Background(), cfg, nil, SplitInput{PartSize: -1})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got: %v", err)
	}
}

func TestMerge_FallbackRegenerates(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	writeFiles(t, filepath.Join(cfg.DataRoot, "train"), map[string]string{"a/log1.txt": "one"})
	// Final part present, first part missing.
	writeFiles(t, filepath.Join(cfg.DataRoot, "train_splitted"), map[string]string{
		"a/a.z02": "garbage",
		"a/a.zip": "garbage",
	})

	if _, err := Merge(ctx, cfg, nil, MergeInput{}); err != nil {
		t.Fatalf("Merge without fallback should report failures, got: %v", err)
	}

	out, err := Merge(ctx, cfg, nil, MergeInput{Fallback: true})
	if err != nil {
		t.Fatalf("Merge with fallback failed: %v", err)
	}
	if out.Archives != 1 || len(out.Failures) != 0 {
		t.Errorf("Archives = %d, Failures = %v", out.Archives, out.Failures)
	}
}

func TestArchiveOps_RejectTraversal(t *testing.T) {
	cfg := testConfig(t)
	_, err := Compress(context.Background(), cfg, nil, CompressInput{Target: "../outside"})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got: %v", err)
	}
}

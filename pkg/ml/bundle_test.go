package ml

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadBundle(t *testing.T) {
	dir := t.TempDir()
	writeTestArtifacts(t, dir, true)

	b, err := LoadBundle(dir, testLogger())
	if err != nil {
		t.Fatalf("LoadBundle: %v", err)
	}
	if b.InputDim() != 4 {
		t.Errorf("InputDim = %d, want 4", b.InputDim())
	}
	if b.Selected() != 3 {
		t.Errorf("Selected = %d, want 3", b.Selected())
	}
	if !b.HasAutoencoder() {
		t.Error("autoencoder should have loaded")
	}
	if len(b.Labels) != 3 {
		t.Errorf("Labels = %v", b.Labels)
	}
}

func TestLoadBundleWithoutAutoencoder(t *testing.T) {
	dir := t.TempDir()
	writeTestArtifacts(t, dir, false)

	b, err := LoadBundle(dir, testLogger())
	if err != nil {
		t.Fatalf("missing autoencoder must not fail the load: %v", err)
	}
	if b.HasAutoencoder() {
		t.Error("autoencoder reported present")
	}
}

func TestLoadBundleCorruptAutoencoderDegrades(t *testing.T) {
	dir := t.TempDir()
	writeTestArtifacts(t, dir, false)
	if err := os.WriteFile(filepath.Join(dir, AutoencFile), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	b, err := LoadBundle(dir, testLogger())
	if err != nil {
		t.Fatalf("corrupt autoencoder must degrade, not fail: %v", err)
	}
	if b.HasAutoencoder() {
		t.Error("corrupt autoencoder should have been rejected")
	}
}

func TestLoadBundleMissingRequiredArtifacts(t *testing.T) {
	for _, missing := range []string{ScalerFile, MaskFile, LabelsFile, ForestFile, BoostedFile} {
		t.Run(missing, func(t *testing.T) {
			dir := t.TempDir()
			writeTestArtifacts(t, dir, false)
			if err := os.Remove(filepath.Join(dir, missing)); err != nil {
				t.Fatal(err)
			}

			_, err := LoadBundle(dir, testLogger())
			if err == nil {
				t.Fatalf("expected load failure without %s", missing)
			}
			if !errors.Is(err, ErrArtifactMissing) {
				t.Errorf("error %v is not ErrArtifactMissing", err)
			}
		})
	}
}

func TestLoadBundleMaskLengthMismatch(t *testing.T) {
	dir := t.TempDir()
	writeTestArtifacts(t, dir, false)
	writeArtifact(t, dir, MaskFile, featureMask{Mask: []bool{true, true}})

	if _, err := LoadBundle(dir, testLogger()); err == nil {
		t.Fatal("mask/scaler mismatch must be a load-time error")
	}
}

func TestLoadBundleLabelMismatch(t *testing.T) {
	dir := t.TempDir()
	writeTestArtifacts(t, dir, false)
	forest := testForest()
	forest.ClassNames = []string{"Normal", "DDoS", "SomethingElse"}
	writeArtifact(t, dir, ForestFile, forest)

	if _, err := LoadBundle(dir, testLogger()); err == nil {
		t.Fatal("classifier class outside the vocabulary must fail the load")
	}
}

func TestNewBundleRejectsEmptyMask(t *testing.T) {
	_, err := NewBundle(testScaler(), []bool{false, false, false, false}, testLabels, testForest(), testBoosted(), nil)
	if err == nil {
		t.Fatal("all-false mask must be rejected")
	}
}

func TestApplyMask(t *testing.T) {
	b := testBundle(t)
	out, err := b.ApplyMask([]float64{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 || out[0] != 1 || out[1] != 2 || out[2] != 3 {
		t.Errorf("masked vector = %v", out)
	}

	if _, err := b.ApplyMask([]float64{1, 2}); err == nil {
		t.Error("expected error for wrong length")
	}
}

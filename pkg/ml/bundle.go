package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Artifact file names inside the models directory. The training pipeline
// exports these names; everything except the autoencoder is required.
const (
	ForestFile  = "rf_model.json"
	BoostedFile = "xgb_model.json"
	ScalerFile  = "scaler.json"
	MaskFile    = "feature_mask.json"
	LabelsFile  = "labels.json"
	AutoencFile = "cnn_ae.json"
)

// ErrArtifactMissing wraps any required artifact that could not be read or
// parsed at load time.
var ErrArtifactMissing = errors.New("required model artifact missing or corrupt")

// featureMask is the on-disk mask artifact.
type featureMask struct {
	Mask []bool `json:"mask"`
}

// labelVocabulary is the on-disk label artifact; order is canonical.
type labelVocabulary struct {
	Classes []string `json:"classes"`
}

// Bundle is the immutable set of loaded inference artifacts shared by all
// concurrent calls. Build it once with LoadBundle and publish the pointer;
// nothing mutates it afterwards, so reads need no locking.
type Bundle struct {
	Scaler *StandardScaler
	Mask   []bool
	Labels []string

	Forest  *RandomForest
	Boosted *GradientBoostedTrees

	// Autoenc is nil when the optional anomaly artifact is absent; the
	// pipeline must keep working without it.
	Autoenc *AutoEncoder

	// Label alignments built at load time, one per classifier.
	forestAlign  *labelAlignment
	boostedAlign *labelAlignment

	// masked count cached for the hot path.
	selected int
}

// InputDim returns the raw feature vector length the bundle expects.
func (b *Bundle) InputDim() int { return b.Scaler.Dim() }

// Selected returns the number of mask-selected features fed to the
// classifiers.
func (b *Bundle) Selected() int { return b.selected }

// HasAutoencoder reports whether the optional anomaly scorer loaded.
func (b *Bundle) HasAutoencoder() bool { return b.Autoenc != nil }

// NewBundle assembles and validates a bundle from already-decoded
// artifacts. autoenc may be nil. All invariants the loader enforces apply
// here too, so tests and the artifact generator share the same checks.
func NewBundle(scaler *StandardScaler, mask []bool, labels []string, forest *RandomForest, boosted *GradientBoostedTrees, autoenc *AutoEncoder) (*Bundle, error) {
	if scaler == nil || forest == nil || boosted == nil {
		return nil, fmt.Errorf("%w: scaler and both classifiers are required", ErrArtifactMissing)
	}
	if err := scaler.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactMissing, err)
	}
	if len(mask) != scaler.Dim() {
		return nil, fmt.Errorf("%w: feature mask length %d does not match scaler dimension %d",
			ErrArtifactMissing, len(mask), scaler.Dim())
	}
	if len(labels) < 2 {
		return nil, fmt.Errorf("%w: label vocabulary needs at least 2 classes", ErrArtifactMissing)
	}
	if err := forest.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactMissing, err)
	}
	if err := boosted.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactMissing, err)
	}

	b := &Bundle{Scaler: scaler, Mask: mask, Labels: labels, Forest: forest, Boosted: boosted}
	for _, keep := range mask {
		if keep {
			b.selected++
		}
	}
	if b.selected == 0 {
		return nil, fmt.Errorf("%w: feature mask selects no features", ErrArtifactMissing)
	}

	// Reconcile classifier label orders to the canonical vocabulary once,
	// at load time, never per request.
	var err error
	if b.forestAlign, err = newLabelAlignment(forest.Classes(), labels); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactMissing, err)
	}
	if b.boostedAlign, err = newLabelAlignment(boosted.Classes(), labels); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactMissing, err)
	}

	if autoenc != nil {
		if err := autoenc.Validate(); err != nil {
			return nil, fmt.Errorf("autoencoder: %w", err)
		}
		if autoenc.InputDim != scaler.Dim() {
			return nil, fmt.Errorf("autoencoder: dimension %d does not match scaler dimension %d",
				autoenc.InputDim, scaler.Dim())
		}
		b.Autoenc = autoenc
	}
	return b, nil
}

// LoadBundle reads all artifacts from dir. Any failure on a required
// artifact is fatal and wrapped in ErrArtifactMissing; a missing or corrupt
// autoencoder only logs a warning and leaves Autoenc nil.
func LoadBundle(dir string, logger zerolog.Logger) (*Bundle, error) {
	log := logger.With().Str("component", "model_bundle").Str("dir", dir).Logger()

	scaler := &StandardScaler{}
	if err := loadJSON(dir, ScalerFile, scaler); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArtifactMissing, ScalerFile, err)
	}

	var mask featureMask
	if err := loadJSON(dir, MaskFile, &mask); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArtifactMissing, MaskFile, err)
	}

	var vocab labelVocabulary
	if err := loadJSON(dir, LabelsFile, &vocab); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArtifactMissing, LabelsFile, err)
	}

	forest := &RandomForest{}
	if err := loadJSON(dir, ForestFile, forest); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArtifactMissing, ForestFile, err)
	}

	boosted := &GradientBoostedTrees{}
	if err := loadJSON(dir, BoostedFile, boosted); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArtifactMissing, BoostedFile, err)
	}

	// Optional anomaly scorer: degrade, never fail.
	var autoenc *AutoEncoder
	ae := &AutoEncoder{}
	if err := loadJSON(dir, AutoencFile, ae); err != nil {
		log.Warn().Err(err).Msg("autoencoder unavailable, continuing with classifier-only scoring")
	} else if err := ae.Validate(); err != nil {
		log.Warn().Err(err).Msg("autoencoder artifact rejected, continuing with classifier-only scoring")
	} else if ae.InputDim != scaler.Dim() {
		log.Warn().Int("ae_dim", ae.InputDim).Int("scaler_dim", scaler.Dim()).
			Msg("autoencoder dimension mismatch, continuing with classifier-only scoring")
	} else {
		autoenc = ae
	}

	b, err := NewBundle(scaler, mask.Mask, vocab.Classes, forest, boosted, autoenc)
	if err != nil {
		return nil, err
	}

	log.Info().
		Int("input_dim", b.InputDim()).
		Int("selected", b.selected).
		Strs("classes", b.Labels).
		Bool("autoencoder", b.HasAutoencoder()).
		Msg("model bundle loaded")
	return b, nil
}

// ApplyMask selects the masked sub-vector of a scaled feature vector.
func (b *Bundle) ApplyMask(scaled []float64) ([]float64, error) {
	if len(scaled) != len(b.Mask) {
		return nil, fmt.Errorf("mask: expected %d features, got %d", len(b.Mask), len(scaled))
	}
	out := make([]float64, 0, b.selected)
	for i, keep := range b.Mask {
		if keep {
			out = append(out, scaled[i])
		}
	}
	return out, nil
}

func loadJSON(dir, name string, v any) error {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	return nil
}

package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pipesight/pipesight/pkg/store/sql/model"
)

// BundleSaver persists fitted estimators under a model version's
// artifact reference.
type BundleSaver interface {
	Save(ctx context.Context, artifactRef string, transformer Transformer, scorer AnomalyScorer) error
}

type bundleFile struct {
	Scaler *StandardScaler        `json:"scaler"`
	Scorer *NearestCentroidScorer `json:"scorer"`
}

// FileBundleStore keeps estimator bundles as JSON files under a local
// root. It only understands the default estimator implementations;
// other implementations bring their own BundleLoader.
type FileBundleStore struct {
	Root string
}

func (f *FileBundleStore) Save(
	_ context.Context, artifactRef string, transformer Transformer, scorer AnomalyScorer,
) error {
	scaler, ok := transformer.(*StandardScaler)
	if !ok {
		return fmt.Errorf("file bundle store cannot persist transformer of type %T", transformer)
	}

	centroidScorer, ok := scorer.(*NearestCentroidScorer)
	if !ok {
		return fmt.Errorf("file bundle store cannot persist scorer of type %T", scorer)
	}

	raw, err := json.Marshal(bundleFile{Scaler: scaler, Scorer: centroidScorer})
	if err != nil {
		return fmt.Errorf("failed to encode bundle: %w", err)
	}

	path := filepath.Join(f.Root, artifactRef)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write bundle %q: %w", artifactRef, err)
	}

	return nil
}

func (f *FileBundleStore) Load(
	_ context.Context, mv *model.ModelVersion,
) (Transformer, AnomalyScorer, error) {
	path := filepath.Join(f.Root, mv.ArtifactRef)

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read bundle for model version %d: %w", mv.Version, err)
	}

	var bundle bundleFile
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return nil, nil, fmt.Errorf("failed to decode bundle for model version %d: %w", mv.Version, err)
	}

	if bundle.Scaler == nil || bundle.Scorer == nil {
		return nil, nil, fmt.Errorf("bundle for model version %d is incomplete", mv.Version)
	}

	return bundle.Scaler, bundle.Scorer, nil
}

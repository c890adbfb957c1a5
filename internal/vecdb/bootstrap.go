package vecdb

import (
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// sampleFile is the YAML shape of a seed file loaded only when neither the
// canonical snapshot nor its backup is present. YAML matches the rest of
// this repo's configuration surface.
type sampleFile struct {
	Library struct {
		ID        string         `yaml:"id"`
		Metadata  map[string]any `yaml:"metadata"`
		Algorithm string         `yaml:"algorithm"`
	} `yaml:"library"`
	Documents []struct {
		ID       string         `yaml:"id"`
		Title    string         `yaml:"title"`
		Metadata map[string]any `yaml:"metadata"`
		Chunks   []struct {
			ID        string         `yaml:"id"`
			Text      string         `yaml:"text"`
			Embedding []float64      `yaml:"embedding"`
			Metadata  map[string]any `yaml:"metadata"`
		} `yaml:"chunks"`
	} `yaml:"documents"`
}

// BootstrapOptions configures Bootstrap's startup sequence.
type BootstrapOptions struct {
	SnapshotPath         string
	SampleEmbeddingsPath string
	DefaultAlgorithm     Algorithm
	LSHParams            LSHParams
	Logger               *slog.Logger
}

// Bootstrap adopts the canonical snapshot if present and valid, else the
// backup, else seeds from a sample-embeddings file, else starts empty.
func Bootstrap(opts BootstrapOptions) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if snap, err := tryLoad(opts.SnapshotPath); err == nil {
		store := NewStore()
		if err := store.restoreFrom(snap); err != nil {
			return nil, err
		}
		logger.Info("loaded snapshot", "path", opts.SnapshotPath)
		return store, nil
	}

	backupPath := opts.SnapshotPath + ".bak"
	if snap, err := tryLoad(backupPath); err == nil {
		store := NewStore()
		if err := store.restoreFrom(snap); err != nil {
			return nil, err
		}
		logger.Warn("canonical snapshot missing or corrupt, loaded backup", "path", backupPath)
		return store, nil
	}

	if opts.SampleEmbeddingsPath != "" {
		store, err := loadSampleEmbeddings(opts.SampleEmbeddingsPath, opts.DefaultAlgorithm, opts.LSHParams)
		if err != nil {
			return nil, err
		}
		logger.Info("seeded store from sample embeddings", "path", opts.SampleEmbeddingsPath)
		return store, nil
	}

	logger.Info("no snapshot, backup, or sample file found; starting empty")
	return NewStore(), nil
}

func tryLoad(path string) (storeSnapshot, error) {
	if _, err := os.Stat(path); err != nil {
		return storeSnapshot{}, err
	}
	return LoadSnapshot(path)
}

func loadSampleEmbeddings(path string, algorithm Algorithm, lshParams LSHParams) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, persistenceError(err, "read sample embeddings file %q", path)
	}

	var sample sampleFile
	if err := yaml.Unmarshal(data, &sample); err != nil {
		return nil, persistenceError(err, "parse sample embeddings file %q", path)
	}

	store := NewStore()
	lib, err := store.CreateLibrary(CreateLibraryInput{
		ID:       sample.Library.ID,
		Metadata: sample.Library.Metadata,
	})
	if err != nil {
		return nil, err
	}

	for _, docIn := range sample.Documents {
		chunks := make([]CreateChunkInput, 0, len(docIn.Chunks))
		for _, chunkIn := range docIn.Chunks {
			chunks = append(chunks, CreateChunkInput{
				ID:        chunkIn.ID,
				Text:      chunkIn.Text,
				Embedding: chunkIn.Embedding,
				Metadata:  chunkIn.Metadata,
			})
		}
		if _, err := store.CreateDocument(lib.ID, CreateDocumentInput{
			ID:       docIn.ID,
			Title:    docIn.Title,
			Metadata: docIn.Metadata,
			Chunks:   chunks,
		}); err != nil {
			return nil, err
		}
	}

	algo := algorithm
	if algo == "" {
		algo = AlgorithmExact
	}
	if _, err := store.IndexLibrary(lib.ID, algo, lshParams); err != nil {
		return nil, err
	}

	return store, nil
}

package energylens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
)

const archivePrefix = "runs/"

// ArchiveConfig selects and configures the archive backend.
type ArchiveConfig struct {
	Enabled bool `yaml:"enabled"`

	// Backend is "memory", "file" or "s3".
	Backend string `yaml:"backend"`

	// Dir is the base directory of the file backend.
	Dir string `yaml:"dir"`

	S3         S3Config         `yaml:"s3"`
	Encryption EncryptionConfig `yaml:"encryption"`
}

// Archive writes every analysis as a JSON bundle, sealed when an encryptor
// is configured.
type Archive struct {
	backend StorageBackend
	enc     *Encryptor
}

// NewArchive wraps a backend. enc may be nil.
func NewArchive(backend StorageBackend, enc *Encryptor) *Archive {
	return &Archive{backend: backend, enc: enc}
}

// OpenArchive builds the backend and encryptor named by cfg.
func OpenArchive(ctx context.Context, cfg ArchiveConfig) (*Archive, error) {
	var (
		backend StorageBackend
		err     error
	)
	switch cfg.Backend {
	case "", "memory":
		backend = NewMemoryBackend()
	case "file":
		backend, err = NewFileBackend(cfg.Dir)
	case "s3":
		backend, err = NewS3Backend(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	enc, err := NewEncryptor(cfg.Encryption)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return NewArchive(backend, enc), nil
}

func archiveKey(runID string) string {
	return archivePrefix + runID + ".json"
}

// Name implements ResultSink.
func (a *Archive) Name() string { return "archive" }

// Deliver implements ResultSink.
func (a *Archive) Deliver(ctx context.Context, run *Analysis) error {
	return a.Put(ctx, run)
}

// Put stores run under its id.
func (a *Archive) Put(ctx context.Context, run *Analysis) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}
	if a.enc != nil {
		if data, err = a.enc.Seal(data); err != nil {
			return fmt.Errorf("failed to seal run: %w", err)
		}
	}
	return a.backend.Write(ctx, archiveKey(run.RunID), data)
}

// Get loads an archived run. Unknown ids return ErrRunNotFound.
func (a *Archive) Get(ctx context.Context, runID string) (*Analysis, error) {
	if runID == "" || strings.ContainsAny(runID, "/\\") {
		return nil, ErrRunNotFound
	}
	data, err := a.backend.Read(ctx, archiveKey(runID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}

	if IsSealed(data) {
		if a.enc == nil {
			return nil, errors.New("archived run is sealed but no encryption key is configured")
		}
		if data, err = a.enc.Open(data); err != nil {
			return nil, fmt.Errorf("failed to open sealed run: %w", err)
		}
	}

	var run Analysis
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to decode run: %w", err)
	}
	return &run, nil
}

// IDs lists archived run ids.
func (a *Archive) IDs(ctx context.Context) ([]string, error) {
	keys, err := a.backend.List(ctx, archivePrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimSuffix(path.Base(k), ".json"))
	}
	return ids, nil
}

// Close releases the backend.
func (a *Archive) Close() error {
	return a.backend.Close()
}

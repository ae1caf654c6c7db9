package schema

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// FileStore reads schema definitions from *.yaml files in a seed directory.
// It backs deployments without an admin database and seeds fresh ones.
type FileStore struct {
	dir    string
	logger *zap.SugaredLogger
}

func NewFileStore(dir string, logger *zap.SugaredLogger) *FileStore {
	return &FileStore{dir: dir, logger: logger}
}

func (s *FileStore) LoadSchema(ctx context.Context, name string) (*Document, error) {
	docs, err := s.LoadAllSchemas(ctx)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		if matchesName(doc, name) {
			return doc, nil
		}
	}
	return nil, nil
}

func (s *FileStore) LoadAllSchemas(ctx context.Context) ([]*Document, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading schema dir %s: %w", s.dir, err)
	}

	var docs []*Document
	for _, entry := range entries {
		if entry.IsDir() || !isYAMLFile(entry.Name()) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading schema file %s: %w", path, err)
		}
		var doc Document
		if err := yaml.Unmarshal(data, &doc); err != nil {
			// A broken seed file must not take every other schema down.
			s.logger.Warnw("skipping malformed schema file", "path", path, "error", err)
			continue
		}
		if doc.ID.IsZero() {
			doc.ID = primitive.NewObjectID()
		}
		docs = append(docs, &doc)
	}
	return docs, nil
}

func (s *FileStore) CreateSchema(ctx context.Context, doc *Document) (string, error) {
	if doc.ID.IsZero() {
		doc.ID = primitive.NewObjectID()
	}
	doc.CreatedAt = time.Now().UTC()
	doc.UpdatedAt = doc.CreatedAt
	if err := s.writeSchema(doc); err != nil {
		return "", err
	}
	return doc.ID.Hex(), nil
}

func (s *FileStore) UpdateSchema(ctx context.Context, doc *Document) error {
	doc.UpdatedAt = time.Now().UTC()
	return s.writeSchema(doc)
}

func (s *FileStore) writeSchema(doc *Document) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling schema %q: %w", doc.LogicalName(), err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(s.dir, doc.LogicalName()+".yaml")
	return os.WriteFile(path, data, 0o644)
}

// Watch invalidates via onChange whenever a seed file is written, created,
// renamed or removed. Blocks until ctx is done.
func (s *FileStore) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watching schema dir %s: %w", s.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isYAMLFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				s.logger.Infow("schema seed changed, invalidating cache", "file", filepath.Base(event.Name))
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warnw("schema watcher error", "error", err)
		}
	}
}

func matchesName(doc *Document, name string) bool {
	lowered := strings.ToLower(name)
	for _, candidate := range []string{
		doc.Name.Singular, doc.Name.Plural, doc.Name.Endpoint, doc.Name.Collection,
	} {
		if candidate != "" && strings.ToLower(candidate) == lowered {
			return true
		}
	}
	return false
}

func isYAMLFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

package service

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// namespacePattern restricts namespaces to safe file-name material.
var namespacePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// KV is a file-backed JSON document store, one document per namespace.
// Values are addressed by gjson/sjson paths ("settings.retries",
// "history.0.status"), so plugins can read and update nested structures
// without round-tripping whole documents through their sandbox.
type KV struct {
	mu   sync.Mutex
	root string

	// Documents cached by namespace; source of truth is the file.
	docs map[string]string
}

// NewKV creates a store rooted at dir, creating it if needed.
func NewKV(root string) (*KV, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("kv: create root: %w", err)
	}
	return &KV{
		root: root,
		docs: make(map[string]string),
	}, nil
}

// Root returns the store's root directory.
func (kv *KV) Root() string {
	return kv.root
}

func (kv *KV) path(namespace string) string {
	return filepath.Join(kv.root, namespace+".json")
}

// load returns the document for a namespace, reading it from disk on first
// access. Missing files yield an empty document. Caller holds kv.mu.
func (kv *KV) load(namespace string) (string, error) {
	if doc, ok := kv.docs[namespace]; ok {
		return doc, nil
	}

	data, err := os.ReadFile(kv.path(namespace))
	if err != nil {
		if os.IsNotExist(err) {
			kv.docs[namespace] = "{}"
			return "{}", nil
		}
		return "", fmt.Errorf("kv: read %s: %w", namespace, err)
	}

	doc := string(data)
	if !gjson.Valid(doc) {
		return "", fmt.Errorf("kv: namespace %s holds invalid JSON", namespace)
	}
	kv.docs[namespace] = doc
	return doc, nil
}

// flush writes a document to disk atomically. Caller holds kv.mu.
func (kv *KV) flush(namespace, doc string) error {
	target := kv.path(namespace)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, []byte(doc), 0o644); err != nil {
		return fmt.Errorf("kv: write %s: %w", namespace, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("kv: rename %s: %w", namespace, err)
	}
	kv.docs[namespace] = doc
	return nil
}

func validNamespace(namespace string) error {
	if !namespacePattern.MatchString(namespace) {
		return fmt.Errorf("kv: invalid namespace %q", namespace)
	}
	return nil
}

// Get returns the value at path within a namespace, or (nil, false) if the
// path does not exist.
func (kv *KV) Get(namespace, path string) (any, bool, error) {
	if err := validNamespace(namespace); err != nil {
		return nil, false, err
	}

	kv.mu.Lock()
	defer kv.mu.Unlock()

	doc, err := kv.load(namespace)
	if err != nil {
		return nil, false, err
	}

	result := gjson.Get(doc, path)
	if !result.Exists() {
		return nil, false, nil
	}
	return result.Value(), true, nil
}

// Set writes a value at path within a namespace, write-through to disk.
func (kv *KV) Set(namespace, path string, value any) error {
	if err := validNamespace(namespace); err != nil {
		return err
	}

	kv.mu.Lock()
	defer kv.mu.Unlock()

	doc, err := kv.load(namespace)
	if err != nil {
		return err
	}

	updated, err := sjson.Set(doc, path, value)
	if err != nil {
		return fmt.Errorf("kv: set %s.%s: %w", namespace, path, err)
	}
	return kv.flush(namespace, updated)
}

// Delete removes the value at path within a namespace.
func (kv *KV) Delete(namespace, path string) error {
	if err := validNamespace(namespace); err != nil {
		return err
	}

	kv.mu.Lock()
	defer kv.mu.Unlock()

	doc, err := kv.load(namespace)
	if err != nil {
		return err
	}

	updated, err := sjson.Delete(doc, path)
	if err != nil {
		return fmt.Errorf("kv: delete %s.%s: %w", namespace, path, err)
	}
	return kv.flush(namespace, updated)
}

// Document returns the whole JSON document for a namespace.
func (kv *KV) Document(namespace string) (string, error) {
	if err := validNamespace(namespace); err != nil {
		return "", err
	}

	kv.mu.Lock()
	defer kv.mu.Unlock()
	return kv.load(namespace)
}

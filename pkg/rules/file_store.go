package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// document is the on-disk rule file layout.
type document struct {
	Rules RuleSet `json:"rules" yaml:"rules"`
}

// FileStore persists a RuleSet as JSON, or YAML for .yaml/.yml paths.
type FileStore struct {
	path string
	log  *slog.Logger
}

// NewFileStore builds a file-backed persister rooted at path.
func NewFileStore(path string, log *slog.Logger) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("rules path is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &FileStore{
		path: path,
		log:  log.With("component", "rules.file_store"),
	}, nil
}

// Path returns the backing file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the rule file.
//
// It never fails hard: a missing file is created empty and reported as
// ErrorStoreMissing, an unreadable or malformed file yields an empty set with
// ErrorMalformedStore, and invalid entries are dropped and reported while the
// valid ones are returned.
func (s *FileStore) Load() (RuleSet, error) {
	content, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("Rules file not found, creating an empty one", "path", s.path)
			if saveErr := s.Save(RuleSet{}); saveErr != nil {
				return RuleSet{}, errors.Join(NewError(ErrorStoreMissing, s.path), saveErr)
			}
			return RuleSet{}, NewError(ErrorStoreMissing, s.path)
		}
		return RuleSet{}, NewError(ErrorPersistence, fmt.Sprintf("read %s: %v", s.path, err))
	}

	decoded, err := s.decode(content)
	if err != nil {
		detail := fmt.Sprintf("parse %s: %v", s.path, err)
		if backup, backupErr := s.backup(content); backupErr != nil {
			s.log.Error("Rules file is malformed and could not be backed up; the next save replaces it",
				"path", s.path, "error", backupErr)
		} else {
			s.log.Warn("Rules file is malformed, kept a copy before loading an empty set",
				"path", s.path, "backup", backup)
			detail += "; original kept at " + backup
		}
		return RuleSet{}, NewError(ErrorMalformedStore, detail)
	}

	valid := make(RuleSet, 0, len(decoded))
	var invalid []error
	for i, rule := range decoded {
		prepared, err := Prepare(rule)
		if err != nil {
			invalid = append(invalid, fmt.Errorf("rule %d: %w", i, err))
			continue
		}
		valid = append(valid, prepared)
	}

	s.log.Debug("Rules loaded", "path", s.path, "count", len(valid), "dropped", len(invalid))
	if len(invalid) > 0 {
		return valid, errors.Join(invalid...)
	}

	return valid, nil
}

// Save writes the set atomically through a temp file and rename.
func (s *FileStore) Save(set RuleSet) error {
	if set == nil {
		set = RuleSet{}
	}

	content, err := s.encode(set)
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create rules directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp rules file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write rules file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close rules file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace rules file: %w", err)
	}

	s.log.Debug("Rules saved", "path", s.path, "count", len(set))
	return nil
}

// BackupPath is where Load keeps a copy of a rule file it could not parse.
func (s *FileStore) BackupPath() string {
	return s.path + ".bak"
}

func (s *FileStore) backup(content []byte) (string, error) {
	path := s.BackupPath()
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return "", fmt.Errorf("write rules backup: %w", err)
	}

	return path, nil
}

func (s *FileStore) isYAML() bool {
	switch strings.ToLower(filepath.Ext(s.path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func (s *FileStore) encode(set RuleSet) ([]byte, error) {
	doc := document{Rules: set}
	if s.isYAML() {
		return yaml.Marshal(&doc)
	}

	content, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}

	return append(content, '\n'), nil
}

func (s *FileStore) decode(content []byte) (RuleSet, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return RuleSet{}, nil
	}

	if s.isYAML() {
		var doc document
		if err := yaml.Unmarshal(content, &doc); err != nil {
			return nil, err
		}
		return doc.Rules, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(content, &probe); err != nil {
		return nil, err
	}
	// A legacy map may use "rules" as a trigger; its value is then a string.
	if raw, ok := probe["rules"]; !ok || isJSONString(raw) {
		return decodeLegacy(content)
	}

	var doc document
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, err
	}

	return doc.Rules, nil
}

// decodeLegacy reads the flat {"message text": "reply"} layout, keeping file
// order so the first entry still wins.
func decodeLegacy(content []byte) (RuleSet, error) {
	dec := json.NewDecoder(bytes.NewReader(content))

	token, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("expected a JSON object")
	}

	set := RuleSet{}
	for dec.More() {
		keyToken, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyToken.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected key token %v", keyToken)
		}

		var reply string
		if err := dec.Decode(&reply); err != nil {
			return nil, fmt.Errorf("legacy entry %q: %w", key, err)
		}

		set = append(set, Rule{Triggers: []string{key}, Response: Text(reply)})
	}

	return set, nil
}

func isJSONString(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '"'
}

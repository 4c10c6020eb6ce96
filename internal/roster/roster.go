// ABOUTME: Discovers the roster of available assistants from a directory of JSON descriptors.
// ABOUTME: One bad descriptor never fails the build: it is logged and skipped.

package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/2389/noa/internal/envelope"
)

// IDPrefix namespaces every discovered assistant id on the shared space.
const IDPrefix = "noa-"

// Roster maps canonical assistant ids to human-readable descriptions. It is
// the context the decision function uses to pick who speaks next.
type Roster map[string]string

// Has reports whether id is a known assistant.
func (r Roster) Has(id string) bool {
	_, ok := r[id]
	return ok
}

// Describe renders the roster as the bullet list fed to the decision
// prompt, sorted for stable output.
func (r Roster) Describe() string {
	ids := make([]string, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	for _, id := range ids {
		fmt.Fprintf(&b, "- %s: %s\n", id, r[id])
	}
	return strings.TrimRight(b.String(), "\n")
}

// Source rebuilds the roster at episode start.
type Source interface {
	Discover(ctx context.Context) (Roster, error)
}

// descriptor is the on-disk shape of one assistant descriptor file.
type descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// DirSource discovers assistants from *.json descriptor files in a
// directory.
type DirSource struct {
	Dir    string
	Logger *slog.Logger
}

// NewDirSource creates a directory-backed roster source. Pass nil logger
// for default.
func NewDirSource(dir string, logger *slog.Logger) *DirSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirSource{Dir: dir, Logger: logger.With("component", "roster")}
}

// Discover reads every descriptor in the directory. Unreadable or malformed
// descriptors are skipped with a warning; the roster is whatever parsed. An
// empty roster is legal and degrades the moderator to self-answering.
func (s *DirSource) Discover(ctx context.Context) (Roster, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("read assistants dir %s: %w", s.Dir, err)
	}

	roster := make(Roster)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(s.Dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.Logger.Warn("skipping unreadable descriptor", "path", path, "error", err)
			continue
		}

		var d descriptor
		if err := json.Unmarshal(data, &d); err != nil {
			s.Logger.Warn("skipping malformed descriptor", "path", path, "error", err)
			continue
		}
		if d.Name == "" {
			s.Logger.Warn("skipping descriptor without a name", "path", path)
			continue
		}

		id := CanonicalID(d.Name)
		if id == envelope.DefaultUserProxyID {
			// The user proxy id is reserved and never a specialist.
			s.Logger.Warn("skipping descriptor with reserved id", "path", path, "id", id)
			continue
		}

		roster[id] = d.Description
	}

	s.Logger.Info("roster discovered", "assistants", len(roster))
	return roster, nil
}

// CanonicalID normalizes a descriptor name to the id used on the shared
// space: lower-cased, trimmed, whitespace collapsed to hyphens, and
// namespaced with the noa- prefix.
func CanonicalID(name string) string {
	id := strings.ToLower(strings.TrimSpace(name))
	id = strings.Join(strings.Fields(id), "-")
	if !strings.HasPrefix(id, IDPrefix) {
		id = IDPrefix + id
	}
	return id
}

// WriteDescriptor registers an assistant by writing its descriptor file
// into dir, creating the directory if needed. The file is named after the
// canonical id and returned along with that id.
func WriteDescriptor(dir, name, description string) (id, path string, err error) {
	if strings.TrimSpace(name) == "" {
		return "", "", fmt.Errorf("descriptor name is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", fmt.Errorf("create assistants dir %s: %w", dir, err)
	}

	id = CanonicalID(name)
	if id == envelope.DefaultUserProxyID {
		return "", "", fmt.Errorf("id %s is reserved", id)
	}

	data, err := json.MarshalIndent(descriptor{Name: name, Description: description}, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("encode descriptor: %w", err)
	}

	path = filepath.Join(dir, id+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", "", fmt.Errorf("write descriptor %s: %w", path, err)
	}
	return id, path, nil
}

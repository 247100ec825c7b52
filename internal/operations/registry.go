// Package operations implements the operation registry: it enumerates
// cloud-originated operations supported by user-supplied per-operation
// definition files and maps a SmartREST template id to the handler
// command that should be spawned for it.
//
// File layout follows the conventional /etc/tedge/operations/<cloud>/
// directory: one file per operation, key = value lines, `template =
// "<id>"` required, `command = "<path>"` optional.
package operations

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// CompletionTopicPrefix is the private topic namespace the operation
// executor (internal/executor) publishes a custom operation's outcome
// on, once its spawned command exits. The converter subscribes to
// CompletionTopicPrefix+"#" and handles these like any other response
// topic.
const CompletionTopicPrefix = "internal/operations/complete/"

// Operation is one cloud operation definition.
type Operation struct {
	Name       string
	TemplateID string
	Command    string // empty if the operation has no handler command
}

// Registry holds every operation definition loaded from a directory,
// indexed both by name and by cloud template id.
type Registry struct {
	byName       map[string]Operation
	byTemplateID map[string]Operation
	order        []string // insertion order, for deterministic Names()/Topics()
}

// New recursively reads dir for operation definition files. A malformed
// file or a duplicate template id fails construction. A missing
// directory is treated as "no operations" rather than an error, since
// a fresh install may not have created it yet.
func New(dir string) (*Registry, error) {
	r := &Registry{
		byName:       map[string]Operation{},
		byTemplateID: map[string]Operation{},
	}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return r, nil
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		op, err := parseOperationFile(path)
		if err != nil {
			return fmt.Errorf("operations: %s: %w", path, err)
		}
		if op.Name == "" {
			op.Name = filepath.Base(path)
		}
		if existing, ok := r.byTemplateID[op.TemplateID]; ok {
			return fmt.Errorf("operations: duplicate template id %q in %q and %q", op.TemplateID, existing.Name, op.Name)
		}
		r.byName[op.Name] = op
		r.byTemplateID[op.TemplateID] = op
		r.order = append(r.order, op.Name)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return r, nil
}

func parseOperationFile(path string) (Operation, error) {
	f, err := os.Open(path)
	if err != nil {
		return Operation{}, err
	}
	defer f.Close()

	op := Operation{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return Operation{}, fmt.Errorf("malformed line %q", line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if unquoted, err := strconv.Unquote(value); err == nil {
			value = unquoted
		}

		switch key {
		case "template":
			op.TemplateID = value
		case "command":
			op.Command = value
		case "name":
			op.Name = value
		default:
			// unknown fields are ignored
		}
	}
	if err := scanner.Err(); err != nil {
		return Operation{}, err
	}
	if op.TemplateID == "" {
		return Operation{}, fmt.Errorf("missing required \"template\" field")
	}
	return op, nil
}

// Names returns every loaded operation's name, in load order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Find returns the operation registered under templateID, if any.
func (r *Registry) Find(templateID string) (Operation, bool) {
	op, ok := r.byTemplateID[templateID]
	return op, ok
}

// Topics returns the `cloud/in/<template-id>` subscription each loaded
// operation needs, for the mapper loop to fold into its subscription set.
func (r *Registry) Topics() []string {
	topics := make([]string, 0, len(r.order))
	for _, name := range r.order {
		op := r.byName[name]
		topics = append(topics, "cloud/in/"+op.TemplateID)
	}
	return topics
}

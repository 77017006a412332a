package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mehebubhossain/apex-mdapi/internal/batch"
	"github.com/mehebubhossain/apex-mdapi/internal/remote"
)

// ErrInvalid marks manifests that fail validation.
var ErrInvalid = errors.New("invalid manifest")

// Manifest is a parsed batch definition.
type Manifest struct {
	Name  string
	Items []batch.ItemSpec
}

type manifestDoc struct {
	Name  string    `yaml:"name"`
	Items []itemDoc `yaml:"items"`
}

type itemDoc struct {
	Action          string         `yaml:"action"`
	Type            string         `yaml:"type"`
	FullName        string         `yaml:"full_name"`
	Body            map[string]any `yaml:"body"`
	Context         map[string]any `yaml:"context"`
	WaitForPrevious bool           `yaml:"wait_for_previous"`
}

// Load reads and parses a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes manifest bytes and validates every item.
func Parse(data []byte) (*Manifest, error) {
	var doc manifestDoc
	decoder := yaml.NewDecoder(strings.NewReader(string(data)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if strings.TrimSpace(doc.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if len(doc.Items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrInvalid)
	}

	specs := make([]batch.ItemSpec, 0, len(doc.Items))
	for i, item := range doc.Items {
		spec, err := item.toSpec()
		if err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", ErrInvalid, i, err)
		}
		specs = append(specs, spec)
	}

	return &Manifest{
		Name:  strings.TrimSpace(doc.Name),
		Items: specs,
	}, nil
}

func (d itemDoc) toSpec() (batch.ItemSpec, error) {
	action, ok := remote.ParseAction(strings.TrimSpace(d.Action))
	if !ok {
		return batch.ItemSpec{}, fmt.Errorf("unknown action %q", d.Action)
	}
	metadataType := strings.TrimSpace(d.Type)
	if metadataType == "" {
		return batch.ItemSpec{}, errors.New("type is required")
	}
	fullName := strings.TrimSpace(d.FullName)
	if fullName == "" {
		return batch.ItemSpec{}, errors.New("full_name is required")
	}
	if action != remote.ActionDelete && len(d.Body) == 0 {
		return batch.ItemSpec{}, fmt.Errorf("body is required for %s", action)
	}

	spec := batch.ItemSpec{
		Payload: remote.Payload{
			Action:   action,
			Type:     metadataType,
			FullName: fullName,
		},
		WaitForPrevious: d.WaitForPrevious,
	}

	if len(d.Body) > 0 {
		body, err := json.Marshal(d.Body)
		if err != nil {
			return batch.ItemSpec{}, fmt.Errorf("encode body: %v", err)
		}
		spec.Payload.Body = body
	}
	if len(d.Context) > 0 {
		contextData, err := json.Marshal(d.Context)
		if err != nil {
			return batch.ItemSpec{}, fmt.Errorf("encode context: %v", err)
		}
		spec.Context = contextData
	}
	return spec, nil
}

package manifest_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mehebubhossain/apex-mdapi/internal/manifest"
	"github.com/mehebubhossain/apex-mdapi/internal/remote"
)

const sampleManifest = `name: invoice schema
items:
  - action: create
    type: CustomObject
    full_name: Invoice__c
    body:
      label: Invoice
      pluralLabel: Invoices
      deploymentStatus: Deployed
    context:
      step: objects
  - action: update
    type: CustomField
    full_name: Invoice__c.Total__c
    wait_for_previous: true
    body:
      label: Total
      type: Currency
  - action: delete
    type: CustomField
    full_name: Invoice__c.Legacy__c
`

func TestParseManifest(t *testing.T) {
	m, err := manifest.Parse([]byte(sampleManifest))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if m.Name != "invoice schema" {
		t.Errorf("Name = %q", m.Name)
	}
	if len(m.Items) != 3 {
		t.Fatalf("len(Items) = %d, want 3", len(m.Items))
	}

	first := m.Items[0]
	if first.Payload.Action != remote.ActionCreate {
		t.Errorf("Action = %q", first.Payload.Action)
	}
	if first.Payload.Type != "CustomObject" || first.Payload.FullName != "Invoice__c" {
		t.Errorf("Payload = %+v", first.Payload)
	}
	if !strings.Contains(string(first.Payload.Body), `"label":"Invoice"`) {
		t.Errorf("Body = %s", first.Payload.Body)
	}
	if !strings.Contains(string(first.Context), `"step":"objects"`) {
		t.Errorf("Context = %s", first.Context)
	}
	if first.WaitForPrevious {
		t.Error("first item should not wait")
	}

	if !m.Items[1].WaitForPrevious {
		t.Error("second item should wait for previous")
	}

	third := m.Items[2]
	if third.Payload.Action != remote.ActionDelete {
		t.Errorf("Action = %q", third.Payload.Action)
	}
	if third.Payload.Body != nil {
		t.Errorf("delete body = %s, want nil", third.Payload.Body)
	}
}

func TestParseManifestRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing name", "items:\n  - action: delete\n    type: CustomObject\n    full_name: A__c\n"},
		{"no items", "name: empty\nitems: []\n"},
		{"unknown action", "name: x\nitems:\n  - action: upsert\n    type: CustomObject\n    full_name: A__c\n"},
		{"missing type", "name: x\nitems:\n  - action: delete\n    full_name: A__c\n"},
		{"missing full name", "name: x\nitems:\n  - action: delete\n    type: CustomObject\n"},
		{"create without body", "name: x\nitems:\n  - action: create\n    type: CustomObject\n    full_name: A__c\n"},
		{"unknown field", "name: x\nextra: true\nitems:\n  - action: delete\n    type: CustomObject\n    full_name: A__c\n"},
		{"not yaml", "{{{"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := manifest.Parse([]byte(tc.data)); !errors.Is(err, manifest.ErrInvalid) {
				t.Fatalf("Parse() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.yaml")
	if err := os.WriteFile(path, []byte(sampleManifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	m, err := manifest.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(m.Items) != 3 {
		t.Fatalf("len(Items) = %d, want 3", len(m.Items))
	}
}

func TestLoadManifestMissingFile(t *testing.T) {
	if _, err := manifest.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

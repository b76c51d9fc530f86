package fhir

import (
	"encoding/json"
	"fmt"
)

const BundleTypeCollection = "collection"

// Bundle represents a FHIR Bundle resource.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Entry        []BundleEntry `json:"entry"`
}

// BundleEntry holds a serialised snapshot of a resource. Entries never share
// memory with the value they were built from.
type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// NewCollectionBundle creates an empty collection Bundle.
func NewCollectionBundle() *Bundle {
	return &Bundle{
		ResourceType: "Bundle",
		Type:         BundleTypeCollection,
		Entry:        []BundleEntry{},
	}
}

// CollectionBundleFrom builds a collection Bundle with one entry per
// resource, in the order given.
func CollectionBundleFrom(resources []Resource) (*Bundle, error) {
	b := NewCollectionBundle()
	b.Entry = make([]BundleEntry, 0, len(resources))
	for i, r := range resources {
		if err := b.AddResource(r); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return b, nil
}

// AddResource appends a snapshot of r to the bundle.
func (b *Bundle) AddResource(r Resource) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal %s resource: %w", r.ResourceType(), err)
	}
	b.Entry = append(b.Entry, BundleEntry{Resource: raw})
	return nil
}

// Resources decodes every entry back into a fresh Resource.
func (b *Bundle) Resources() ([]Resource, error) {
	out := make([]Resource, 0, len(b.Entry))
	for i, e := range b.Entry {
		r, err := ParseResource(e.Resource)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// ParseBundle decodes a Bundle and rejects any other resource type.
func ParseBundle(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	if b.ResourceType != "Bundle" {
		return nil, fmt.Errorf("expected resourceType Bundle, got %q", b.ResourceType)
	}
	return &b, nil
}

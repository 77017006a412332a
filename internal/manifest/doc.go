// Package manifest parses YAML batch manifests into item specifications.
//
// A manifest names the batch and lists its items in submission order. Item
// bodies and contexts are written as YAML mappings and carried forward as
// JSON, so the rest of the system never sees YAML.
package manifest

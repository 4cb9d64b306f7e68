package api

import (
	"github.com/invopop/jsonschema"
)

// Schemas for the documents clients author by hand. Registry entries in
// particular are written as JSON files and submitted through
// RequestDownload; tooling validates them against this schema before
// sending anything to the daemon.

func newReflector() *jsonschema.Reflector {
	return &jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
}

// RegistryEntrySchema describes the model registry entry document.
func RegistryEntrySchema() *jsonschema.Schema {
	return newReflector().Reflect(&RegistryEntry{})
}

// PermissionsSchema describes the permission set document used in
// approval requests.
func PermissionsSchema() *jsonschema.Schema {
	return newReflector().Reflect(&Permissions{})
}

// ModelFilterSchema describes the filter document accepted by the flex
// routes.
func ModelFilterSchema() *jsonschema.Schema {
	return newReflector().Reflect(&ModelFilter{})
}

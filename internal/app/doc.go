// Package app loads engine configuration and wires the component graph:
// primitive suite, key store, bundle cache, sessions, codec, rotation
// manager, and delivery gate, around the collaborator interfaces the
// embedding application provides.
package app

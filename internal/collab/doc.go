// Package collab defines the kernel's external collaborator boundary:
// the interfaces the orchestrator calls through and the structured result
// shapes collaborators return.
//
// Collaborators receive read-only snapshots and return new values. The
// kernel validates only the returned shape, never the collaborator's
// internal method. Reasoning-backed default implementations live in
// reasoning.go; test fakes live in package collabtest.
package collab

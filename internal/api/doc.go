// Package api hosts the HTTP handlers that front the moddepot REST API.
//
// The handlers assembled by Handler coordinate request validation, session
// awareness, and response shaping while delegating persistence to
// storage.Repository implementations injected at construction time. Artifact
// bytes flow through a storage.ArtifactStore, and domain events are handed to
// a notify.Notifier; both are injected so endpoint behaviour stays testable
// without coupling the package to specific runtime wiring.
//
// Handler implementations assume upstream middleware from internal/server has
// already enforced authentication resolution, rate limiting, metrics, and
// logging concerns. New routes should preserve that contract by avoiding
// duplicate validation and by leaning on the middleware guarantees
// established in the server stack.
package api

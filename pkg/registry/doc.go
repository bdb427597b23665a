// Package registry holds the server-side catalogs of resources, tools and
// prompts. Each catalog maps a name or URI pattern to a bound handler and is
// safe for concurrent registration and lookup. Catalogs may be shared by every
// session a server runs.
//
// Registrations made before Seal are startup configuration and raise no
// change callbacks; registrations after Seal do, which is how list-changed
// notifications reach subscribed peers.
package registry

/*
Package registry loads and serves per-target-repository configuration.

One YAML file configures the whole engine: broker connection, worker count,
refresh interval, source-of-truth repository endpoint, and one typed section
per target repository keyed by its logical repository key. A section names
the transport protocol and its credentials, the assembler options (packaging
spec, archive, compression, checksum algorithms) and the status mapping used
by the refresh loop.

Auth realms are a discriminated union on the "mech" field; only "basic" is
known and anything else fails the load. The registry is immutable once
loaded and safe for concurrent reads.
*/
package registry

// Package install issues wallet passes lazily. The Issuer owns the
// absent/stale/current decision for one pass; the Resolver validates an
// install visit and drives the Issuer for every requested kind.
package install

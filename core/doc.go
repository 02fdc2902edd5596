// Package core holds the wallet sync domain model, store and collaborator
// contracts, configuration and the error taxonomy. Feature packages depend on
// core; core depends on no feature package.
package core

// Package transport performs bounded outbound HTTP exchanges and maps their
// failures onto the wallet error taxonomy.
package transport

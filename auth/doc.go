// Package auth holds the credentials the service presents and checks: the
// card-object service-account token exchange and shared-secret bearer checks.
package auth

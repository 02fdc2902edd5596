// Package httpapi exposes the walletsync operations over HTTP: webhook
// ingestion, install visits, the wallet device web service and the admin
// diagnostics endpoints.
package httpapi

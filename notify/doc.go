// Package notify turns point deltas into durable, merged and throttled
// notification jobs. Pending work lives in the job store, so a restart loses
// nothing.
package notify

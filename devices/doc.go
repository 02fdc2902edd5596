// Package devices keeps the push tokens devices register against issued
// passes and answers the update queries devices make.
package devices

// Package operators holds generic operators shared by applets: a pass
// through piper, a blocked array cache and a value cache.
package operators

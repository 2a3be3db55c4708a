// Package activity records the capped, append-only stream of lifecycle
// events and fans each one out to event broker subscribers.
package activity

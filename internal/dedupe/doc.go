// Package dedupe drops re-delivered Matrix events using a time-based cache,
// so one chat message never becomes two jobs.
package dedupe

// Package lockfile guards a data directory with an exclusive flock so only one
// daemon (or kill-all) manages the instances recorded there at a time.
package lockfile

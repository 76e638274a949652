// Package geodb checks the MaxMind country database the daemon links into
// every instance directory, so a broken file is reported at startup instead of
// by every engine that tries to load it.
package geodb

// Package controller is a small client for the REST API an engine exposes on
// its external-controller address. The reconciler uses Reload to apply config
// changes that do not touch listeners without restarting the engine.
package controller

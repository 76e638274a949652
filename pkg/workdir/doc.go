/*
Package workdir manages the per-instance working directories of the engines.

Each instance gets <data-dir>/instances/<id>/ holding:

	config.yaml    the rendered engine configuration
	engine.log     engine stdout and stderr
	Country.mmdb   symlink to the geo database, when one is configured

The engine is started with -d pointing at this directory, so it also stores
its own cache files there. Remove deletes the directory with everything in it
once the instance is gone.
*/
package workdir

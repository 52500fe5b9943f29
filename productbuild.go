/*
Package productbuild builds phovea products: sets of web and server parts, each
cloned from its repositories, built with the toolchain of its type and shipped
as a docker image.

A product is described by phovea_product.json:

	{
	  "web": {"type": "web", "repo": "Caleydo/ordino", "additionals": [...]},
	  "api": {"type": "api", "repo": "phovea/phovea_server", "data": [...]}
	}

Every part runs the stages prepare, install, build, dockerize and push. Parts
run in parallel unless --serial is given, and a failing part never stops the
others. After all parts have finished, the docker-compose.partial.yml
fragments of the successful parts are merged into build/docker-compose.yml.

# Usage

	productbuild                           # Build and push all parts
	productbuild --services web --skipPush # Build a single part
	productbuild check                     # Validate the manifest
*/
package productbuild

// Version is the current version of productbuild
var Version = "1.0.0"

// BuildDate is set at build time
var BuildDate string

// GitCommit is set at build time
var GitCommit string

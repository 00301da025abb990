// Package api implements the host API modules exposed to plugin Lua
// code as the "host" module.
//
// Each plugin gets its own Registry built from a Context wiring the
// host's services. InjectAll installs only the modules the plugin's
// permissions allow, then aggregates them:
//
//	local host = require("host")
//	host.log.info("ready")
//
//	local cache = require("host.cache")
//	cache.set("key", "value", 60)
//
// Modules and the permissions gating them:
//
//	log      always available
//	config   always available (scoped to the plugin's own config)
//	metrics  always available (scoped to the plugin's own counters)
//	event    emit needs events:emit
//	tools    execute needs tools:execute
//	cache    cache:read to inject, cache:write per write call
//	storage  database:read to inject, database:write per write call
//	queue    queue:publish / queue:consume per call
//	http     network:http to inject
//
// A module whose injection permission is missing simply does not
// appear in the host table; gated calls inside an injected module
// raise a Lua error naming the missing permission.
package api

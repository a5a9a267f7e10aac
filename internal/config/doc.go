// Package config holds the settings record of the bootstrap runtime and its
// default loader.
//
// # Sources
//
// Settings start from Default() and are overlaid, in order of increasing
// precedence, by:
//
//	1. Default values (port 8080, host 0.0.0.0, ...)
//	2. A YAML file ($IDYLLE_CONFIG, config.yaml or configs/config.yaml)
//	3. Environment variables prefixed with IDYLLE_
//
// # Environment Variables
//
//	IDYLLE_PORT=9090
//	IDYLLE_HOST=127.0.0.1
//	IDYLLE_LOGGING_LEVEL=debug
//	IDYLLE_CACHE_DRIVER=redis
//	IDYLLE_CACHE_REDIS_ADDR=localhost:6379
//	IDYLLE_MIDDLEWARES=request_id,logger,recoverer
//
// # Usage
//
// The default loader is LoadInto, which mutates an existing record so that
// the pointer handed to init.settings listeners stays the one the application
// reads from:
//
//	s := config.Default()
//	if err := config.LoadInto(s); err != nil {
//	    return err
//	}
package config

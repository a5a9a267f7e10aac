// Package app boots an idylle application through a fixed sequence of
// stages and holds the runtime state the stages build up.
//
// # Stages
//
// Run executes, in order and exactly once:
//
//	init.dependencies  criteria builder, error and response handlers
//	init.transport     HTTP transport and the real-time server on /ws
//	init.settings      the live *config.Settings
//	init.middlewares   named HTTP middlewares
//	init.models        named models
//	init.cache         the cache attached to the action environment
//	init.actions       named action handlers
//	init.routes        binds actions on HTTP and on the real-time router
//	booting            application boot work
//	start              Transport.Listen(host, port)
//	started            post start hooks
//	clean              drops the listeners and freezes the registries
//
// # Listeners
//
// Each registrable stage has a default provider. Registering any listener
// for a stage replaces that default entirely:
//
//	a := app.New()
//	a.OnActions(func(ctx context.Context, a *app.Application) error {
//	    return a.Actions.Register("system.ping", ping)
//	})
//	if err := a.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Listeners of one stage run concurrently; the registries they write to
// are safe for that and reject duplicate names. The first failing stage
// stops the sequence with a *StageError and the transport is never started.
package app

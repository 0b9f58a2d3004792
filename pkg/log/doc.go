// Package log wraps zerolog with the structured fields this module's
// components attach consistently: component name, cluster member id,
// hosted service identity, and session id.
//
// Call Init once at process startup with the desired Config, then derive
// child loggers with With*:
//
//	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
//	l := log.WithComponent("client").With().Str("member", "a").Logger()
//	l.Info().Msg("dispatching command")
//
// Child loggers compose: a session-scoped logger typically chains
// WithComponent, WithServiceID, and WithSessionID so every line it emits
// carries the full addressing context without repeating it at each call
// site.
package log

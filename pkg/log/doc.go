/*
Package log provides structured logging for Burrow built on zerolog.

A single global logger is initialized once at process start via Init, with
console output for interactive use and JSON for machine consumption. Packages
derive child loggers carrying a component field plus pool/tenant/container
identifiers:

	logger := log.WithComponent("pool")
	logger.Info().Str("pool_id", id).Msg("fill loop started")

Tests that need quiet output can call Init with an io.Discard writer.
*/
package log

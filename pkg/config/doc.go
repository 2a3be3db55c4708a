/*
Package config loads node-level orchestrator configuration from environment
variables.

All variables are optional and carry defaults, so the core runs in tests with
no environment at all. Directory variables default to subdirectories of
BURROW_DATA_DIR. Memory limits accept human strings parsed with
docker/go-units ("512m", "2g").
*/
package config

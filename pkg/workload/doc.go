// Package workload loads, validates and registers workload specifications.
// Specs arrive as YAML files with environment-variable substitution and are
// validated into types.WorkloadSpec values that the rest of the system treats
// as immutable.
package workload

// Package types defines the shared data model for flowmedic: normalized
// workflow and task execution states, instance snapshots, and schedule
// definitions.
//
// The orchestrator's REST API encodes execution state either as a numeric
// code or as a symbolic name depending on server version. State normalizes
// both forms into one enumeration at the ingestion boundary, so the decision
// core (tracker, validator, recovery) only ever operates on normalized
// values.
package types

// Package storage persists flowmedic's durable state in BoltDB.
//
// Three buckets back the three record sets: schedule states keyed by
// project+definition, recovery records keyed by workflow-instance id, and
// notification records keyed by project+definition. Values are JSON. A
// missing or corrupt database starts the process from empty state instead of
// failing startup.
package storage

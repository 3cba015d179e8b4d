// Package monitor runs the polling loop: per tick it refreshes schedule
// registrations, asks the tracker which workflows need checking, buckets
// recent failures by workflow definition, and routes each bucket to
// automatic recovery or to notify-only depending on the failure threshold.
package monitor

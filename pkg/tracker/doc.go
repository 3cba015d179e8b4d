// Package tracker decides, per polling tick, whether a scheduled workflow
// needs its state checked against the orchestrator API.
//
// Each tracked workflow carries one schedule period at a time, derived from
// its cron expression. A workflow that already succeeded this period, or is
// outside its execution window, is skipped without any API traffic. All
// ambiguity resolves toward querying: unknown workflows and unparseable
// cron expressions get a full check.
package tracker

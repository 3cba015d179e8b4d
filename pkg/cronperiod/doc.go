// Package cronperiod computes scheduling periods from cron expressions in
// the orchestrator's 6-or-7-field format (second minute hour day month
// weekday [year]).
//
// It is not a full cron evaluator. Period boundaries honor only the first
// matching time-of-day and assume one firing per day; see Expr for the exact
// approximation. Everything in this package is pure and stateless.
package cronperiod

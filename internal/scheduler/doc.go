// Package scheduler triggers periodic maintenance jobs on cron specs:
// speaker reminders shortly before a talk window opens and expiry sweeps
// of abandoned question flows.
package scheduler

// Package scheduler is the bot's clock: it fires registered jobs on a fixed
// interval or a cron expression using robfig/cron.
//
// A job never takes the clock down. Panics are recovered, errors are logged,
// and a firing is skipped while the previous one of the same job is still running.
package scheduler

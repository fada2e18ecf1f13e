package scheduler

import (
	"fmt"

	"github.com/robfig/cron/v3"

	logx "tickbot/pkg/logx"
)

// cronLogger adapts logx to cron.Logger so Recover and SkipIfStillRunning
// report through the bot's logger.
type cronLogger struct{ log logx.Logger }

var _ cron.Logger = cronLogger{}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, (len(kv)+1)/2)
	for i := 0; i < len(kv); i += 2 {
		k := fmt.Sprint(kv[i])
		if i+1 >= len(kv) {
			out = append(out, logx.String(k, ""))
			break
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}

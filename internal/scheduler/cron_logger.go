package scheduler

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// skipMessage is what cron.SkipIfStillRunning logs when it drops a run
const skipMessage = "skip"

// cronLogger adapts logrus to cron.Logger. Engine chatter goes to debug;
// skipped runs are forwarded to onSkip.
type cronLogger struct {
	log    *logrus.Entry
	onSkip func()
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == skipMessage && l.onSkip != nil {
		l.onSkip()
		return
	}
	l.log.WithFields(fields(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).WithFields(fields(keysAndValues)).Error("cron: " + msg)
}

func fields(keysAndValues []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		f[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return f
}

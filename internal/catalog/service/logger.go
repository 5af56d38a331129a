package service

import "log"

// runLogger tags every log line of one refresh cycle with its run id so
// interleaved cycles can be told apart.
type runLogger struct {
	runID string
}

func newRunLogger(runID string) *runLogger {
	return &runLogger{runID: runID}
}

func (l *runLogger) Infof(operation, format string, args ...interface{}) {
	log.Printf("[info] run_id=%s operation=%s "+format, append([]interface{}{l.runID, operation}, args...)...)
}

func (l *runLogger) Warnf(operation, format string, args ...interface{}) {
	log.Printf("[warn] run_id=%s operation=%s "+format, append([]interface{}{l.runID, operation}, args...)...)
}

func (l *runLogger) Errorf(operation, format string, args ...interface{}) {
	log.Printf("[error] run_id=%s operation=%s "+format, append([]interface{}{l.runID, operation}, args...)...)
}

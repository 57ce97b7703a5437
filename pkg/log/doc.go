// Package log wraps zerolog to give CRAB structured, leveled logging with a
// global Logger plus component/experiment/app/run-scoped child loggers.
//
// Init must be called once at process start, before the orchestrator or
// worker engine runs:
//
//	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})
//
// The io.Writer in Config is the hook a driving UI or test harness would
// attach to receive log lines on its own goroutine instead of stdout.
package log

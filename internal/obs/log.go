package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the process-wide logger. Every line it emits is a single
// JSON object; request logging, audit events and the gate's internal
// warnings all go through it so their output interleaves cleanly.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest serializes the entry as one JSON line. Entries that cannot be
// marshaled (unsupported value types) are replaced with a fixed marker line
// rather than dropped.
func LogRequest(entry map[string]any) {
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"level":"error","msg":"unserializable log entry"}`)
		return
	}
	Logger().Println(string(data))
}

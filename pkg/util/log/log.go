package log

import (
	"fmt"
	"io"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/weaveworks/common/logging"
	"github.com/weaveworks/common/server"
)

var (
	// Logger is a shared go-kit logger.
	Logger = log.NewNopLogger()
)

// InitLogger initialises the global logger according to the log level and
// format of the server config, and makes the server log through it too.
func InitLogger(cfg *server.Config, reg prometheus.Registerer) {
	l := newPrometheusLogger(log.NewSyncWriter(os.Stderr), cfg.LogLevel, cfg.LogFormat, reg)

	Logger = log.With(l, "caller", log.Caller(5))
	cfg.Log = logging.GoKit(log.With(l, "caller", log.Caller(6)))
}

// prometheusLogger counts the messages it writes by level.
type prometheusLogger struct {
	logger      log.Logger
	logMessages *prometheus.CounterVec
}

// newPrometheusLogger returns a logger writing to w with a timestamp on every
// line. Messages below lvl are dropped before they are counted.
func newPrometheusLogger(w io.Writer, lvl logging.Level, format logging.Format, reg prometheus.Registerer) log.Logger {
	var logger log.Logger
	if format.String() == "json" {
		logger = log.NewJSONLogger(w)
	} else {
		logger = log.NewLogfmtLogger(w)
	}

	logMessages := promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Name: "log_messages_total",
		Help: "Total number of log messages.",
	}, []string{"level"})
	for _, v := range []level.Value{level.DebugValue(), level.InfoValue(), level.WarnValue(), level.ErrorValue()} {
		logMessages.WithLabelValues(v.String())
	}

	filter := lvl.Gokit
	if filter == nil {
		filter = level.AllowInfo()
	}
	logger = level.NewFilter(&prometheusLogger{logger: logger, logMessages: logMessages}, filter)
	return log.With(logger, "ts", log.DefaultTimestampUTC)
}

func (pl *prometheusLogger) Log(kv ...interface{}) error {
	err := pl.logger.Log(kv...)
	l := "unknown"
	for i := 1; i < len(kv); i += 2 {
		if v, ok := kv[i].(level.Value); ok {
			l = v.String()
			break
		}
	}
	pl.logMessages.WithLabelValues(l).Inc()
	return err
}

// WithJob returns a Logger annotated with the job and phase a component
// works for.
func WithJob(l log.Logger, jobID fmt.Stringer, phaseID int32) log.Logger {
	return log.With(l, "job", jobID.String(), "phase", phaseID)
}

// CheckFatal prints an error and exits with error code 1 if err is non-nil
func CheckFatal(location string, err error) {
	if err != nil {
		logger := level.Error(Logger)
		if location != "" {
			logger = log.With(logger, "msg", "error "+location)
		}
		// %+v gets the stack trace from errors using github.com/pkg/errors
		logger.Log("err", fmt.Sprintf("%+v", err))
		os.Exit(1)
	}
}

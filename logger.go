package fwdproxy

import (
	"fmt"
	"os"

	syslog "github.com/RackSec/srslog"
	"github.com/sirupsen/logrus"
)

// Log is the package-level logger used by the engine. The engine calls
// it only from the event-loop goroutine (see Engine.Run); other
// goroutines, such as cmd/fwdproxyd's signal handler, also log through
// it, and logrus serializes those writes with its own mutex.
var Log = logrus.NewEntry(logrus.New())

// recordFormatter renders log entries as:
//
//	[YYYY-MM-DD HH:MM:SS] [LEVEL] message
//
// matching the log file format required of the proxy.
type recordFormatter struct{}

func (recordFormatter) Format(e *logrus.Entry) ([]byte, error) {
	level := levelName(e.Level)
	msg := e.Message
	for k, v := range e.Data {
		msg = fmt.Sprintf("%s %s=%v", msg, k, v)
	}
	line := fmt.Sprintf("[%s] [%s] %s\n", e.Time.Format("2006-01-02 15:04:05"), level, msg)
	return []byte(line), nil
}

func levelName(l logrus.Level) string {
	switch l {
	case logrus.DebugLevel, logrus.TraceLevel:
		return "INFO"
	case logrus.InfoLevel:
		return "INFO"
	case logrus.WarnLevel:
		return "WARN"
	default:
		return "ERROR"
	}
}

// InitLogger opens filename in append mode and points Log at it, using
// the bracketed record format the proxy's log file is required to have.
func InitLogger(filename string) (*logrus.Logger, error) {
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	l := logrus.New()
	l.SetFormatter(recordFormatter{})
	l.SetOutput(f)
	l.SetLevel(logrus.DebugLevel)
	Log = logrus.NewEntry(l)
	return l, nil
}

// AttachSyslog mirrors every log record to a syslog collector in
// addition to the log file, via a logrus hook. Selecting this is an
// operator opt-in (SYSLOG_ADDRESS in the config file); the log file
// keeps the exact bracketed format regardless of whether this is set.
func AttachSyslog(l *logrus.Logger, network, address, tag string) error {
	hook, err := newSyslogHook(network, address, tag)
	if err != nil {
		return err
	}
	l.AddHook(hook)
	return nil
}

type syslogHook struct {
	writer *syslog.Writer
}

func newSyslogHook(network, address, tag string) (*syslogHook, error) {
	w, err := syslog.Dial(network, address, syslog.LOG_INFO, tag)
	if err != nil {
		return nil, err
	}
	return &syslogHook{writer: w}, nil
}

func (h *syslogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *syslogHook) Fire(e *logrus.Entry) error {
	line, err := (recordFormatter{}).Format(e)
	if err != nil {
		return err
	}
	switch e.Level {
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return h.writer.Err(string(line))
	case logrus.WarnLevel:
		return h.writer.Warning(string(line))
	default:
		return h.writer.Info(string(line))
	}
}

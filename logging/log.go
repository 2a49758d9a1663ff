package logging

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

type prefixFormatter struct {
	prefix    string
	formatter log.Formatter
}

// Options of Init.
type Options struct {

	// Prefix for application log entries. Primarily used to be
	// able to select between access log and application log
	// entries.
	ApplicationLogPrefix string

	// Output for the application log entries, when nil,
	// os.Stderr is used.
	ApplicationLogOutput io.Writer

	// Level of the application log. The logrus default is used
	// when not set.
	ApplicationLogLevel string

	// When set, the application log is written in JSON format.
	ApplicationLogJSONEnabled bool

	// Output for the access log entries, when nil, os.Stderr is
	// used.
	AccessLogOutput io.Writer

	// When set, no access log is printed.
	AccessLogDisabled bool

	// When set, log in JSON format is used
	AccessLogJSONEnabled bool
}

func (f *prefixFormatter) Format(e *log.Entry) ([]byte, error) {
	b, err := f.formatter.Format(e)
	if err != nil {
		return nil, err
	}

	return append([]byte(f.prefix), b...), nil
}

func initApplicationLog(o Options) error {
	if o.ApplicationLogLevel != "" {
		level, err := log.ParseLevel(o.ApplicationLogLevel)
		if err != nil {
			return err
		}

		log.SetLevel(level)
	}

	var formatter log.Formatter = &log.TextFormatter{}
	if o.ApplicationLogJSONEnabled {
		formatter = &log.JSONFormatter{}
	}

	if o.ApplicationLogPrefix != "" {
		formatter = &prefixFormatter{o.ApplicationLogPrefix, formatter}
	}

	log.SetFormatter(formatter)
	if o.ApplicationLogOutput != nil {
		log.SetOutput(o.ApplicationLogOutput)
	}

	return nil
}

func initAccessLog(output io.Writer, jsonEnabled bool) {
	l := log.New()
	if jsonEnabled {
		l.Formatter = &log.JSONFormatter{TimestampFormat: dateFormat, DisableTimestamp: true}
	} else {
		l.Formatter = &accessLogFormatter{accessLogFormat}
	}

	l.Out = output
	l.Level = log.InfoLevel
	accessLog = l
}

// Init initializes the application log and the access log. It fails only
// when the log level is invalid.
func Init(o Options) error {
	if err := initApplicationLog(o); err != nil {
		return err
	}

	if o.AccessLogDisabled {
		accessLog = nil
		return nil
	}

	if o.AccessLogOutput == nil {
		o.AccessLogOutput = os.Stderr
	}

	initAccessLog(o.AccessLogOutput, o.AccessLogJSONEnabled)
	return nil
}

package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/zalando/intercept/builtin"
	"github.com/zalando/intercept/logging"
	"github.com/zalando/intercept/metrics"
)

type Config struct {
	ConfigFile string
	Flags      *flag.FlagSet

	// generic:
	Address                 string        `yaml:"address"`
	Backend                 string        `yaml:"backend"`
	ProxyPreserveHost       bool          `yaml:"proxy-preserve-host"`
	ReadHeaderTimeoutServer time.Duration `yaml:"read-header-timeout-server"`
	IdleTimeoutServer       time.Duration `yaml:"idle-timeout-server"`
	ShutdownTimeout         time.Duration `yaml:"shutdown-timeout"`
	PrintVersion            bool          `yaml:"version"`

	// interception:
	Name                 string         `yaml:"name"`
	FailOnConditionError bool           `yaml:"fail-on-condition-error"`
	ETag                 string         `yaml:"etag"`
	ExcludePaths         pathFlag    `yaml:"exclude-path"`
	RequestHeaders       *headerFlag `yaml:"request-header"`
	Compress             bool        `yaml:"compress"`
	CompressTypes        *listFlag   `yaml:"compress-types"`
	CompressEncodings    *listFlag   `yaml:"compress-encodings"`
	Decompress           bool        `yaml:"decompress"`
	DecompressTypes      *listFlag   `yaml:"decompress-types"`
	Replace              replaceFlag `yaml:"replace"`
	ReplaceStream        bool        `yaml:"replace-stream"`
	ReplaceMaxBuffer     int         `yaml:"replace-max-buffer"`

	// logging, metrics:
	SupportListener              string `yaml:"support-listener"`
	HistogramMetricBucketsString string `yaml:"histogram-metric-buckets"`
	EnableRuntimeMetrics         bool   `yaml:"runtime-metrics"`
	EnableServeMetrics           bool   `yaml:"serve-metrics"`
	ApplicationLogLevelString    string `yaml:"application-log-level"`
	ApplicationLogPrefix         string `yaml:"application-log-prefix"`
	ApplicationLogJSONEnabled    bool   `yaml:"application-log-json-enabled"`
	AccessLogDisabled            bool   `yaml:"access-log-disabled"`
	AccessLogJSONEnabled         bool   `yaml:"access-log-json-enabled"`

	// parsed values:
	BackendURL             *url.URL       `yaml:"-"`
	ApplicationLogLevel    log.Level      `yaml:"-"`
	HistogramMetricBuckets []float64      `yaml:"-"`
	ReplaceRules           []builtin.Rule `yaml:"-"`
}

const (
	defaultApplicationLogPrefix = "[APP]"

	// ETag modes:
	ETagNone = "none"
	ETagWeak = "weak"
	ETagHash = "hash"
)

var errMissingBackend = errors.New("missing backend")

func NewConfig() *Config {
	cfg := new(Config)
	cfg.RequestHeaders = newHeaderFlag()
	cfg.CompressTypes = newListFlag()
	cfg.CompressEncodings = newListFlag("br", "gzip", "deflate", "zstd")
	cfg.DecompressTypes = newListFlag()

	flag := flag.NewFlagSet("", flag.ExitOnError)
	flag.StringVar(&cfg.ConfigFile, "config-file", "", "if provided the flags will be loaded/overwritten by the values on the file (yaml)")

	// generic:
	flag.StringVar(&cfg.Address, "address", ":9090", "network address that the proxy should listen on")
	flag.StringVar(&cfg.Backend, "backend", "", "URL of the backend service, the requests are forwarded to it")
	flag.BoolVar(&cfg.ProxyPreserveHost, "proxy-preserve-host", false, "flag indicating to preserve the incoming request 'Host' header in the outgoing requests")
	flag.DurationVar(&cfg.ReadHeaderTimeoutServer, "read-header-timeout-server", 60*time.Second, "set ReadHeaderTimeout for http server connections")
	flag.DurationVar(&cfg.IdleTimeoutServer, "idle-timeout-server", 60*time.Second, "set IdleTimeout for http server connections")
	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "maximum time to wait for the open connections when shutting down")
	flag.BoolVar(&cfg.PrintVersion, "version", false, "print the version and exit")

	// interception:
	flag.StringVar(&cfg.Name, "name", "proxy", "name of the interception handlers in the logs and the metrics")
	flag.BoolVar(&cfg.FailOnConditionError, "fail-on-condition-error", false, "when set, the failing conditions fail the request instead of skipping the interception")
	flag.StringVar(&cfg.ETag, "etag", ETagNone, "ETag of the replaced response bodies: none removes the header, weak and hash recalculate it")
	flag.Var(&cfg.ExcludePaths, "exclude-path", "regular expression of request paths excluded from the interception, can be repeated")
	flag.Var(cfg.RequestHeaders, "request-header", "request headers set while the backend is called, and restored for the response interception, in the format: name=value,name2=value2, can be repeated")
	flag.BoolVar(&cfg.Compress, "compress", false, "enables compressing the responses for the clients that accept it")
	flag.Var(cfg.CompressTypes, "compress-types", "media types of the compressed responses, comma separated, a built in list of text types is used when not set")
	flag.Var(cfg.CompressEncodings, "compress-encodings", "set encodings supported for compression, the order defines priority when Accept-Encoding has equal quality values")
	flag.BoolVar(&cfg.Decompress, "decompress", false, "enables decompressing the encoded responses of the backend")
	flag.Var(cfg.DecompressTypes, "decompress-types", "media types of the decompressed responses, comma separated, all when not set")
	flag.Var(&cfg.Replace, "replace", "replacement rule applied to the textual responses, in the format: s/pattern/replacement/, can be repeated")
	flag.BoolVar(&cfg.ReplaceStream, "replace-stream", false, "apply the replacement rules while streaming, without buffering the whole response")
	flag.IntVar(&cfg.ReplaceMaxBuffer, "replace-max-buffer", 0, "maximum bytes buffered by a streaming replacement while looking for a match, a default is used when 0")

	// logging, metrics:
	flag.StringVar(&cfg.SupportListener, "support-listener", ":9911", "network address used for exposing the /metrics endpoint, disabled when empty")
	flag.StringVar(&cfg.HistogramMetricBucketsString, "histogram-metric-buckets", "", "use custom buckets for prometheus histograms, must be a comma-separated list of numbers")
	flag.BoolVar(&cfg.EnableRuntimeMetrics, "runtime-metrics", false, "enables collecting the Go runtime and the process metrics")
	flag.BoolVar(&cfg.EnableServeMetrics, "serve-metrics", true, "enables collecting the duration of serving the requests")
	flag.StringVar(&cfg.ApplicationLogLevelString, "application-log-level", "INFO", "log level for application logs, possible values: PANIC, FATAL, ERROR, WARN, INFO, DEBUG")
	flag.StringVar(&cfg.ApplicationLogPrefix, "application-log-prefix", defaultApplicationLogPrefix, "prefix for each log entry")
	flag.BoolVar(&cfg.ApplicationLogJSONEnabled, "application-log-json-enabled", false, "when this flag is set, log in JSON format is used")
	flag.BoolVar(&cfg.AccessLogDisabled, "access-log-disabled", false, "when this flag is set, no access log is printed")
	flag.BoolVar(&cfg.AccessLogJSONEnabled, "access-log-json-enabled", false, "when this flag is set, log in JSON format is used")

	cfg.Flags = flag
	return cfg
}

func validate(c *Config) error {
	_, err := log.ParseLevel(c.ApplicationLogLevelString)
	if err != nil {
		return err
	}

	_, err = parseBackend(c.Backend)
	if err != nil {
		return err
	}

	switch c.ETag {
	case ETagNone, ETagWeak, ETagHash:
	default:
		return fmt.Errorf("invalid etag mode: %s", c.ETag)
	}

	if c.ReplaceMaxBuffer < 0 {
		return fmt.Errorf("invalid replace max buffer: %d", c.ReplaceMaxBuffer)
	}

	_, err = c.parseHistogramBuckets()
	return err
}

func (c *Config) Parse() error {
	return c.ParseArgs(os.Args[0], os.Args[1:])
}

func (c *Config) ParseArgs(progname string, args []string) error {
	c.Flags.Init(progname, flag.ExitOnError)
	err := c.Flags.Parse(args)
	if err != nil {
		return err
	}

	// check if arguments were correctly parsed.
	if len(c.Flags.Args()) != 0 {
		return fmt.Errorf("invalid arguments: %s", c.Flags.Args())
	}

	if c.ConfigFile != "" {
		yamlFile, err := os.ReadFile(c.ConfigFile)
		if err != nil {
			return fmt.Errorf("invalid config file: %w", err)
		}

		// the repeated flags are collected again by the second parse
		c.ExcludePaths = nil
		c.Replace = replaceFlag{}

		err = yaml.Unmarshal(yamlFile, c)
		if err != nil {
			return fmt.Errorf("unmarshalling config file error: %w", err)
		}

		err = c.Flags.Parse(args)
		if err != nil {
			return err
		}
	}

	if c.PrintVersion {
		return nil
	}

	if err := validate(c); err != nil {
		return err
	}

	c.ApplicationLogLevel, _ = log.ParseLevel(c.ApplicationLogLevelString)
	c.BackendURL, _ = parseBackend(c.Backend)
	c.HistogramMetricBuckets, _ = c.parseHistogramBuckets()
	c.ReplaceRules = c.Replace.rules
	return nil
}

// LoggingOptions returns the options of the application and the access log.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		ApplicationLogPrefix:      c.ApplicationLogPrefix,
		ApplicationLogLevel:       c.ApplicationLogLevelString,
		ApplicationLogJSONEnabled: c.ApplicationLogJSONEnabled,
		AccessLogDisabled:         c.AccessLogDisabled,
		AccessLogJSONEnabled:      c.AccessLogJSONEnabled,
	}
}

// MetricsOptions returns the options of the Prometheus metrics.
func (c *Config) MetricsOptions() metrics.Options {
	return metrics.Options{
		HistogramBuckets:     c.HistogramMetricBuckets,
		EnableRuntimeMetrics: c.EnableRuntimeMetrics,
		EnableServeMetrics:   c.EnableServeMetrics,
	}
}

func parseBackend(s string) (*url.URL, error) {
	if s == "" {
		return nil, errMissingBackend
	}

	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid backend: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend: %s", s)
	}

	return u, nil
}

func (c *Config) parseHistogramBuckets() ([]float64, error) {
	if c.HistogramMetricBucketsString == "" {
		return prometheus.DefBuckets, nil
	}

	var result []float64
	thresholds := strings.Split(c.HistogramMetricBucketsString, ",")
	for _, v := range thresholds {
		bucket, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("unable to parse histogram-metric-buckets: %w", err)
		}
		result = append(result, bucket)
	}
	sort.Float64s(result)
	return result, nil
}

// config.go
//
// This source file is part of the FoundationDB open source project
//
// Copyright 2025 Apple Inc. and the FoundationDB project authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// environmentPrefix is the prefix of the environment variables which provide
// the defaults for the command line flags, e.g. DEBUGGER_LISTEN_ADDRESS.
const environmentPrefix = "DEBUGGER"

// errMissingDirectory is returned when the root directory argument is missing.
var errMissingDirectory = errors.New("missing root directory argument")

// options holds the configuration of the debugger process.
type options struct {
	// ListenAddress is the address serving the WebSocket endpoint, /metrics and pprof.
	ListenAddress string `envconfig:"LISTEN_ADDRESS" default:":5511"`
	// Producer switches the process into fixture generation mode.
	Producer bool `envconfig:"PRODUCER" default:"false"`
	// ProducerTitle is the service title announced in producer mode.
	ProducerTitle string `envconfig:"PRODUCER_TITLE" default:"Debugger/Producer"`
	// ProducerInterval is the pause between the log messages written in producer mode.
	ProducerInterval time.Duration `envconfig:"PRODUCER_INTERVAL" default:"100ms"`
	// LogPath is a file receiving the logs in addition to stdout.
	LogPath string `envconfig:"LOG_PATH"`
	// LogLevel is the minimum level of the process logs.
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	// ServicePollInterval is the interval at which marker files are read.
	ServicePollInterval time.Duration `envconfig:"SERVICE_POLL_INTERVAL" default:"50ms"`
	// TailInterval is the interval at which log and context files are tailed.
	TailInterval time.Duration `envconfig:"TAIL_INTERVAL" default:"50ms"`
	// FlushInterval is the interval at which session buffers are sent.
	FlushInterval time.Duration `envconfig:"FLUSH_INTERVAL" default:"100ms"`
	// QueryWindow is the time window of historical queries.
	QueryWindow time.Duration `envconfig:"QUERY_WINDOW" default:"15m"`
	// TLSCertFile is the certificate of the listener. The listener only serves TLS if both files are set.
	TLSCertFile string `envconfig:"TLS_CERT_FILE"`
	// TLSKeyFile is the private key of the listener.
	TLSKeyFile string `envconfig:"TLS_KEY_FILE"`
	// EnableDebug enables the pprof endpoints.
	EnableDebug bool `envconfig:"ENABLE_DEBUG" default:"false"`
	// RequestRate is the sustained number of historical queries per second a session may issue.
	RequestRate float64 `envconfig:"REQUEST_RATE" default:"20"`
	// RequestBurst is the number of historical queries a session may issue at once.
	RequestBurst int `envconfig:"REQUEST_BURST" default:"40"`
}

// useTLS reports whether the listener serves TLS.
func (opts options) useTLS() bool {
	return opts.TLSCertFile != "" || opts.TLSKeyFile != ""
}

// validate checks the options which cannot be expressed by the flag types.
func (opts options) validate() error {
	intervals := map[string]time.Duration{
		"service-poll-interval": opts.ServicePollInterval,
		"tail-interval":         opts.TailInterval,
		"flush-interval":        opts.FlushInterval,
		"query-window":          opts.QueryWindow,
		"producer-interval":     opts.ProducerInterval,
	}
	for name, interval := range intervals {
		if interval <= 0 {
			return fmt.Errorf("--%s must be positive, got %s", name, interval)
		}
	}

	if opts.useTLS() && (opts.TLSCertFile == "" || opts.TLSKeyFile == "") {
		return errors.New("--tls-cert-file and --tls-key-file must be set together")
	}

	if opts.RequestRate <= 0 || opts.RequestBurst <= 0 {
		return fmt.Errorf("--request-rate and --request-burst must be positive, got %v and %d", opts.RequestRate, opts.RequestBurst)
	}

	_, err := zap.ParseAtomicLevel(opts.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}

	return nil
}

// loadOptions reads the defaults from the environment, applies the command
// line flags in args and returns the options and the root directory.
func loadOptions(args []string) (options, string, error) {
	opts := options{}
	err := envconfig.Process(environmentPrefix, &opts)
	if err != nil {
		return opts, "", fmt.Errorf("could not load environment: %w", err)
	}

	flags := pflag.NewFlagSet("fdbtracedebugger", pflag.ContinueOnError)
	flags.StringVar(&opts.ListenAddress, "listen-address", opts.ListenAddress, "Address serving the WebSocket endpoint, /metrics and the pprof endpoints")
	flags.BoolVar(&opts.Producer, "producer", opts.Producer, "Write sample trace files into the root directory instead of serving it. The directory is wiped first")
	flags.StringVar(&opts.ProducerTitle, "producer-title", opts.ProducerTitle, "Service title announced in producer mode")
	flags.DurationVar(&opts.ProducerInterval, "producer-interval", opts.ProducerInterval, "Pause between the log messages written in producer mode")
	flags.StringVar(&opts.LogPath, "log-path", opts.LogPath, "Name of a file to send logs to. Logs will be sent to stdout in addition the file you pass in this argument. If this is blank, logs will only by sent to stdout")
	flags.StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "Minimum log level, debug shows why records are skipped for a session")
	flags.DurationVar(&opts.ServicePollInterval, "service-poll-interval", opts.ServicePollInterval, "Interval at which the marker files are read")
	flags.DurationVar(&opts.TailInterval, "tail-interval", opts.TailInterval, "Interval at which the newest log and context files are tailed")
	flags.DurationVar(&opts.FlushInterval, "flush-interval", opts.FlushInterval, "Interval at which buffered records are sent to the clients")
	flags.DurationVar(&opts.QueryWindow, "query-window", opts.QueryWindow, "Time window searched by historical queries")
	flags.StringVar(&opts.TLSCertFile, "tls-cert-file", opts.TLSCertFile, "Certificate file of the listener, enables TLS together with --tls-key-file")
	flags.StringVar(&opts.TLSKeyFile, "tls-key-file", opts.TLSKeyFile, "Private key file of the listener")
	flags.BoolVar(&opts.EnableDebug, "enable-debug", opts.EnableDebug, "Enables the pprof endpoints")
	flags.Float64Var(&opts.RequestRate, "request-rate", opts.RequestRate, "Sustained number of historical queries per second and client")
	flags.IntVar(&opts.RequestBurst, "request-burst", opts.RequestBurst, "Number of historical queries a client may issue at once")

	err = flags.Parse(args)
	if err != nil {
		return opts, "", err
	}

	if flags.NArg() < 1 || flags.Arg(0) == "" {
		return opts, "", errMissingDirectory
	}

	err = opts.validate()
	if err != nil {
		return opts, "", err
	}

	return opts, flags.Arg(0), nil
}

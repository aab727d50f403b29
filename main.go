// main.go
//
// This source file is part of the FoundationDB open source project
//
// Copyright 2021-2025 Apple Inc. and the FoundationDB project authors
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
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apple/foundationdb/fdbtracedebugger/internal/producer"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// logFileMaxSizeMegabytes is the size at which the log file is rotated.
	logFileMaxSizeMegabytes = 100
	// logFileMaxBackups is the number of rotated log files kept.
	logFileMaxBackups = 5
)

func main() {
	opts, dir, err := loadOptions(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		// The configured logger depends on the options.
		startupLogger := zapr.NewLogger(zap.Must(zap.NewProduction()))
		startupLogger.Error(err, "Error loading options", "args", os.Args[1:])
		os.Exit(1)
	}

	zapLogger, err := newZapLogger(opts)
	if err != nil {
		panic(err)
	}
	logger := zapr.NewLogger(zapLogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.Producer {
		err = runProducer(ctx, logger, dir, opts)
		if err != nil {
			logger.Error(err, "Error producing trace files", "dir", dir)
			os.Exit(1)
		}
		return
	}

	stat, err := os.Stat(dir)
	if err == nil && !stat.IsDir() {
		err = fmt.Errorf("%s is not a directory", dir)
	}
	if err != nil {
		logger.Error(err, "Error opening root directory", "dir", dir)
		os.Exit(1)
	}

	err = NewDebugger(logger, dir, opts, prometheus.NewRegistry()).Run(ctx)
	if err != nil {
		logger.Error(err, "Error running debugger")
		os.Exit(1)
	}
	logger.Info("Debugger stopped")
}

// newZapLogger builds the production logger. With a log path the logs are
// additionally written to a rotated file.
func newZapLogger(opts options) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(opts.LogLevel)
	if err != nil {
		return nil, err
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = level
	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}

	if opts.LogPath == "" {
		return zapLogger, nil
	}

	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(zapConfig.EncoderConfig),
		zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.LogPath,
			MaxSize:    logFileMaxSizeMegabytes,
			MaxBackups: logFileMaxBackups,
		}),
		level,
	)

	return zapLogger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	})), nil
}

// runProducer wipes dir and writes sample trace files into it until ctx is
// cancelled.
func runProducer(ctx context.Context, logger logr.Logger, dir string, opts options) error {
	err := os.RemoveAll(dir)
	if err != nil {
		return err
	}

	writer, err := producer.NewWriter(logger, dir, opts.ProducerTitle, time.Now().UnixMilli(), producer.DefaultOptions())
	if err != nil {
		return err
	}
	defer func() {
		err := writer.Close()
		if err != nil {
			logger.Error(err, "could not close trace files")
		}
	}()

	logger.Info("Producing trace files", "dir", dir, "title", opts.ProducerTitle, "generation", writer.Generation())
	return producer.Generate(ctx, writer, opts.ProducerInterval)
}

// certloader.go
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

package certloader

import (
	"crypto/tls"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// CertLoader serves the key pair of a TLS listener and reloads it once the
// certificate or key file on disk changes. It is safe for concurrent use by
// the handshakes of a tls.Config.
type CertLoader struct {
	// CertFile specifies the path to the x509 certificate.
	CertFile string
	// KeyFile specifies the path to the x509 private key.
	KeyFile string

	mutex sync.Mutex
	// cachedCert will cache the loaded certificate key pair.
	cachedCert *tls.Certificate
	// cachedModTime is the newest modification time of both files when the pair was loaded.
	cachedModTime time.Time
	// logger is the logger for logging.
	logger logr.Logger
}

// NewCertLoader creates a new CertLoader.
func NewCertLoader(logger logr.Logger, certFile string, keyFile string) *CertLoader {
	return &CertLoader{
		CertFile: certFile,
		KeyFile:  keyFile,
		logger:   logger.WithName("CertLoader"),
	}
}

// TLSConfig returns a server configuration which fetches the key pair from the
// loader on every handshake. The pair is loaded once up front so a broken
// pair is reported before the listener starts.
func (certLoader *CertLoader) TLSConfig() (*tls.Config, error) {
	_, err := certLoader.GetCertificate(nil)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: certLoader.GetCertificate,
	}, nil
}

func (certLoader *CertLoader) newestModTime() (time.Time, error) {
	var newest time.Time
	for _, file := range []string{certLoader.CertFile, certLoader.KeyFile} {
		stat, err := os.Stat(file)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed checking modification time of %s: %w", file, err)
		}
		if stat.ModTime().After(newest) {
			newest = stat.ModTime()
		}
	}
	return newest, nil
}

// GetCertificate returns the certificate for the TLS requests and will return the cached certificate if neither file has been changed.
func (certLoader *CertLoader) GetCertificate(_ *tls.ClientHelloInfo) (*tls.Certificate, error) {
	certLoader.mutex.Lock()
	defer certLoader.mutex.Unlock()

	modTime, err := certLoader.newestModTime()
	if err != nil {
		certLoader.logger.Error(err, "could not load information from certificate files", "certFile", certLoader.CertFile, "keyFile", certLoader.KeyFile)
		if certLoader.cachedCert != nil {
			return certLoader.cachedCert, nil
		}
		return nil, err
	}

	if certLoader.cachedCert == nil || modTime.After(certLoader.cachedModTime) {
		certLoader.logger.Info("loading new certificates", "certFile", certLoader.CertFile, "keyFile", certLoader.KeyFile, "cachedModificationTime", certLoader.cachedModTime.String(), "currentModificationTime", modTime.String())
		pair, err := tls.LoadX509KeyPair(certLoader.CertFile, certLoader.KeyFile)
		if err != nil {
			err = fmt.Errorf("failed loading tls key pair: %w", err)
			if certLoader.cachedCert != nil {
				certLoader.logger.Error(err, "keeping previous certificate")
				return certLoader.cachedCert, nil
			}
			return nil, err
		}

		certLoader.cachedCert = &pair
		certLoader.cachedModTime = modTime
	}

	return certLoader.cachedCert, nil
}

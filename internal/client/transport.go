// Copyright 2025 Tom Barlow
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


package client

import (
	"crypto/tls"
	"net"
	"net/http"
	"os"
	"strings"
	"time"
)

// DefaultAddr is the daemon address used when none is configured.
const DefaultAddr = "127.0.0.1:8375"

// EnvAddr overrides the daemon address.
const EnvAddr = "STAGEHAND_ADDR"

// ResolveAddr returns addr, or the STAGEHAND_ADDR value, or DefaultAddr.
func ResolveAddr(addr string) string {
	if addr != "" {
		return addr
	}
	if env := os.Getenv(EnvAddr); env != "" {
		return env
	}
	return DefaultAddr
}

// BaseURL turns a host:port or URL into a base URL without a trailing slash.
func BaseURL(addr string) string {
	addr = strings.TrimRight(addr, "/")
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr
}

// NewTransport creates the HTTP transport used to reach the daemon. A nil
// tlsConfig uses TLS 1.2 or later for https addresses.
func NewTransport(tlsConfig *tls.Config) *http.Transport {
	if tlsConfig == nil {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	return &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     tlsConfig,
	}
}

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

package tracing

import (
	"io"
	"time"
)

// Exporter names.
const (
	ExporterNone     = "none"
	ExporterConsole  = "console"
	ExporterOTLPHTTP = "otlp-http"
	ExporterOTLPGRPC = "otlp-grpc"
)

// Config holds observability configuration.
type Config struct {
	// Exporter selects where spans go: none, console, otlp-http or otlp-grpc.
	Exporter string

	// Endpoint is the OTLP receiver (e.g., "localhost:4317").
	Endpoint string

	// Insecure disables TLS for OTLP export (for development only).
	Insecure bool

	// Headers are sent with every OTLP request.
	Headers map[string]string

	// ServiceName identifies this service in traces.
	ServiceName string

	// ServiceVersion is the application version.
	ServiceVersion string

	// SampleRate is the fraction of root traces sampled (0.0 - 1.0).
	SampleRate float64

	// BatchTimeout is how often batched spans are flushed (default: 5s).
	BatchTimeout time.Duration

	// Writer receives console output (default: os.Stdout).
	Writer io.Writer
}

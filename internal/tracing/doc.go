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

/*
Package tracing installs the global OpenTelemetry providers for the daemon.

The orchestrator and API create spans and instruments through the global
otel API. Setup decides where they go:

  - Traces are batched to the configured exporter: console (stdout),
    otlp-http, otlp-grpc, or nowhere when the exporter is "none".
  - Metrics are read by an OTel Prometheus exporter registered on the
    daemon's Prometheus registry, so they are served on /metrics next to
    the orchestrator gauges.

# Quick Start

	provider, err := tracing.Setup(ctx, tracing.Config{
	    Exporter:    "otlp-grpc",
	    Endpoint:    "localhost:4317",
	    Insecure:    true,
	    ServiceName: "stagehand",
	}, registry)
	if err != nil {
	    return err
	}
	defer provider.Shutdown(ctx)

Shutdown flushes pending spans and must be called before exit.
*/
package tracing

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
Package api serves the orchestrator over HTTP.

Routes (all JSON unless noted):

	GET    /healthz
	GET    /metrics                                  Prometheus text format
	GET    /v1/summary
	GET    /v1/events                                server-sent events
	GET    /v1/servers
	GET    /v1/servers/{id}
	DELETE /v1/servers/{id}
	POST   /v1/servers/{id}/{start|stop|reload|pause|resume}
	GET    /v1/servers/{id}/tools
	POST   /v1/servers/{id}/tools/{tool}/{enable|disable}
	POST   /v1/servers/{id}/tools/{tool}/call
	GET    /v1/servers/{id}/metrics
	GET    /v1/servers/{id}/history

Errors are returned as {"error": {...}} with a status derived from the
orchestrator error code. Environment values whose keys look sensitive are
redacted in every server response.
*/
package api

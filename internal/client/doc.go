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
Package client provides an HTTP client for the stagehand daemon API.

CLI commands use it to drive a running daemon:

	c, err := client.New(client.WithAddr("127.0.0.1:8375"))
	if err != nil {
	    return err
	}

	servers, err := c.ListServers(ctx)
	srv, err := c.Start(ctx, "echo")
	resp, err := c.CallTool(ctx, "echo", "echo", map[string]any{"message": "hi"})

Errors returned by the daemon are decoded into *APIError, which carries the
orchestrator error code, message and suggestions.

# Events

StreamEvents follows the /v1/events server-sent event stream and invokes a
callback per event until the context is cancelled or the callback returns an
error.

# Address

The daemon address defaults to 127.0.0.1:8375 and can be overridden with the
STAGEHAND_ADDR environment variable or WithAddr. A bare host:port is treated
as http://host:port.
*/
package client

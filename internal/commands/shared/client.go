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


package shared

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/tombee/stagehand/internal/client"
)

// NewClient creates a daemon client for the --addr flag (or STAGEHAND_ADDR).
func NewClient() (*client.Client, error) {
	return client.New(client.WithAddr(addrFlag))
}

// DaemonError converts transport failures into an ExitUnavailable error
// with a hint to start the daemon. Daemon API errors pass through.
func DaemonError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return NewUnavailableError(
			fmt.Sprintf("cannot reach stagehand daemon at %s (start it with: stagehand serve)", client.ResolveAddr(addrFlag)),
			urlErr.Err,
		)
	}
	return err
}

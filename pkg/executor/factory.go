/*
Copyright The Polybackup Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package executor

import (
	"fmt"

	"github.com/polybackup/polybackup/pkg/catalog"
)

// New creates the executor matching the transport of a server. The
// credentials document must already be decrypted; connections are
// established lazily by the executor itself.
func New(server *catalog.Server, credentials *Credentials) (Executor, error) {
	if err := ValidateHostname(server.Host); err != nil {
		return nil, err
	}

	switch server.Transport {
	case catalog.TransportShell:
		port := 0
		if server.Port != nil {
			if err := ValidatePort(*server.Port); err != nil {
				return nil, err
			}
			port = *server.Port
		}
		return NewShell(server.Host, port, credentials), nil

	case catalog.TransportContainer:
		return NewContainer(credentials)

	case catalog.TransportPod:
		return NewPod(credentials)

	default:
		return nil, fmt.Errorf("unknown transport: %q", server.Transport)
	}
}

// NewForServer opens the credentials envelope of a server and creates the
// matching executor
func NewForServer(server *catalog.Server, key []byte) (Executor, error) {
	credentials, err := DecryptCredentials(server.CredentialsEnc, key)
	if err != nil {
		return nil, fmt.Errorf("for server %q: %w", server.Name, err)
	}
	return New(server, credentials)
}

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
	"encoding/json"
	"fmt"

	"github.com/polybackup/polybackup/pkg/encryption"
)

// Credentials is the decrypted content of a server credentials envelope.
// Transport fields are read by the executor matching the server transport;
// db* fields by the engine dialects. The structure is never logged and
// never serialized except through EncryptCredentials.
type Credentials struct {
	// Shell transport
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`

	// Container transport
	ContainerName string `json:"container_name,omitempty"`
	DockerHost    string `json:"docker_host,omitempty"`

	// Pod transport
	Namespace  string `json:"namespace,omitempty"`
	PodName    string `json:"pod_name,omitempty"`
	Container  string `json:"container,omitempty"`
	Kubeconfig string `json:"kubeconfig,omitempty"`

	// Database session
	DBHost     string `json:"db_host,omitempty"`
	DBPort     int    `json:"db_port,omitempty"`
	DBUsername string `json:"db_username,omitempty"`
	DBPassword string `json:"db_password,omitempty"`
	DataDir    string `json:"data_dir,omitempty"`
}

// EncryptCredentials seals a credentials document into the envelope stored
// in the catalog
func EncryptCredentials(credentials *Credentials, key []byte) ([]byte, error) {
	payload, err := json.Marshal(credentials)
	if err != nil {
		return nil, fmt.Errorf("while encoding credentials: %w", err)
	}

	envelope, err := encryption.Encrypt(payload, key)
	if err != nil {
		return nil, fmt.Errorf("while sealing credentials: %w", err)
	}

	return envelope, nil
}

// DecryptCredentials opens a credentials envelope coming from the catalog.
// It is called lazily, right before a connection is needed.
func DecryptCredentials(envelope, key []byte) (*Credentials, error) {
	if len(envelope) == 0 {
		return nil, fmt.Errorf("empty credentials envelope")
	}

	payload, err := encryption.Decrypt(envelope, key)
	if err != nil {
		return nil, fmt.Errorf("while opening credentials envelope: %w", err)
	}

	var credentials Credentials
	if err := json.Unmarshal(payload, &credentials); err != nil {
		return nil, fmt.Errorf("while decoding credentials: %w", err)
	}

	return &credentials, nil
}

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

// Package versions contains the build information of the polybackup
// control plane
package versions

// Version is the version of the control plane
const Version = "1.0.0"

// BuildInfo is a struct containing the build information
type BuildInfo struct {
	Version, Commit, Date string
}

var (
	// buildVersion injected at build time
	buildVersion = Version

	// buildCommit injected at build time
	buildCommit = "none"

	// buildDate injected at build time
	buildDate = "unknown"

	// Info contains the build info of the running binary
	Info = BuildInfo{
		Version: buildVersion,
		Commit:  buildCommit,
		Date:    buildDate,
	}
)

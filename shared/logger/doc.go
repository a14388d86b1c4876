// Copyright 2025 AxonFlow
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
Package logger provides structured JSON logging for coordinator components.

Each log entry is a single JSON line on stdout containing the timestamp
(RFC3339Nano), level, component name, instance ID, container name, an
optional request ID for correlation, the message, and free-form fields.

Create a logger per component and pass it down explicitly:

	log := logger.New("registry")
	log.Info(requestID, "Service registered", map[string]interface{}{
	    "service_name": name,
	})

The minimum level is read from LOG_LEVEL (DEBUG, INFO, WARN, ERROR;
default INFO). INSTANCE_ID identifies the deployment instance; the
container name is taken from the hostname.

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger

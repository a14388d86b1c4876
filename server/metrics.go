// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var startTime = time.Now()

// Prometheus metrics
var (
	promRegisteredServices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coordinator_registered_services",
			Help: "Current number of registered services",
		},
	)
	promRegistrationRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coordinator_registration_requests_total",
			Help: "Total number of registration requests",
		},
	)
	promRegistrationFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coordinator_registration_failures_total",
			Help: "Total number of failed registration attempts",
		},
	)
	promConfigFetches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coordinator_uiux_config_fetches_total",
			Help: "Total number of UI/UX config fetch requests",
		},
	)
	promUptimeSeconds = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "coordinator_uptime_seconds",
			Help: "Coordinator uptime in seconds",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
	promRouteDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coordinator_route_decisions_total",
			Help: "Total number of routing decisions by decision path",
		},
		[]string{"path"},
	)
	promProxyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coordinator_proxy_requests_total",
			Help: "Total number of proxied requests by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	// Register Prometheus metrics
	prometheus.MustRegister(promRegisteredServices)
	prometheus.MustRegister(promRegistrationRequests)
	prometheus.MustRegister(promRegistrationFailures)
	prometheus.MustRegister(promConfigFetches)
	prometheus.MustRegister(promUptimeSeconds)
	prometheus.MustRegister(promRouteDecisions)
	prometheus.MustRegister(promProxyRequests)
}

func uptimeSeconds() int64 {
	return int64(time.Since(startTime).Seconds())
}

/*
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

package middleware

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lws",
			Subsystem: "requests",
			Name:      "total",
			Help:      "Number of requests handled, by service, operation and status.",
		},
		[]string{"service", "operation", "status"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lws",
			Subsystem: "requests",
			Name:      "duration_seconds",
			Help:      "Request handling latency, by service.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration)
}

func observe(service, operation string, status int, elapsed time.Duration) {
	if status == 0 {
		status = 200
	}
	if operation == "" {
		operation = "unknown"
	}
	requestsTotal.WithLabelValues(service, operation, strconv.Itoa(status)).Inc()
	requestDuration.WithLabelValues(service).Observe(elapsed.Seconds())
}

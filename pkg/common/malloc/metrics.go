// Copyright 2025 The varbox Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package malloc

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	AllocateBytesCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "varbox",
		Subsystem: "malloc",
		Name:      "allocate_bytes",
		Help:      "Total bytes allocated",
	})

	InuseBytesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "varbox",
		Subsystem: "malloc",
		Name:      "inuse_bytes",
		Help:      "Bytes currently in use",
	})

	AllocateObjectsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "varbox",
		Subsystem: "malloc",
		Name:      "allocate_objects",
		Help:      "Total objects allocated",
	})

	InuseObjectsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "varbox",
		Subsystem: "malloc",
		Name:      "inuse_objects",
		Help:      "Objects currently in use",
	})
)

// RegisterMetrics registers the malloc collectors. Not called by the
// library itself; hosts that scrape prometheus call it once.
func RegisterMetrics(registerer prometheus.Registerer) {
	registerer.MustRegister(AllocateBytesCounter)
	registerer.MustRegister(InuseBytesGauge)
	registerer.MustRegister(AllocateObjectsCounter)
	registerer.MustRegister(InuseObjectsGauge)
}

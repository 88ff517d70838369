// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package overlay

import "github.com/prometheus/client_golang/prometheus"

// PromStats is a kv.Stats backed by two prometheus histograms, sized
// for typical account/storage value lengths rather than prometheus's
// default latency buckets.
type PromStats struct {
	readModified prometheus.Histogram
	writeOverlay prometheus.Histogram
}

var valueSizeBuckets = []float64{0, 32, 64, 128, 256, 512, 1024, 4096, 16384, 65536}

// NewPromStats builds a PromStats and registers both histograms
// against reg. namespace/subsystem follow the usual Erigon metric
// naming convention (namespace_subsystem_name).
func NewPromStats(reg prometheus.Registerer, namespace, subsystem string) (*PromStats, error) {
	s := &PromStats{
		readModified: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "read_modified_bytes",
			Help:      "Size in bytes of values read back from the overlay (already-modified keys).",
			Buckets:   valueSizeBuckets,
		}),
		writeOverlay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "write_overlay_bytes",
			Help:      "Size in bytes of values written into the overlay.",
			Buckets:   valueSizeBuckets,
		}),
	}
	if err := reg.Register(s.readModified); err != nil {
		return nil, err
	}
	if err := reg.Register(s.writeOverlay); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PromStats) TallyReadModified(size uint64) { s.readModified.Observe(float64(size)) }
func (s *PromStats) TallyWriteOverlay(size uint64) { s.writeOverlay.Observe(float64(size)) }

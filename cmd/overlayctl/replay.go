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

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/erigontech/erigon-overlay/core/state/overlay"
	"github.com/erigontech/erigon-overlay/erigon-lib/kv"
	"github.com/erigontech/erigon-overlay/erigon-lib/kv/bboltbackend"
)

// opScript is the on-disk shape of a --script file: the same op
// vocabulary tests.OverlayScenario uses, replayed here against a
// persisted bboltbackend instead of a throwaway membackend.
type opScript struct {
	Ops []scriptOp `json:"ops"`
}

type scriptOp struct {
	Op     string  `json:"op"`
	Key    string  `json:"key,omitempty"`
	Value  *string `json:"value,omitempty"`
	Prefix string  `json:"prefix,omitempty"`
}

func newReplayCommand() *cobra.Command {
	var scriptPath string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a JSON operation script and persist the result to the configured data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(scriptPath)
		},
	}
	cmd.Flags().StringVar(&scriptPath, "script", "", "path to a JSON operation script")
	_ = cmd.MarkFlagRequired("script")
	return cmd
}

func runReplay(scriptPath string) error {
	raw, err := os.ReadFile(scriptPath)
	if err != nil {
		return fmt.Errorf("reading script: %w", err)
	}
	var script opScript
	if err := json.Unmarshal(raw, &script); err != nil {
		return fmt.Errorf("parsing script: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("preparing data dir: %w", err)
	}
	backend, err := bboltbackend.Open(cfg.DataDir, cfg.cacheEntries())
	if err != nil {
		return fmt.Errorf("opening backend: %w", err)
	}
	defer backend.Close()

	var stats kv.Stats
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		promStats, err := overlay.NewPromStats(reg, "overlayctl", "overlay")
		if err != nil {
			return fmt.Errorf("registering metrics: %w", err)
		}
		stats = promStats
		go serveMetrics(metricsAddr, reg)
	}

	ov := overlay.New(stats)
	for i, o := range script.Ops {
		if err := applyScriptOp(ov, o); err != nil {
			return fmt.Errorf("op %d (%s): %w", i, o.Op, err)
		}
		log.WithFields(logrus.Fields{"index": i, "op": o.Op, "key": o.Key}).Debug("applied operation")
	}

	var cache overlay.TransactionCache
	root, err := ov.StorageRoot(backend, &cache)
	if err != nil {
		return fmt.Errorf("computing storage root: %w", err)
	}
	changes, err := ov.DrainStorageChanges(backend, overlay.NoChangesTrie{}, nil, &cache)
	if err != nil {
		return fmt.Errorf("draining storage changes: %w", err)
	}
	if err := changes.Transaction.Apply(); err != nil {
		return fmt.Errorf("applying backend transaction: %w", err)
	}

	fmt.Printf("storage root: %x\n", root)
	fmt.Printf("main deltas applied: %d\n", len(changes.MainStorageChanges))
	for _, d := range changes.ChildStorageChanges {
		fmt.Printf("child %q deltas applied: %d\n", d.Info.StorageKey(), len(d.Delta))
	}
	return nil
}

func applyScriptOp(ov *overlay.Overlay, o scriptOp) error {
	switch o.Op {
	case "set":
		ov.SetStorage([]byte(o.Key), scriptValue(o.Value))
	case "delete":
		ov.SetStorage([]byte(o.Key), nil)
	case "clearPrefix":
		ov.ClearPrefix([]byte(o.Prefix))
	case "start":
		ov.StartTransaction()
	case "commit":
		ov.CommitTransaction()
	case "rollback":
		ov.RollbackTransaction()
	case "commitProspective":
		ov.CommitProspective()
	case "discardProspective":
		ov.DiscardProspective()
	default:
		return fmt.Errorf("unknown op %q", o.Op)
	}
	return nil
}

// serveMetrics exposes reg on addr for the lifetime of the replay. It
// runs in a background goroutine; the server stops along with the
// process once runReplay returns, same as any short-lived batch job
// scraped by a sidecar rather than left running as a daemon.
func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.WithField("addr", addr).Info("serving prometheus metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Error("metrics server stopped")
	}
}

func scriptValue(s *string) *[]byte {
	if s == nil {
		return nil
	}
	b := []byte(*s)
	return &b
}

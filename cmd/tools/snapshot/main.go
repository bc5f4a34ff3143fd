package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"reconciler/internal/ops"
	"reconciler/internal/recorder"
	"reconciler/internal/schema"
	"reconciler/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML or JSON config (overrides -dir/-name)")
	dir := flag.String("dir", "data/snapshots", "Snapshot directory")
	name := flag.String("name", "", "Snapshot file name (default: orders)")
	records := flag.Bool("records", false, "List every record of every file")
	flag.Parse()

	cfg := recorder.DefaultConfig(*dir)
	if *name != "" {
		cfg.Name = *name
	}
	if *configPath != "" {
		loaded, err := ops.Load(*configPath)
		if err != nil {
			log.Fatalf("load config failed: %v", err)
		}
		cfg = loaded.Store.Recorder
	}

	files := recorder.ExistingFiles(cfg)
	if len(files) == 0 {
		log.Fatalf("no snapshot files in %s", cfg.Dir)
	}
	for _, path := range files {
		scanFile(path, *records)
	}

	st, path, err := store.Open(cfg)
	if err != nil {
		log.Fatalf("no valid snapshot: %v", err)
	}
	fmt.Printf("\nlatest valid record from %s\n", path)
	fmt.Printf("sequences remote=%d local=%d reset=%s\n", st.RemoteSequence(), st.LocalSequence(), st.LastSequenceReset().Format("2006-01-02T15:04:05Z"))

	orders := st.GetOrders()
	fmt.Printf("orders: %d\n", len(orders))
	for _, o := range orders {
		fmt.Printf("  %d %s %s %s %s %s price=%d size=%d serial=%d seq=%d original=%d replaced_by=%d cancels=%d\n",
			o.BrokerOrder, o.Symbol, o.Action, o.State, o.Side, o.Type, o.Price, o.Size,
			o.LogicalSerialNumber, o.Sequence, brokerID(o.OriginalOrder), brokerID(o.ReplacedBy), o.CancelCount)
	}
	for _, e := range st.Positions().Entries() {
		fmt.Printf("position %s actual=%d\n", e.Symbol, e.Qty)
	}
	for _, s := range st.Positions().Strategies() {
		fmt.Printf("strategy %d %s expected=%d recency=%d\n", s.ID, s.Symbol, s.ExpectedPosition, s.Recency)
	}
}

func scanFile(path string, listRecords bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("%s: read failed: %v\n", path, err)
		return
	}
	frames, torn := recorder.SplitFrames(data)
	valid := 0
	for i, f := range frames {
		payload, _, err := recorder.DecodeRecord(f.Body)
		if err == nil {
			valid++
		}
		if listRecords {
			if err != nil {
				fmt.Printf("  %06d offset=%d invalid: %v\n", i, f.Offset, err)
			} else {
				fmt.Printf("  %06d offset=%d len=%d\n", i, f.Offset, len(payload))
			}
		}
	}
	fmt.Printf("%s: size=%d records=%d valid=%d torn=%v\n", path, len(data), len(frames), valid, torn)
}

func brokerID(o *schema.PhysicalOrder) int64 {
	if o == nil {
		return 0
	}
	return o.BrokerOrder
}

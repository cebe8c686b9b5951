// Command ajtrace inspects an on-disk kernel cache directory: one row
// per cached kernel, its backend, source size, and compiled bytecode
// size.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"k8s.io/klog/v2"

	"github.com/arrayjit/arrayjit/kernel"
)

var (
	flagDir = flag.String("dir", "", "Disk kernel cache directory to inspect (required).")
	flagSum = flag.Bool("sum", false, "Print only the total bytecode size across all cached kernels.")
)

func main() {
	flag.Parse()

	if *flagDir == "" {
		klog.Errorf("ajtrace: -dir is required. See 'ajtrace -help'.")
		os.Exit(1)
	}

	store := kernel.NewDiskStore(*flagDir)
	entries, err := store.List()
	if err != nil {
		klog.Errorf("ajtrace: %v", err)
		os.Exit(1)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].BytecodeSize > entries[j].BytecodeSize
	})

	if *flagSum {
		var total int
		for _, e := range entries {
			total += e.BytecodeSize
		}
		fmt.Println(humanize.Bytes(uint64(total)))
		return
	}

	for _, e := range entries {
		fmt.Printf("%s  backend=%-4s  source=%-8s  bytecode=%-8s  block=%d\n",
			e, e.Backend, humanize.Bytes(uint64(e.SourceSize)), humanize.Bytes(uint64(e.BytecodeSize)), e.PreferredBlockSize)
	}
	fmt.Printf("%d kernels cached under %s\n", len(entries), *flagDir)
}

// Command slabdemo exercises the SLAB allocator end to end: bootstrap,
// a handful of named caches, the kalloc/kfree front-end, and a manual
// reclaim pass, then prints the observability dump.
package main

import (
	"fmt"
	"os"

	"github.com/slabkernel/kmem/internal/kalloc"
	"github.com/slabkernel/kmem/internal/logging"
	"github.com/slabkernel/kmem/internal/registry"
	"github.com/slabkernel/kmem/internal/slab"
)

func main() {
	logger := logging.Default("slabdemo")

	reg := registry.New(registry.DefaultConfig(), logger, func(msg string) {
		logger.Error("fatal allocator assertion", logging.String("msg", msg))
		os.Exit(1)
	})

	tcbs := reg.NewCache("thread_control_block", 256, 8, nil, nil, false)
	ipcBufs := reg.NewCache("ipc_call_buffer", 128, 8, nil, nil, false)

	logger.Info("allocating 1000 thread control blocks")
	var addrs []uintptr
	for i := 0; i < 1000; i++ {
		addr, ok := tcbs.Alloc(0, 0)
		if !ok {
			logger.Error("allocation failed", logging.Int("i", i))
			os.Exit(1)
		}
		addrs = append(addrs, addr)
	}
	for i := len(addrs) - 1; i >= 0; i-- {
		tcbs.Free(0, addrs[i])
	}
	logger.Info("freed all thread control blocks", logging.Int64("outstanding", tcbs.AllocatedObjects()))

	for i := 0; i < 50; i++ {
		addr, ok := ipcBufs.Alloc(i%4, 0)
		if ok {
			ipcBufs.Free(i%4, addr)
		}
	}

	kallocFront := kalloc.New(reg)
	p, err := kallocFront.Kalloc(0, 4000, 0)
	if err != nil {
		logger.Error("kalloc failed", logging.Err(err))
		os.Exit(1)
	}
	if err := kallocFront.Kfree(0, p); err != nil {
		logger.Error("kfree failed", logging.Err(err))
		os.Exit(1)
	}

	freed := reg.ReclaimAll(slab.ReclaimAggressive)
	logger.Info("reclaim pass complete", logging.Uint64("frames_freed", freed))

	fmt.Println(reg.Dump())
}

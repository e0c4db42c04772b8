//go:build linux

package scanner

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/scanforge/yaracore/pkg/scanctx"
	"github.com/scanforge/yaracore/pkg/types"
)

// scanProcessLinux builds the block list from a running process's mapped
// regions, read out of /proc/<pid>/mem via the offsets in
// /proc/<pid>/maps. Unreadable regions (permission denied, region unmapped
// mid-read) are skipped rather than failing the whole scan, mirroring the
// fault-containment the spec asks of memory-block reads (§6).
func (o *Orchestrator) scanProcessLinux(pid int, cb scanctx.Callback) (*ScanResult, error) {
	maps, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, fmt.Errorf("scanner: opening process maps: %w", err)
	}
	defer maps.Close()

	mem, err := os.Open(fmt.Sprintf("/proc/%d/mem", pid))
	if err != nil {
		return nil, fmt.Errorf("scanner: opening process memory: %w", err)
	}
	defer mem.Close()

	var head, tail *types.Block
	sc := bufio.NewScanner(maps)
	for sc.Scan() {
		start, end, readable, ok := parseMapsLine(sc.Text())
		if !ok || !readable {
			continue
		}

		buf := make([]byte, end-start)
		n, err := mem.ReadAt(buf, int64(start))
		if n == 0 && err != nil {
			continue
		}

		b := &types.Block{Data: buf[:n], Base: int64(start)}
		if head == nil {
			head = b
		} else {
			tail.Next = b
		}
		tail = b
	}

	if head == nil {
		return nil, fmt.Errorf("scanner: no readable memory regions for pid %d", pid)
	}
	return o.ScanBlocks(head, -1, cb)
}

// parseMapsLine extracts a region's [start,end) and whether it's readable
// from one line of /proc/<pid>/maps, e.g.
// "7f2c1a000000-7f2c1a021000 r--p 00000000 08:01 131099 /lib.so".
func parseMapsLine(line string) (start, end uint64, readable, ok bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, 0, false, false
	}
	addrs := strings.SplitN(fields[0], "-", 2)
	if len(addrs) != 2 {
		return 0, 0, false, false
	}
	s, err1 := strconv.ParseUint(addrs[0], 16, 64)
	e, err2 := strconv.ParseUint(addrs[1], 16, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false, false
	}
	readable = len(fields[1]) > 0 && fields[1][0] == 'r'
	return s, e, readable, true
}

//go:build !linux

package scanner

import (
	"github.com/scanforge/yaracore/pkg/scanctx"
	"github.com/scanforge/yaracore/pkg/yaraerr"
)

func (o *Orchestrator) scanProcessLinux(pid int, cb scanctx.Callback) (*ScanResult, error) {
	return nil, yaraerr.ErrUnsupportedPlatform
}

// Host identity collector. Gathers the hostname and OS of the machine
// the agent runs on, for sink payloads and the startup log line.
//
// The static part is cached since it does not change while the agent runs.
package hostinfo

import (
	"context"
	"os"
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/v3/host"
)

// Info describes the agent's host.
type Info struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform,omitempty"`
	PlatformVersion string `json:"platform_version,omitempty"`
	KernelArch      string `json:"kernel_arch,omitempty"`
}

// Collector caches the host identity after the first call.
type Collector struct {
	info Info
	once sync.Once
	load func(ctx context.Context) (*host.InfoStat, error)
}

func New() *Collector {
	return &Collector{load: host.InfoWithContext}
}

// Get returns the host identity. When gopsutil cannot read the platform
// details, the hostname and GOOS are still filled in.
func (c *Collector) Get(ctx context.Context) Info {
	c.once.Do(func() {
		c.info = Info{OS: runtime.GOOS, KernelArch: runtime.GOARCH}
		if name, err := os.Hostname(); err == nil {
			c.info.Hostname = name
		}

		stat, err := c.load(ctx)
		if err != nil || stat == nil {
			return
		}
		if stat.Hostname != "" {
			c.info.Hostname = stat.Hostname
		}
		if stat.OS != "" {
			c.info.OS = stat.OS
		}
		c.info.Platform = stat.Platform
		c.info.PlatformVersion = stat.PlatformVersion
		if stat.KernelArch != "" {
			c.info.KernelArch = stat.KernelArch
		}
	})
	return c.info
}

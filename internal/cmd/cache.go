package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Alia5/rtebind/internal/codegen/cache"
)

// CacheCommand groups the declaration cache subcommands.
type CacheCommand struct {
	List  CacheList  `cmd:"" default:"1" help:"List cache entries"`
	Prune CachePrune `cmd:"" help:"Remove stale or invalid cache entries"`
}

type CacheList struct {
	Dir string `help:"Cache directory" default:"${cache_dir}" env:"RTEBIND_CACHE_DIR" name:"cache-dir" type:"path"`
}

func (c *CacheList) Run(logger *slog.Logger) error {
	listings, err := cache.New(c.Dir, logger).List()
	if err != nil {
		return err
	}
	renderCache(stdout, listings)
	return nil
}

type CachePrune struct {
	Dir    string        `help:"Cache directory" default:"${cache_dir}" env:"RTEBIND_CACHE_DIR" name:"cache-dir" type:"path"`
	MaxAge time.Duration `help:"Remove valid entries older than this" default:"720h" name:"max-age"`
	All    bool          `help:"Remove every entry"`
}

func (c *CachePrune) Run(logger *slog.Logger) error {
	maxAge := c.MaxAge
	if c.All {
		maxAge = 0
	}
	removed, err := cache.New(c.Dir, logger).Prune(maxAge, time.Now())
	for _, fp := range removed {
		logger.Info("Removed cache entry", "fingerprint", fp)
	}
	if err != nil {
		return err
	}
	logger.Info("Pruned cache", "dir", c.Dir, "removed", len(removed))
	return nil
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

func renderCache(w io.Writer, listings []cache.Listing) {
	table := newTable(w, "FINGERPRINT", "DPDK", "TOOL", "FILES", "CREATED")
	for _, l := range listings {
		if !l.Valid {
			table.Append([]string{shortFingerprint(l.Fingerprint), "invalid", "", "", ""})
			continue
		}
		m := l.Manifest
		table.Append([]string{
			shortFingerprint(l.Fingerprint),
			m.LibVersion,
			m.ToolVersion,
			fmt.Sprint(len(m.Files)),
			m.Created.Local().Format(time.DateTime),
		})
	}
	table.Render()
}

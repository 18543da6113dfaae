package scanner

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Alia5/rtebind/internal/codegen/common"
)

const UmbrellaName = "dpdk.h"

// DefaultBlocklist names headers (by stem) that break a combined include.
// The dlb drivers define the same enums twice.
var DefaultBlocklist = []string{"rte_function_versioning", "rte_pmd_dlb", "rte_pmd_dlb2"}

var platformSuffixes = []string{"x86", "x86_64", "x64", "arm", "arm32", "arm64", "amd64", "ppc_64", "loongarch", "riscv"}

// CollectHeaders lists the public headers of includeDir that go into the
// umbrella header, ordered so that headers with fewer name components come
// first.
func CollectHeaders(includeDir, configHeader string, blocklist []string) ([]string, error) {
	entries, err := os.ReadDir(includeDir)
	if err != nil {
		return nil, fmt.Errorf("read include dir: %w", err)
	}
	blocked := map[string]bool{}
	for _, b := range blocklist {
		blocked[b] = true
	}

	var stems []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".h" {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), ".h")
		if blocked[stem] || e.Name() == filepath.Base(configHeader) {
			continue
		}
		stems = append(stems, stem)
	}
	sort.Strings(stems)

	var kept []string
outer:
	for _, stem := range stems {
		for _, other := range stems {
			if strings.HasPrefix(stem, other+"_") {
				continue outer
			}
		}
		for _, p := range platformSuffixes {
			if strings.HasSuffix(stem, "_"+p) {
				continue outer
			}
		}
		path := filepath.Join(includeDir, stem+".h")
		direct, err := forbidsDirectInclude(path)
		if err != nil {
			return nil, err
		}
		if direct {
			continue
		}
		kept = append(kept, stem)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		ci, cj := strings.Count(kept[i], "_"), strings.Count(kept[j], "_")
		if ci != cj {
			return ci < cj
		}
		return kept[i] < kept[j]
	})
	out := make([]string, len(kept))
	for i, stem := range kept {
		out[i] = filepath.Join(includeDir, stem+".h")
	}
	return out, nil
}

// forbidsDirectInclude reports headers guarded by
// "#error ... do not include ... directly".
func forbidsDirectInclude(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("open header: %w", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "#") {
			continue
		}
		body := strings.TrimSpace(line[1:])
		if strings.HasPrefix(body, "error") && strings.Contains(body, "directly") {
			return true, nil
		}
	}
	return false, sc.Err()
}

// RenderUmbrella returns the umbrella header text. The config header comes
// first so every feature macro is set before any other header is read.
func RenderUmbrella(configHeader string, headers []string) []byte {
	var b strings.Builder
	b.WriteString("/* Code generated by rtebind. DO NOT EDIT. */\n")
	b.WriteString("#ifndef RTEBIND_DPDK_H\n#define RTEBIND_DPDK_H\n\n")
	fmt.Fprintf(&b, "#include <%s>\n", filepath.Base(configHeader))
	for _, h := range headers {
		fmt.Fprintf(&b, "#include <%s>\n", filepath.Base(h))
	}
	b.WriteString("\n#endif\n")
	return []byte(b.String())
}

// WriteUmbrella writes dpdk.h into dir and returns its path.
func WriteUmbrella(dir, configHeader string, headers []string) (string, error) {
	path := filepath.Join(dir, UmbrellaName)
	if err := common.WriteFileAtomic(path, RenderUmbrella(configHeader, headers), 0o644); err != nil {
		return "", fmt.Errorf("write umbrella header: %w", err)
	}
	return path, nil
}

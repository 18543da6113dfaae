package shim

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alia5/rtebind/internal/codegen/generror"
	"github.com/Alia5/rtebind/internal/codegen/scanner"
	"github.com/Alia5/rtebind/internal/log"
	th "github.com/Alia5/rtebind/internal/testing"
)

func fixtureSurface(t *testing.T, f *th.Fixture) *scanner.Surface {
	t.Helper()
	cfg := filepath.Join(f.IncludeDir, "rte_config.h")
	headers, err := scanner.CollectHeaders(f.IncludeDir, cfg, scanner.DefaultBlocklist)
	require.NoError(t, err)
	umbrella, err := scanner.WriteUmbrella(t.TempDir(), cfg, headers)
	require.NoError(t, err)
	s, err := scanner.Scan(umbrella, []string{f.IncludeDir}, scanner.DefaultOptions(), log.Discard())
	require.NoError(t, err)
	return s
}

func TestSynthesizeOneUnitPerSymbol(t *testing.T) {
	s := fixtureSurface(t, th.CreateDPDKFixture(t))
	set, err := Synthesize(s, Options{}, log.Discard())
	require.NoError(t, err)

	units := map[string]Unit{}
	for _, u := range set.Units {
		units[u.Symbol.Name] = u
	}
	for _, sym := range s.Symbols {
		u, ok := units[sym.Name]
		require.True(t, ok, "no shim for %s", sym.Name)
		assert.Equal(t, DefaultPrefix+sym.Name, u.Name)
		for _, f := range u.Functions {
			assert.True(t, strings.HasPrefix(f.Name, DefaultPrefix), f.Name)
		}
	}
	for _, sym := range s.Externs {
		assert.NotContains(t, units, sym.Name, "directly linkable symbols need no shim")
	}
	assert.Contains(t, units, "CPU_ZERO", "system-header macros are always emitted")
	assert.Equal(t, []string{"sched.h"}, set.Includes)

	seen := map[string]bool{}
	for _, f := range set.Functions() {
		assert.False(t, seen[f.Name], "duplicate shim %s", f.Name)
		seen[f.Name] = true
	}
}

func TestSynthesizeBodies(t *testing.T) {
	s := fixtureSurface(t, th.CreateDPDKFixture(t))
	set, err := Synthesize(s, Options{Prefix: "shim_"}, log.Discard())
	require.NoError(t, err)

	src := string(set.Source())
	assert.Contains(t, src, "uint16_t shim_rte_eth_rx_burst(uint16_t port_id, uint16_t queue_id, struct rte_mbuf **rx_pkts, const uint16_t nb_pkts)\n{\n\treturn rte_eth_rx_burst(port_id, queue_id, rx_pkts, nb_pkts);\n}")
	assert.Contains(t, src, "void shim_rte_pktmbuf_free(struct rte_mbuf *m)\n{\n\trte_pktmbuf_free(m);\n}")
	assert.Contains(t, src, "void *shim_rte_pktmbuf_mtod(struct rte_mbuf *m)\n{\n\treturn rte_pktmbuf_mtod(m, void *);\n}")
	assert.Contains(t, src, "uint32_t shim_rte_pktmbuf_pkt_len(const struct rte_mbuf *m)\n{\n\treturn rte_pktmbuf_pkt_len(m);\n}")
	assert.Contains(t, src, "uint64_t shim_rte_mbuf_l2_len(const struct rte_mbuf *obj)\n{\n\treturn obj->l2_len;\n}")
	assert.Contains(t, src, "void shim_rte_mbuf_l2_len_set(struct rte_mbuf *obj, uint64_t v)\n{\n\tobj->l2_len = v;\n}")
	assert.True(t, strings.HasPrefix(src, "/* Code generated by rtebind. DO NOT EDIT. */\n#include \"rtebind_shim.h\"\n"))

	hdr := string(set.Header())
	assert.Contains(t, hdr, "#define _GNU_SOURCE\n#endif\n#include <sched.h>\n#include \"dpdk.h\"\n")
	assert.Contains(t, hdr, "void *shim_rte_pktmbuf_mtod(struct rte_mbuf *m);\n")
	assert.Contains(t, hdr, "int shim_CPU_ISSET(int cpu, const cpu_set_t *set);\n")
}

func TestSynthesizeDeterministic(t *testing.T) {
	s := fixtureSurface(t, th.CreateDPDKFixture(t))
	a, err := Synthesize(s, Options{}, log.Discard())
	require.NoError(t, err)
	b, err := Synthesize(s, Options{}, log.Discard())
	require.NoError(t, err)
	assert.Equal(t, a.Source(), b.Source())
	assert.Equal(t, a.Header(), b.Header())
	assert.Equal(t, a.Names(), b.Names())
}

func TestMacroPolicy(t *testing.T) {
	f := th.CreateDPDKFixture(t)
	f.WriteHeader(t, "rte_eal.h", `int rte_eal_init(int argc, char **argv);
#define rte_untriaged_a(x) ((x) + 1)
#define rte_untriaged_b(x, y) ((x) * (y))
#define rte_panic(...) rte_panic_(__func__, __VA_ARGS__, "dummy")
`)
	s := fixtureSurface(t, f)

	_, err := Synthesize(s, Options{MacroPolicy: PolicyReject}, log.Discard())
	require.ErrorIs(t, err, generror.ErrShimSynthesis)
	ge, _ := generror.As(err)
	assert.Equal(t, "rte_untriaged_a, rte_untriaged_b", ge.Symbol)
	assert.NotContains(t, err.Error(), "rte_panic", "triaged as not callable")

	set, err := Synthesize(s, Options{MacroPolicy: PolicySkip}, log.Discard())
	require.NoError(t, err)
	for _, u := range set.Units {
		assert.NotContains(t, u.Symbol.Name, "rte_untriaged")
		assert.NotEqual(t, "rte_panic", u.Symbol.Name)
	}
}

func TestSynthesizeCollision(t *testing.T) {
	s := &scanner.Surface{
		Umbrella: "dpdk.h",
		Symbols: []scanner.Symbol{
			{Name: "foo", Kind: scanner.KindInline, Return: "int"},
		},
		Externs: []scanner.Symbol{
			{Name: "rtebind_foo", Kind: scanner.KindExtern, Return: "int"},
		},
	}
	_, err := Synthesize(s, Options{}, log.Discard())
	require.ErrorIs(t, err, generror.ErrShimSynthesis)
	assert.Contains(t, err.Error(), "rtebind_foo collides")
}

func TestSynthesizeArityMismatch(t *testing.T) {
	s := &scanner.Surface{
		Umbrella: "dpdk.h",
		Symbols: []scanner.Symbol{
			{Name: "rte_pktmbuf_pkt_len", Kind: scanner.KindMacro, MacroParams: []string{"m", "extra"}, File: "rte_mbuf.h", Line: 7},
		},
	}
	_, err := Synthesize(s, Options{}, log.Discard())
	require.ErrorIs(t, err, generror.ErrShimSynthesis)
	assert.Contains(t, err.Error(), "rte_mbuf.h:7")
}

func TestUnitAt(t *testing.T) {
	s := fixtureSurface(t, th.CreateDPDKFixture(t))
	set, err := Synthesize(s, Options{}, log.Discard())
	require.NoError(t, err)

	lines := strings.Split(string(set.Source()), "\n")
	for i, l := range lines {
		if strings.HasPrefix(l, "\treturn rte_eth_tx_burst(") {
			u, ok := set.UnitAt(i + 1)
			require.True(t, ok)
			assert.Equal(t, "rtebind_rte_eth_tx_burst", u.Name)
			return
		}
	}
	t.Fatal("tx_burst body not found")
}

func TestWrite(t *testing.T) {
	s := fixtureSurface(t, th.CreateDPDKFixture(t))
	set, err := Synthesize(s, Options{}, log.Discard())
	require.NoError(t, err)

	dir := t.TempDir()
	src, err := set.Write(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, SourceName), src)

	got, err := os.ReadFile(filepath.Join(dir, HeaderName))
	require.NoError(t, err)
	assert.Equal(t, set.Header(), got)
}

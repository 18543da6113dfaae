package emitter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alia5/rtebind/internal/codegen/generror"
	"github.com/Alia5/rtebind/internal/codegen/locator"
	"github.com/Alia5/rtebind/internal/codegen/meta"
	"github.com/Alia5/rtebind/internal/codegen/scanner"
	"github.com/Alia5/rtebind/internal/codegen/shim"
	"github.com/Alia5/rtebind/internal/codegen/toolchain"
	"github.com/Alia5/rtebind/internal/log"
	th "github.com/Alia5/rtebind/internal/testing"
)

var mbufRefs = map[string][]string{"rte_mbuf": {"rte_mempool", "rte_eth_conf"}}

func param(typ, name string) scanner.Param {
	decl := typ + " " + name
	if strings.HasSuffix(typ, "*") {
		decl = typ + name
	}
	return scanner.Param{Type: typ, Name: name, Decl: decl}
}

func testSurface() *scanner.Surface {
	return &scanner.Surface{
		Umbrella: scanner.UmbrellaName,
		Symbols: []scanner.Symbol{
			{Name: "rte_eth_rx_burst", Kind: scanner.KindInline, Return: "uint16_t", Params: []scanner.Param{
				param("uint16_t", "port_id"),
				param("uint16_t", "queue_id"),
				param("struct rte_mbuf **", "rx_pkts"),
				param("const uint16_t", "nb_pkts"),
			}},
			{Name: "rte_pktmbuf_free", Kind: scanner.KindInline, Return: "void", Params: []scanner.Param{
				param("struct rte_mbuf *", "m"),
			}},
			{Name: "rte_eth_link_get", Kind: scanner.KindInline, Return: "int", Params: []scanner.Param{
				param("struct rte_eth_link", "link"),
			}},
		},
		Externs: []scanner.Symbol{
			{Name: "rte_eal_init", Kind: scanner.KindExtern, Return: "int", Params: []scanner.Param{
				param("int", "argc"),
				param("char **", "argv"),
			}},
			{Name: "rte_eth_dev_configure", Kind: scanner.KindExtern, Return: "int", Params: []scanner.Param{
				param("uint16_t", "port_id"),
				param("const struct rte_eth_conf *", "conf"),
			}},
		},
		Constants: []scanner.Constant{
			{Name: "RTE_MBUF_F_RX_VLAN", Value: "1 << 0"},
			{Name: "RTE_MAX_LCORE", Value: "128"},
		},
		Structs: []string{"struct rte_mbuf", "struct rte_mempool"},
	}
}

func testMetadata(t *testing.T, surface *scanner.Surface) *meta.Metadata {
	t.Helper()
	set, err := shim.Synthesize(surface, shim.Options{}, log.Discard())
	require.NoError(t, err)
	build := t.TempDir()
	_, err = set.Write(build)
	require.NoError(t, err)
	return &meta.Metadata{
		Library:  &locator.Library{IncludeDir: "/opt/dpdk/include", Version: "23.11.0"},
		Surface:  surface,
		Shims:    set,
		BuildDir: build,
		OutDir:   t.TempDir(),
	}
}

func readFile(t *testing.T, dir, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return string(b)
}

func TestEmitGeneratesPackage(t *testing.T) {
	md := testMetadata(t, testSurface())
	runner := th.CreateMockToolchain(t, mbufRefs)

	res, err := Emit(context.Background(), runner, md, Options{}, log.Discard())
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, []string{GitignoreFile, CgoFile, ConstFile, FuncsFile, TypesFile}, res.Files)
	assert.Equal(t, 2, res.Types)
	assert.Equal(t, 4, res.Funcs)
	assert.Equal(t, 2, res.Consts)
	assert.Equal(t, "rtebind 0.0.1-dev; "+th.FakeGoVersion, res.ToolVersion)
	assert.Len(t, runner.Calls("go"), 3, "go version plus two godefs rounds")

	types := readFile(t, md.OutDir, TypesFile)
	assert.Contains(t, types, "type RteMbuf struct")
	assert.Contains(t, types, "type RteMempool struct")
	assert.Contains(t, types, "*RteMempool")
	assert.Contains(t, types, `import "unsafe"`)
	assert.NotContains(t, types, "_Ctype_")
	assert.NotContains(t, types, "// cgo -godefs")

	funcs := readFile(t, md.OutDir, FuncsFile)
	assert.Contains(t, funcs, `// #include "rtebind_shim.h"`)
	assert.Contains(t, funcs, "func RteEthRxBurst(portId uint16, queueId uint16, rxPkts **RteMbuf, nbPkts uint16) uint16 {")
	assert.Contains(t, funcs, "return uint16(C.rtebind_rte_eth_rx_burst(C.uint16_t(portId), C.uint16_t(queueId), (**C.struct_rte_mbuf)(unsafe.Pointer(rxPkts)), C.uint16_t(nbPkts)))")
	assert.Contains(t, funcs, "C.rtebind_rte_pktmbuf_free((*C.struct_rte_mbuf)(unsafe.Pointer(m)))")
	assert.Contains(t, funcs, "func RteEalInit(argc int32, argv **int8) int32 {")
	assert.Contains(t, funcs, "func RteEthDevConfigure(portId uint16, conf unsafe.Pointer) int32 {")
	assert.Contains(t, funcs, "(*C.struct_rte_eth_conf)(conf)")
	assert.NotContains(t, funcs, "RteEthLinkGet", "by-value struct parameters stay with C. callers")

	consts := readFile(t, md.OutDir, ConstFile)
	assert.Regexp(t, `RTE_MAX_LCORE\s+= 128`, consts)
	assert.Regexp(t, `RTE_MBUF_F_RX_VLAN\s+= 1 << 0`, consts)
	assert.Less(t, strings.Index(consts, "RTE_MAX_LCORE"), strings.Index(consts, "RTE_MBUF_F_RX_VLAN"))

	cgo := readFile(t, md.OutDir, CgoFile)
	assert.Contains(t, cgo, "#cgo CFLAGS: -I/opt/dpdk/include -I"+md.BuildDir)
	assert.Equal(t, "# Code generated by rtebind. DO NOT EDIT.\n*\n", readFile(t, md.OutDir, GitignoreFile))

	entries, err := os.ReadDir(md.BuildDir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".rtebind-godefs-"), "godefs dir left behind")
	}
}

func TestEmitByteIdentical(t *testing.T) {
	md := testMetadata(t, testSurface())
	first, err := Emit(context.Background(), th.CreateMockToolchain(t, mbufRefs), md, Options{}, log.Discard())
	require.NoError(t, err)
	firstDir := md.OutDir

	md.OutDir = t.TempDir()
	second, err := Emit(context.Background(), th.CreateMockToolchain(t, mbufRefs), md, Options{}, log.Discard())
	require.NoError(t, err)

	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	require.Equal(t, first.Files, second.Files)
	for _, name := range first.Files {
		assert.Equal(t, readFile(t, firstDir, name), readFile(t, md.OutDir, name), name)
	}
}

func TestEmitCache(t *testing.T) {
	cacheDir := t.TempDir()
	md := testMetadata(t, testSurface())
	opts := Options{Cache: true, CacheDir: cacheDir}

	first, err := Emit(context.Background(), th.CreateMockToolchain(t, mbufRefs), md, opts, log.Discard())
	require.NoError(t, err)
	require.False(t, first.Cached)
	firstDir := md.OutDir

	md.OutDir = t.TempDir()
	runner := th.CreateMockToolchain(t, mbufRefs)
	hit, err := Emit(context.Background(), runner, md, opts, log.Discard())
	require.NoError(t, err)
	assert.True(t, hit.Cached)
	assert.Equal(t, first.Files, hit.Files)
	assert.Len(t, runner.Calls("go"), 1, "a hit only asks for the go version")
	for _, name := range first.Files {
		assert.Equal(t, readFile(t, firstDir, name), readFile(t, md.OutDir, name), name)
	}

	md.Library.Version = "24.03.0"
	md.OutDir = t.TempDir()
	runner = th.CreateMockToolchain(t, mbufRefs)
	miss, err := Emit(context.Background(), runner, md, opts, log.Discard())
	require.NoError(t, err)
	assert.False(t, miss.Cached, "a library version change must regenerate")
	assert.NotEqual(t, first.Fingerprint, miss.Fingerprint)
	assert.Len(t, runner.Calls("go"), 3)
}

func TestEmitCacheKeyedOnOutput(t *testing.T) {
	tests := []struct {
		name   string
		change func(md *meta.Metadata, opts *Options)
		check  func(t *testing.T, dir string)
	}{
		{
			name:   "package name",
			change: func(_ *meta.Metadata, opts *Options) { opts.Package = "rte" },
			check: func(t *testing.T, dir string) {
				assert.Contains(t, readFile(t, dir, FuncsFile), "package rte\n")
				assert.Contains(t, readFile(t, dir, TypesFile), "package rte\n")
			},
		},
		{
			name: "constant value",
			change: func(md *meta.Metadata, _ *Options) {
				md.Surface.Constants[1].Value = "256"
			},
			check: func(t *testing.T, dir string) {
				assert.Regexp(t, `RTE_MAX_LCORE\s+= 256`, readFile(t, dir, ConstFile))
			},
		},
		{
			name: "extern signature",
			change: func(md *meta.Metadata, _ *Options) {
				md.Surface.Externs[0].Return = "unsigned int"
			},
			check: func(t *testing.T, dir string) {
				assert.Contains(t, readFile(t, dir, FuncsFile), "func RteEalInit(argc int32, argv **int8) uint32 {")
			},
		},
		{
			name: "struct set",
			change: func(md *meta.Metadata, _ *Options) {
				md.Surface.Structs = md.Surface.Structs[:1]
			},
			check: func(t *testing.T, dir string) {
				assert.NotContains(t, readFile(t, dir, TypesFile), "type RteMempool struct")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := Options{Cache: true, CacheDir: t.TempDir()}
			md := testMetadata(t, testSurface())
			first, err := Emit(context.Background(), th.CreateMockToolchain(t, mbufRefs), md, opts, log.Discard())
			require.NoError(t, err)

			tt.change(md, &opts)
			md.OutDir = t.TempDir()
			runner := th.CreateMockToolchain(t, mbufRefs)
			res, err := Emit(context.Background(), runner, md, opts, log.Discard())
			require.NoError(t, err)
			assert.False(t, res.Cached)
			assert.NotEqual(t, first.Fingerprint, res.Fingerprint)
			assert.Greater(t, len(runner.Calls("go")), 1)
			tt.check(t, md.OutDir)
		})
	}
}

func TestEmitMacroDeclaredStructByValue(t *testing.T) {
	md := testMetadata(t, testSurface())
	// STAILQ_HEAD(rte_mempool_objhdr_list, rte_mempool_objhdr) is embedded by
	// value in struct rte_mempool and never reaches the scanned struct set.
	refs := map[string][]string{
		"rte_mbuf":    {"rte_mempool"},
		"rte_mempool": {"+rte_mempool_objhdr_list", "rte_mempool_objhdr"},
	}
	runner := th.CreateMockToolchain(t, refs)

	res, err := Emit(context.Background(), runner, md, Options{}, log.Discard())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Types)
	assert.Len(t, runner.Calls("go"), 4, "go version plus three godefs rounds")

	types := readFile(t, md.OutDir, TypesFile)
	assert.Contains(t, types, "type RteMempoolObjhdrList struct")
	assert.Regexp(t, `Ref\d+\s+RteMempoolObjhdrList\n`, types)
	assert.Regexp(t, `Ref\d+\s+unsafe\.Pointer\n`, types, "pointers to undefined tags stay opaque")
	assert.NotContains(t, types, "type RteMempoolObjhdr struct")
	assert.NotContains(t, types, "_Ctype_")
}

func TestEmitFailures(t *testing.T) {
	crash := func(cmd toolchain.Command) (toolchain.Result, error) {
		if cmd.Args[0] == "version" {
			return toolchain.Result{Stdout: []byte(th.FakeGoVersion)}, nil
		}
		return toolchain.Result{Stderr: []byte("rte_mbuf.h:12: unknown type name")}, errors.New("exit status 2")
	}

	tests := []struct {
		name    string
		md      func(t *testing.T) *meta.Metadata
		runner  func(t *testing.T) *th.FakeRunner
		opts    Options
		message string
	}{
		{
			name: "generator crash",
			md:   func(t *testing.T) *meta.Metadata { return testMetadata(t, testSurface()) },
			runner: func(t *testing.T) *th.FakeRunner {
				r := th.CreateMockToolchain(t, nil)
				r.Handle("go", crash)
				return r
			},
			message: "cgo -godefs failed",
		},
		{
			name: "no declarations",
			md: func(t *testing.T) *meta.Metadata {
				return &meta.Metadata{
					Library:  &locator.Library{Version: "23.11.0"},
					Surface:  &scanner.Surface{},
					Shims:    &shim.Set{},
					BuildDir: t.TempDir(),
					OutDir:   t.TempDir(),
				}
			},
			runner:  func(t *testing.T) *th.FakeRunner { return th.CreateMockToolchain(t, nil) },
			message: "no declarations generated",
		},
		{
			name:    "unbounded struct closure",
			md:      func(t *testing.T) *meta.Metadata { return testMetadata(t, testSurface()) },
			runner:  func(t *testing.T) *th.FakeRunner { return th.CreateMockToolchain(t, mbufRefs) },
			opts:    Options{MaxRounds: 1},
			message: "unresolved after 1 godefs rounds",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := tt.md(t)
			_, err := Emit(context.Background(), tt.runner(t), md, tt.opts, log.Discard())
			require.ErrorIs(t, err, generror.ErrBindingGeneration)
			assert.Contains(t, err.Error(), tt.message)

			entries, err := os.ReadDir(md.OutDir)
			require.NoError(t, err)
			assert.Empty(t, entries, "nothing is written on failure")
		})
	}
}

func TestEmitGeneratorOutputAttached(t *testing.T) {
	md := testMetadata(t, testSurface())
	runner := th.CreateMockToolchain(t, nil)
	runner.Handle("go", func(cmd toolchain.Command) (toolchain.Result, error) {
		if cmd.Args[0] == "version" {
			return toolchain.Result{Stdout: []byte(th.FakeGoVersion)}, nil
		}
		return toolchain.Result{Stderr: []byte("fatal: struct rte_mbuf has no member")}, errors.New("exit status 2")
	})

	_, err := Emit(context.Background(), runner, md, Options{}, log.Discard())
	ge, ok := generror.As(err)
	require.True(t, ok)
	assert.Contains(t, ge.Output, "struct rte_mbuf has no member")
}

func TestNormalizeGodefs(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []string
		wantErr bool
	}{
		{
			name: "banner with temp paths is dropped",
			in:   "// Code generated by cmd/cgo -godefs; DO NOT EDIT.\n// cgo -godefs -- -I/tmp/x types.go\n\npackage dpdk\n\ntype A struct{ X uint32 }\n",
			want: []string{"// Code generated by cmd/cgo -godefs; DO NOT EDIT.\n\npackage dpdk\n\ntype A struct{ X uint32 }\n"},
		},
		{
			name: "opaque pointers become unsafe.Pointer",
			in:   "package dpdk\n\ntype A struct {\n\tP **_Ctype_struct_hidden\n}\n",
			want: []string{"import \"unsafe\"", "P unsafe.Pointer"},
		},
		{
			name:    "opaque struct by value",
			in:      "package dpdk\n\ntype A struct {\n\tP _Ctype_struct_hidden\n}\n",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := normalizeGodefs([]byte(tt.in))
			if tt.wantErr {
				require.ErrorIs(t, err, generror.ErrBindingGeneration)
				return
			}
			require.NoError(t, err)
			for _, w := range tt.want {
				assert.Contains(t, string(out), w)
			}
		})
	}
}

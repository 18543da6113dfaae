package generator

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alia5/rtebind/internal/codegen/compiler"
	"github.com/Alia5/rtebind/internal/codegen/emitter"
	"github.com/Alia5/rtebind/internal/codegen/generror"
	"github.com/Alia5/rtebind/internal/codegen/linkplan"
	"github.com/Alia5/rtebind/internal/codegen/locator"
	"github.com/Alia5/rtebind/internal/codegen/toolchain"
	"github.com/Alia5/rtebind/internal/log"
	th "github.com/Alia5/rtebind/internal/testing"
)

var godefsRefs = map[string][]string{"rte_mbuf": {"rte_mempool", "rte_mbuf"}}

func testOptions(t *testing.T, f *th.Fixture) Options {
	t.Helper()
	return Options{
		BuildDir: t.TempDir(),
		OutDir:   t.TempDir(),
		Locator:  locator.Hints{SDKRoot: f.Root, Machine: th.FakeMachine},
		Emitter:  emitter.Options{Cache: true, CacheDir: t.TempDir()},
		Link:     linkplan.Options{InjectLDFlags: true},
	}
}

func TestRunEndToEnd(t *testing.T) {
	f := th.CreateDPDKFixture(t)
	opts := testOptions(t, f)
	runner := th.CreateMockToolchain(t, godefsRefs)

	m, err := New(opts, runner, log.Discard()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "23.11.0", m.Library.Version)
	assert.Equal(t, f.IncludeDir, m.Library.IncludeDir)
	assert.False(t, m.Cached)
	for _, name := range []string{"rtebind_rte_eth_rx_burst", "rtebind_rte_pktmbuf_alloc", "rtebind_rte_combine32ms1b", "rtebind_rte_pktmbuf_pkt_len", "rtebind_rte_pktmbuf_mtod"} {
		assert.Contains(t, m.Shims, name)
	}
	assert.NotContains(t, m.Shims, "rtebind_rte_eal_init", "externs link directly")
	assert.NotContains(t, m.Shims, "rtebind_rte_eth_dev_internal_reset")

	assert.FileExists(t, filepath.Join(opts.BuildDir, "dpdk.h"))
	assert.FileExists(t, filepath.Join(opts.BuildDir, compiler.ArchiveName))
	assert.Equal(t, filepath.Join(opts.BuildDir, compiler.ArchiveName), m.ShimArchive)
	for _, name := range []string{emitter.TypesFile, emitter.FuncsFile, emitter.ConstFile, emitter.CgoFile, emitter.GitignoreFile, linkplan.LinkFile} {
		assert.FileExists(t, filepath.Join(opts.OutDir, name))
		assert.Contains(t, m.Files, name)
	}

	require.NotNil(t, m.Link)
	assert.NoError(t, linkplan.Verify(m.Link.Flags))
	assert.Contains(t, m.Link.Flags, "-l:librte_eal.a")

	funcs, err := os.ReadFile(filepath.Join(opts.OutDir, emitter.FuncsFile))
	require.NoError(t, err)
	assert.Contains(t, string(funcs), "func RteEthRxBurst(")
	assert.Contains(t, string(funcs), "func RteEalInit(argc int32, argv **int8) int32 {")

	stored, err := ReadManifest(opts.BuildDir)
	require.NoError(t, err)
	assert.Equal(t, m.Fingerprint, stored.Fingerprint)
	assert.Equal(t, m.Link.Flags, stored.Link.Flags)

	assert.Len(t, runner.Calls("cc"), 1)
	assert.Len(t, runner.Calls("ar"), 1)
}

func TestRunRegeneratesIdentically(t *testing.T) {
	f := th.CreateDPDKFixture(t)
	opts := testOptions(t, f)

	first, err := New(opts, th.CreateMockToolchain(t, godefsRefs), log.Discard()).Run(context.Background())
	require.NoError(t, err)
	before := map[string][]byte{}
	for _, name := range first.Files {
		b, err := os.ReadFile(filepath.Join(opts.OutDir, name))
		require.NoError(t, err)
		before[name] = b
	}

	second, err := New(opts, th.CreateMockToolchain(t, godefsRefs), log.Discard()).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	for name, want := range before {
		got, err := os.ReadFile(filepath.Join(opts.OutDir, name))
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
}

func TestRunMalformedHeader(t *testing.T) {
	f := th.CreateDPDKFixture(t)
	f.WriteHeader(t, "rte_broken.h", "struct rte_broken {\n\tint a;\n")
	opts := testOptions(t, f)
	runner := th.CreateMockToolchain(t, godefsRefs)

	_, err := New(opts, runner, log.Discard()).Run(context.Background())
	require.ErrorIs(t, err, generror.ErrSurfaceScan)

	entries, err := os.ReadDir(opts.OutDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoFileExists(t, filepath.Join(opts.BuildDir, compiler.ArchiveName))
	assert.Empty(t, runner.Calls("cc"))
	assert.Empty(t, runner.Calls("go"))
}

func TestRunShimCompileFailure(t *testing.T) {
	f := th.CreateDPDKFixture(t)
	opts := testOptions(t, f)
	runner := th.CreateMockToolchain(t, godefsRefs)
	runner.Handle("cc", th.FakeCC("rtebind_shim.c:1:1: error: broken toolchain"))

	_, err := New(opts, runner, log.Discard()).Run(context.Background())
	require.ErrorIs(t, err, generror.ErrShimCompile)
	assert.NoFileExists(t, filepath.Join(opts.OutDir, linkplan.LinkFile))
	assert.NoFileExists(t, filepath.Join(opts.BuildDir, ManifestName))
}

func TestRunPrintsGuidanceWithoutInjection(t *testing.T) {
	f := th.CreateDPDKFixture(t)
	opts := testOptions(t, f)
	opts.Link.InjectLDFlags = false

	g := New(opts, th.CreateMockToolchain(t, godefsRefs), log.Discard())
	var buf bytes.Buffer
	g.LinkEnv = linkplan.Env{Out: &buf}
	m, err := g.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, linkplan.ExportLine(m.Link)+"\n", buf.String())
	assert.NoFileExists(t, filepath.Join(opts.OutDir, linkplan.LinkFile))
	assert.NotContains(t, m.Files, linkplan.LinkFile)
}

func TestRunMissingLibrary(t *testing.T) {
	opts := Options{
		BuildDir: t.TempDir(),
		OutDir:   t.TempDir(),
		Locator:  locator.Hints{FallbackRoots: []string{t.TempDir()}, Machine: th.FakeMachine},
	}
	_, err := New(opts, th.CreateMockToolchain(t, nil), log.Discard()).Run(context.Background())
	require.ErrorIs(t, err, generror.ErrMissingDependency)
	ge, ok := generror.As(err)
	require.True(t, ok)
	assert.NotEmpty(t, ge.Path)
}

func copyTree(t *testing.T, from, to string) {
	t.Helper()
	err := filepath.WalkDir(from, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(from, path)
		if err != nil {
			return err
		}
		target := filepath.Join(to, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, b, 0o644)
	})
	require.NoError(t, err)
}

func TestRunFetchesMissingLibrary(t *testing.T) {
	f := th.CreateDPDKFixture(t)
	opts := testOptions(t, f)
	opts.Locator = locator.Hints{FallbackRoots: []string{t.TempDir()}, Machine: th.FakeMachine}
	opts.Fetch = locator.FetchOptions{Enabled: true, Repo: "https://example.invalid/dpdk.git", Ref: "v23.11", Jobs: 2}

	runner := th.CreateMockToolchain(t, godefsRefs)
	ok := func(toolchain.Command) (toolchain.Result, error) { return toolchain.Result{}, nil }
	runner.Handle("git", ok)
	runner.Handle("meson", ok)
	runner.Handle("ninja", func(cmd toolchain.Command) (toolchain.Result, error) {
		copyTree(t, f.Root, filepath.Join(opts.BuildDir, "3rdparty", "dpdk-install"))
		return toolchain.Result{}, nil
	})

	m, err := New(opts, runner, log.Discard()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(opts.BuildDir, "3rdparty", "dpdk-install"), m.Library.Root)
	assert.Len(t, runner.Calls("git"), 1)
	assert.Len(t, runner.Calls("ninja"), 1)
}

package locator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alia5/rtebind/internal/codegen/generror"
	"github.com/Alia5/rtebind/internal/codegen/toolchain"
	"github.com/Alia5/rtebind/internal/log"
	th "github.com/Alia5/rtebind/internal/testing"
)

func TestLocateSDKRoot(t *testing.T) {
	f := th.CreateDPDKFixture(t)
	runner := th.CreateMockToolchain(t, nil)

	lib, err := Locate(context.Background(), runner, Hints{SDKRoot: f.Root}, log.Discard())
	require.NoError(t, err)
	assert.Equal(t, f.Root, lib.Root)
	assert.Equal(t, f.IncludeDir, lib.IncludeDir)
	assert.Equal(t, f.LibDir, lib.LibDir)
	assert.Equal(t, filepath.Join(f.IncludeDir, ConfigHeaderName), lib.ConfigHeader)
	assert.Equal(t, "23.11.0", lib.Version)
	assert.Equal(t, th.FakeMachine, lib.Target, "machine comes from cc -dumpmachine")
	assert.Len(t, lib.Archives, 4)
	assert.Len(t, runner.Calls("cc"), 1)
}

func TestLocateFallbackRoots(t *testing.T) {
	f := th.CreateDPDKFixture(t)
	empty := t.TempDir()
	h := Hints{FallbackRoots: []string{empty, f.Root}, Machine: th.FakeMachine}

	lib, err := Locate(context.Background(), th.NewFakeRunner(), h, log.Discard())
	require.NoError(t, err)
	assert.Equal(t, f.Root, lib.Root)
}

func TestLocateExplicitRootMustResolve(t *testing.T) {
	f := th.CreateDPDKFixture(t)
	h := Hints{SDKRoot: t.TempDir(), FallbackRoots: []string{f.Root}, Machine: th.FakeMachine}

	_, err := Locate(context.Background(), th.NewFakeRunner(), h, log.Discard())
	require.ErrorIs(t, err, generror.ErrMissingDependency)
	ge, ok := generror.As(err)
	require.True(t, ok)
	assert.Contains(t, ge.Path, ConfigHeaderName)
}

func TestLocateLayouts(t *testing.T) {
	tests := []struct {
		name   string
		layout func(t *testing.T, root string) Hints
		libDir string
	}{
		{
			name: "legacy RTE_TARGET",
			layout: func(t *testing.T, root string) Hints {
				writeFile(t, filepath.Join(root, "x86_64-native-linux-gcc", "include", ConfigHeaderName), "")
				writeFile(t, filepath.Join(root, "x86_64-native-linux-gcc", "include", "rte_version.h"), "#define RTE_VER_YEAR 19\n#define RTE_VER_MONTH 11\n#define RTE_VER_MINOR 3\n")
				writeFile(t, filepath.Join(root, "x86_64-native-linux-gcc", "lib", "librte_eal.a"), "!<arch>\n")
				return Hints{SDKRoot: root, Target: "x86_64-native-linux-gcc", Machine: th.FakeMachine}
			},
			libDir: filepath.Join("x86_64-native-linux-gcc", "lib"),
		},
		{
			name: "in-tree build dir",
			layout: func(t *testing.T, root string) Hints {
				writeFile(t, filepath.Join(root, "build", "include", ConfigHeaderName), "")
				writeFile(t, filepath.Join(root, "build", "include", "rte_build_config.h"), "#define RTE_VER_YEAR 22\n#define RTE_VER_MONTH 11\n")
				writeFile(t, filepath.Join(root, "build", "lib64", "libdpdk.a"), "!<arch>\n")
				return Hints{SDKRoot: root, Machine: th.FakeMachine}
			},
			libDir: filepath.Join("build", "lib64"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			h := tt.layout(t, root)
			lib, err := Locate(context.Background(), th.NewFakeRunner(), h, log.Discard())
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(root, tt.libDir), lib.LibDir)
			if h.Target != "" {
				assert.Equal(t, h.Target, lib.Target)
			}
		})
	}
}

func TestLocateMissingArchives(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "include", "dpdk", ConfigHeaderName), "")
	writeFile(t, filepath.Join(root, "lib", "libfoo.a"), "")

	_, err := Locate(context.Background(), th.NewFakeRunner(), Hints{SDKRoot: root, Machine: th.FakeMachine}, log.Discard())
	require.ErrorIs(t, err, generror.ErrMissingDependency)
	assert.Contains(t, err.Error(), "no static librte_*.a archives")
}

func TestReadVersion(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		want    string
		wantErr bool
	}{
		{
			name:  "meson build config",
			files: map[string]string{"rte_build_config.h": "#define RTE_VER_YEAR 23\n#define RTE_VER_MONTH 11\n#define RTE_VER_MINOR 1\n#define RTE_VER_SUFFIX \"-rc\"\n"},
			want:  "23.11.1-rc",
		},
		{
			name:  "single-digit month is padded",
			files: map[string]string{"rte_version.h": "#define RTE_VER_YEAR 20\n#define RTE_VER_MONTH 2\n"},
			want:  "20.02.0",
		},
		{
			name: "build config wins over version header",
			files: map[string]string{
				"rte_build_config.h": "#define RTE_VER_YEAR 24\n#define RTE_VER_MONTH 03\n",
				"rte_version.h":      "#define RTE_VER_YEAR 19\n#define RTE_VER_MONTH 11\n",
			},
			want: "24.03.0",
		},
		{
			name:    "no version defines",
			files:   map[string]string{"rte_build_config.h": "#define RTE_CACHE_LINE_SIZE 64\n"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, body := range tt.files {
				writeFile(t, filepath.Join(dir, name), body)
			}
			got, err := ReadVersion(dir)
			if tt.wantErr {
				require.ErrorIs(t, err, generror.ErrMissingDependency)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindArchives(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"librte_mbuf.a", "librte_eal.a", "libdpdk.a", "libnuma.a", "librte_eal.so"} {
		writeFile(t, filepath.Join(dir, name), "")
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "librte_dir.a"), 0o755))

	got, err := FindArchives(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "libdpdk.a"),
		filepath.Join(dir, "librte_eal.a"),
		filepath.Join(dir, "librte_mbuf.a"),
	}, got)
}

func TestFetch(t *testing.T) {
	work := t.TempDir()
	runner := th.NewFakeRunner()
	ok := func(toolchain.Command) (toolchain.Result, error) { return toolchain.Result{}, nil }
	for _, name := range []string{"git", "meson", "ninja"} {
		runner.Handle(name, ok)
	}

	prefix, err := Fetch(context.Background(), runner, work, FetchOptions{Repo: "https://example.invalid/dpdk.git", Ref: "v23.11", Jobs: 4}, log.Discard())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(work, "3rdparty", "dpdk-install"), prefix)

	git := runner.Calls("git")
	require.Len(t, git, 1)
	assert.Equal(t, []string{"clone", "--depth", "1", "-b", "v23.11", "https://example.invalid/dpdk.git", filepath.Join(work, "3rdparty", "dpdk")}, git[0].Args)
	meson := runner.Calls("meson")
	require.Len(t, meson, 1)
	assert.Contains(t, meson[0].Args, "-Ddefault_library=static")
	ninja := runner.Calls("ninja")
	require.Len(t, ninja, 1)
	assert.Equal(t, []string{"-C", filepath.Join(work, "3rdparty", "dpdk", "build"), "-j", "4", "install"}, ninja[0].Args)
}

func TestFetchReusesInstall(t *testing.T) {
	work := t.TempDir()
	writeFile(t, filepath.Join(work, "3rdparty", "dpdk-install", "include", "dpdk", ConfigHeaderName), "")
	runner := th.NewFakeRunner()

	prefix, err := Fetch(context.Background(), runner, work, FetchOptions{}, log.Discard())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(work, "3rdparty", "dpdk-install"), prefix)
	assert.Empty(t, runner.Calls("git"))
}

func TestFetchStepFailure(t *testing.T) {
	runner := th.NewFakeRunner()
	runner.Handle("git", func(toolchain.Command) (toolchain.Result, error) {
		return toolchain.Result{Stderr: []byte("fatal: repository not found")}, assert.AnError
	})

	_, err := Fetch(context.Background(), runner, t.TempDir(), FetchOptions{Repo: "x", Ref: "y"}, log.Discard())
	require.ErrorIs(t, err, generror.ErrMissingDependency)
	ge, ok := generror.As(err)
	require.True(t, ok)
	assert.Contains(t, ge.Output, "repository not found")
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

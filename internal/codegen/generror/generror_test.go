package generror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "missing dependency names the path",
			err:  MissingDependency("/usr/local/include/dpdk/rte_config.h", "DPDK headers not found"),
			want: "MissingDependency (/usr/local/include/dpdk/rte_config.h): DPDK headers not found",
		},
		{
			name: "scan error names file and line",
			err:  SurfaceScan("rte_mbuf.h", 42, "unbalanced '{'"),
			want: "SurfaceScanError rte_mbuf.h:42: unbalanced '{'",
		},
		{
			name: "synthesis error names the symbol",
			err:  ShimSynthesis("rte_bit_test", "untriaged function-like macro"),
			want: "ShimSynthesisError [rte_bit_test]: untriaged function-like macro",
		},
		{
			name: "link plan names the path",
			err:  LinkPlanIncomplete("/opt/dpdk/lib", "no librte_*.a archives"),
			want: "LinkPlanIncomplete (/opt/dpdk/lib): no librte_*.a archives",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestSentinelMatching(t *testing.T) {
	err := fmt.Errorf("compile shims: %w", ShimCompile("rte_pktmbuf_free", "shim.c:10:3: error: x", errors.New("exit status 1")))

	assert.ErrorIs(t, err, ErrShimCompile)
	assert.NotErrorIs(t, err, ErrBindingGeneration)

	ge, ok := As(err)
	if assert.True(t, ok) {
		assert.Equal(t, "rte_pktmbuf_free", ge.Symbol)
		assert.Contains(t, ge.Output, "error: x")
	}
	assert.Contains(t, err.Error(), "exit status 1")
}

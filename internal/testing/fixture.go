package testing

import (
	"os"
	"path/filepath"
	"testing"
)

// Fixture is a miniature DPDK install: meson layout, multiarch lib dir.
type Fixture struct {
	Root       string
	IncludeDir string
	LibDir     string
}

var fixtureHeaders = map[string]string{
	"rte_config.h": `#ifndef _RTE_CONFIG_H_
#define _RTE_CONFIG_H_

#include <rte_build_config.h>

#define RTE_MAX_LCORE 128
#define RTE_PKTMBUF_HEADROOM 128

#endif /* _RTE_CONFIG_H_ */
`,
	"rte_build_config.h": `#define RTE_VER_YEAR 23
#define RTE_VER_MONTH 11
#define RTE_VER_MINOR 0
#define RTE_VER_SUFFIX ""
#define RTE_CACHE_LINE_SIZE 64
`,
	"rte_common.h": `#ifndef _RTE_COMMON_H_
#define _RTE_COMMON_H_

#ifdef __cplusplus
extern "C" {
#endif

#include <stdint.h>

#define __rte_always_inline inline __attribute__((always_inline))
#define __rte_cache_aligned __attribute__((__aligned__(RTE_CACHE_LINE_SIZE)))

#define RTE_MIN(a, b) \
	__extension__ ({ \
		typeof (a) _a = (a); \
		typeof (b) _b = (b); \
		_a < _b ? _a : _b; \
	})

#define RTE_ETHER_ADDR_LEN 6

/**
 * Combines 32b inputs most significant set bits into the least
 * significant bits to construct a value with the same MSBs as x
 * but all 1's under it.
 */
static inline uint32_t
rte_combine32ms1b(uint32_t x)
{
	x |= x >> 1;
	x |= x >> 2;
	return x;
}

static inline uint32_t
rte_align32pow2(uint32_t x)
{
	x--;
	x = rte_combine32ms1b(x);
	return x + 1;
}

#ifdef __cplusplus
}
#endif

#endif /* _RTE_COMMON_H_ */
`,
	"rte_mbuf_core.h": `#ifndef _RTE_MBUF_CORE_H_
#define _RTE_MBUF_CORE_H_

#include <stdint.h>
#include <rte_common.h>

#define RTE_MBUF_F_RX_VLAN (1ULL << 0)

struct rte_mempool;

struct rte_mbuf {
	void *buf_addr;
	uint16_t data_off;
	uint16_t refcnt;
	uint16_t nb_segs;
	uint16_t port;
	uint64_t ol_flags;
	union {
		uint32_t packet_type;
		__extension__
		struct {
			uint8_t l2_type:4;
			uint8_t l3_type:4;
		};
	};
	uint32_t pkt_len;
	uint16_t data_len;
	struct rte_mempool *pool;
	struct rte_mbuf *next;
	union {
		uint64_t tx_offload;
		__extension__
		struct {
			uint64_t l2_len:7;
			uint64_t l3_len:9;
		};
	};
} __rte_cache_aligned;

#endif /* _RTE_MBUF_CORE_H_ */
`,
	"rte_mempool.h": `#ifndef _RTE_MEMPOOL_H_
#define _RTE_MEMPOOL_H_

#include <rte_common.h>

struct rte_mempool {
	char name[32];
	uint32_t size;
	uint32_t cache_size;
} __rte_cache_aligned;

struct rte_mempool *rte_mempool_lookup(const char *name);
void rte_mempool_free(struct rte_mempool *mp);

#endif /* _RTE_MEMPOOL_H_ */
`,
	"rte_mbuf.h": `#ifndef _RTE_MBUF_H_
#define _RTE_MBUF_H_

#include <rte_mbuf_core.h>
#include <rte_mempool.h>

#define rte_pktmbuf_mtod_offset(m, t, o)	\
	((t)(void *)((char *)(m)->buf_addr + (m)->data_off + (o)))

#define rte_pktmbuf_mtod(m, t) rte_pktmbuf_mtod_offset(m, t, 0)

#define rte_pktmbuf_pkt_len(m) ((m)->pkt_len)

#define rte_pktmbuf_data_len(m) ((m)->data_len)

struct rte_mempool *
rte_pktmbuf_pool_create(const char *name, unsigned int n,
	unsigned int cache_size, uint16_t priv_size, uint16_t data_room_size,
	int socket_id);

static __rte_always_inline struct rte_mbuf *
__rte_mbuf_raw_alloc(struct rte_mempool *mp)
{
	(void)mp;
	return 0;
}

static inline struct rte_mbuf *rte_pktmbuf_alloc(struct rte_mempool *mp)
{
	return __rte_mbuf_raw_alloc(mp);
}

static __rte_always_inline void
rte_pktmbuf_free(struct rte_mbuf *m)
{
	if (m != 0) {
		m->refcnt--;
	}
}

#endif /* _RTE_MBUF_H_ */
`,
	"rte_ethdev.h": `#ifndef _RTE_ETHDEV_H_
#define _RTE_ETHDEV_H_

#include <rte_mbuf.h>

#ifdef __cplusplus
extern "C" {
#endif

struct rte_eth_conf;

int rte_eth_dev_configure(uint16_t port_id, uint16_t nb_rx_queue,
		uint16_t nb_tx_queue, const struct rte_eth_conf *eth_conf);

int rte_eth_dev_start(uint16_t port_id);

__rte_internal
int rte_eth_dev_internal_reset(uint16_t port_id);

int rte_eth_dev_log(uint16_t port_id, const char *fmt, ...);

static inline uint16_t
rte_eth_rx_burst(uint16_t port_id, uint16_t queue_id,
		 struct rte_mbuf **rx_pkts, const uint16_t nb_pkts)
{
	(void)port_id;
	(void)queue_id;
	(void)rx_pkts;
	return nb_pkts;
}

static inline uint16_t
rte_eth_tx_burst(uint16_t port_id, uint16_t queue_id,
		 struct rte_mbuf **tx_pkts, uint16_t nb_pkts)
{
	(void)port_id;
	(void)queue_id;
	(void)tx_pkts;
	return nb_pkts;
}

#ifdef __cplusplus
}
#endif

#endif /* _RTE_ETHDEV_H_ */
`,
	"rte_ethdev_x86.h": `#ifndef _RTE_ETHDEV_X86_H_
#define _RTE_ETHDEV_X86_H_
static inline int rte_ethdev_x86_only(void) { return 1; }
#endif
`,
	"rte_eal.h": `#ifndef _RTE_EAL_H_
#define _RTE_EAL_H_

int rte_eal_init(int argc, char **argv);

int rte_eal_cleanup(void);

#endif /* _RTE_EAL_H_ */
`,
	"rte_pause.h": `#ifndef _RTE_PAUSE_H_
#define _RTE_PAUSE_H_
#error "do not include rte_pause.h directly, include the arch header"
#endif
`,
	"rte_pmd_dlb2.h": `#ifndef _RTE_PMD_DLB2_H_
#define _RTE_PMD_DLB2_H_
enum dlb2_token_pop_mode { AUTO_POP, DELAYED_POP };
#endif
`,
}

var fixtureArchives = []string{"librte_eal.a", "librte_ethdev.a", "librte_mbuf.a", "librte_mempool.a"}

// CreateDPDKFixture writes a DPDK 23.11.0 install under t.TempDir().
func CreateDPDKFixture(t *testing.T) *Fixture {
	t.Helper()
	root := t.TempDir()
	f := &Fixture{
		Root:       root,
		IncludeDir: filepath.Join(root, "include", "dpdk"),
		LibDir:     filepath.Join(root, "lib", FakeMachine),
	}
	for name, body := range fixtureHeaders {
		f.WriteHeader(t, name, body)
	}
	for _, name := range fixtureArchives {
		f.WriteArchive(t, name)
	}
	return f
}

func (f *Fixture) WriteHeader(t *testing.T, name, body string) string {
	t.Helper()
	return writeFile(t, filepath.Join(f.IncludeDir, name), body)
}

func (f *Fixture) WriteArchive(t *testing.T, name string) string {
	t.Helper()
	return writeFile(t, filepath.Join(f.LibDir, name), "!<arch>\n")
}

func writeFile(t *testing.T, path, body string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

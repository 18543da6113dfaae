package shim

// Function-like macros have no types, so every macro that is exported gets
// a hand-triaged signature here. A macro seen in the headers that is in
// none of these tables is untriaged and handled by the macro policy.

type arg struct {
	Type string
	Name string
}

type macroSig struct {
	Return string
	Args   []arg
	// Body replaces the mechanical forwarding body when set.
	Body string
	// Include names a system header the macro comes from. Such entries are
	// emitted even though the scanner never sees them.
	Include string
}

var mbufArg = []arg{{"const struct rte_mbuf *", "m"}}

// forwarded macros take and return plain values; the shim body is a
// mechanical call.
var forwarded = map[string]macroSig{
	"rte_pktmbuf_pkt_len":     {Return: "uint32_t", Args: mbufArg},
	"rte_pktmbuf_data_len":    {Return: "uint16_t", Args: mbufArg},
	"rte_pktmbuf_iova":        {Return: "rte_iova_t", Args: mbufArg},
	"rte_pktmbuf_iova_offset": {Return: "rte_iova_t", Args: []arg{{"const struct rte_mbuf *", "m"}, {"uint64_t", "o"}}},
	"rte_memcpy":              {Return: "void *", Args: []arg{{"void *", "dst"}, {"const void *", "src"}, {"size_t", "n"}}},
	"rte_get_timer_hz":        {Return: "uint64_t"},
	"rte_mb":                  {Return: "void"},
	"rte_wmb":                 {Return: "void"},
	"rte_rmb":                 {Return: "void"},
	"rte_smp_mb":              {Return: "void"},
	"rte_smp_wmb":             {Return: "void"},
	"rte_smp_rmb":             {Return: "void"},
	"rte_io_mb":               {Return: "void"},
	"rte_io_wmb":              {Return: "void"},
	"rte_io_rmb":              {Return: "void"},
	"rte_compiler_barrier":    {Return: "void"},
	"rte_bswap16":             {Return: "uint16_t", Args: []arg{{"uint16_t", "x"}}},
	"rte_bswap32":             {Return: "uint32_t", Args: []arg{{"uint32_t", "x"}}},
	"rte_bswap64":             {Return: "uint64_t", Args: []arg{{"uint64_t", "x"}}},
	"rte_cpu_to_be_16":        {Return: "rte_be16_t", Args: []arg{{"uint16_t", "x"}}},
	"rte_cpu_to_be_32":        {Return: "rte_be32_t", Args: []arg{{"uint32_t", "x"}}},
	"rte_cpu_to_be_64":        {Return: "rte_be64_t", Args: []arg{{"uint64_t", "x"}}},
	"rte_be_to_cpu_16":        {Return: "uint16_t", Args: []arg{{"rte_be16_t", "x"}}},
	"rte_be_to_cpu_32":        {Return: "uint32_t", Args: []arg{{"rte_be32_t", "x"}}},
	"rte_be_to_cpu_64":        {Return: "uint64_t", Args: []arg{{"rte_be64_t", "x"}}},
	"rte_cpu_to_le_16":        {Return: "rte_le16_t", Args: []arg{{"uint16_t", "x"}}},
	"rte_cpu_to_le_32":        {Return: "rte_le32_t", Args: []arg{{"uint32_t", "x"}}},
	"rte_cpu_to_le_64":        {Return: "rte_le64_t", Args: []arg{{"uint64_t", "x"}}},
	"rte_le_to_cpu_16":        {Return: "uint16_t", Args: []arg{{"rte_le16_t", "x"}}},
	"rte_le_to_cpu_32":        {Return: "uint32_t", Args: []arg{{"rte_le32_t", "x"}}},
	"rte_le_to_cpu_64":        {Return: "uint64_t", Args: []arg{{"rte_le64_t", "x"}}},

	"CPU_ZERO":  {Return: "void", Args: []arg{{"cpu_set_t *", "set"}}, Include: "sched.h"},
	"CPU_SET":   {Return: "void", Args: []arg{{"int", "cpu"}, {"cpu_set_t *", "set"}}, Include: "sched.h"},
	"CPU_CLR":   {Return: "void", Args: []arg{{"int", "cpu"}, {"cpu_set_t *", "set"}}, Include: "sched.h"},
	"CPU_ISSET": {Return: "int", Args: []arg{{"int", "cpu"}, {"const cpu_set_t *", "set"}}, Include: "sched.h"},
	"CPU_COUNT": {Return: "int", Args: []arg{{"const cpu_set_t *", "set"}}, Include: "sched.h"},
	"CPU_EQUAL": {Return: "int", Args: []arg{{"const cpu_set_t *", "set1"}, {"const cpu_set_t *", "set2"}}, Include: "sched.h"},
	"CPU_AND":   {Return: "void", Args: []arg{{"cpu_set_t *", "dst"}, {"const cpu_set_t *", "src1"}, {"const cpu_set_t *", "src2"}}, Include: "sched.h"},
	"CPU_OR":    {Return: "void", Args: []arg{{"cpu_set_t *", "dst"}, {"const cpu_set_t *", "src1"}, {"const cpu_set_t *", "src2"}}, Include: "sched.h"},
	"CPU_XOR":   {Return: "void", Args: []arg{{"cpu_set_t *", "dst"}, {"const cpu_set_t *", "src1"}, {"const cpu_set_t *", "src2"}}, Include: "sched.h"},
}

// exceptions cannot be forwarded mechanically; the body is written out.
var exceptions = map[string]macroSig{
	// The second macro argument is a type; untyped data access is the only
	// form a foreign caller can use.
	"rte_pktmbuf_mtod": {
		Return: "void *",
		Args:   []arg{{"struct rte_mbuf *", "m"}},
		Body:   "return rte_pktmbuf_mtod(m, void *);",
	},
	"rte_pktmbuf_mtod_offset": {
		Return: "void *",
		Args:   []arg{{"struct rte_mbuf *", "m"}, {"uint32_t", "off"}},
		Body:   "return rte_pktmbuf_mtod_offset(m, void *, off);",
	},
}

// notCallable records macros triaged as impossible to export as a
// function, with the reason.
var notCallable = map[string]string{
	"rte_panic":                                   "variadic",
	"rte_atomic_load_explicit":                    "type-generic",
	"rte_atomic_store_explicit":                   "type-generic",
	"rte_atomic_exchange_explicit":                "type-generic",
	"rte_atomic_compare_exchange_strong_explicit": "type-generic",
	"rte_atomic_compare_exchange_weak_explicit":   "type-generic",
	"rte_atomic_fetch_add_explicit":               "type-generic",
	"rte_atomic_fetch_sub_explicit":               "type-generic",
	"rte_atomic_fetch_and_explicit":               "type-generic",
	"rte_atomic_fetch_or_explicit":                "type-generic",
	"rte_atomic_fetch_xor_explicit":               "type-generic",
	"rte_atomic_add_fetch_explicit":               "type-generic",
	"rte_atomic_sub_fetch_explicit":               "type-generic",
}

package provider

import (
	"bytes"
	"encoding/binary"
	"math"
	"net/netip"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// MaxMind DB type numbers
const (
	mmdbString = 2
	mmdbDouble = 3
	mmdbUint16 = 5
	mmdbUint32 = 6
	mmdbMap    = 7
	mmdbUint64 = 9
	mmdbArray  = 11
)

// mmdbNetwork maps an IPv4 prefix to the record stored for it
type mmdbNetwork struct {
	prefix string
	record map[string]any
}

type mmdbNode struct {
	children [2]int // child node index, or -1
	data     [2]int // network index, or -1
}

// writeMMDB writes a minimal IPv4 MaxMind DB (24-bit records) and returns its path
// Networks must not overlap
func writeMMDB(t *testing.T, databaseType string, networks ...mmdbNetwork) string {
	t.Helper()

	newNode := func() mmdbNode { return mmdbNode{children: [2]int{-1, -1}, data: [2]int{-1, -1}} }
	nodes := []mmdbNode{newNode()}

	for i, network := range networks {
		prefix := netip.MustParsePrefix(network.prefix)
		addr := prefix.Addr().As4()
		bits := prefix.Bits()

		node := 0
		for depth := 0; depth < bits; depth++ {
			bit := (addr[depth/8] >> (7 - depth%8)) & 1
			if depth == bits-1 {
				nodes[node].data[bit] = i
				break
			}
			if nodes[node].children[bit] < 0 {
				nodes = append(nodes, newNode())
				nodes[node].children[bit] = len(nodes) - 1
			}
			node = nodes[node].children[bit]
		}
	}

	var data bytes.Buffer
	offsets := make([]int, len(networks))
	for i, network := range networks {
		offsets[i] = data.Len()
		mmdbEncode(&data, network.record)
	}

	nodeCount := len(nodes)
	var file bytes.Buffer
	for _, node := range nodes {
		for side := 0; side < 2; side++ {
			value := nodeCount
			switch {
			case node.children[side] >= 0:
				value = node.children[side]
			case node.data[side] >= 0:
				value = nodeCount + 16 + offsets[node.data[side]]
			}
			file.Write([]byte{byte(value >> 16), byte(value >> 8), byte(value)})
		}
	}
	file.Write(make([]byte, 16))
	file.Write(data.Bytes())
	file.WriteString("\xab\xcd\xefMaxMind.com")
	mmdbEncode(&file, map[string]any{
		"binary_format_major_version": uint16(2),
		"binary_format_minor_version": uint16(0),
		"build_epoch":                 uint64(1700000000),
		"database_type":               databaseType,
		"description":                 map[string]any{"en": "test database"},
		"ip_version":                  uint16(4),
		"languages":                   []any{"en"},
		"node_count":                  uint32(nodeCount),
		"record_size":                 uint16(24),
	})

	path := filepath.Join(t.TempDir(), databaseType+".mmdb")
	if err := os.WriteFile(path, file.Bytes(), 0644); err != nil {
		t.Fatalf("failed to write mmdb: %v", err)
	}
	return path
}

// mmdbEncode appends v in the MaxMind DB data section format
func mmdbEncode(buf *bytes.Buffer, v any) {
	switch v := v.(type) {
	case string:
		mmdbControl(buf, mmdbString, len(v))
		buf.WriteString(v)
	case float64:
		mmdbControl(buf, mmdbDouble, 8)
		binary.Write(buf, binary.BigEndian, math.Float64bits(v))
	case uint16:
		mmdbUint(buf, mmdbUint16, uint64(v))
	case uint32:
		mmdbUint(buf, mmdbUint32, uint64(v))
	case uint64:
		mmdbUint(buf, mmdbUint64, v)
	case map[string]any:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		mmdbControl(buf, mmdbMap, len(v))
		for _, key := range keys {
			mmdbEncode(buf, key)
			mmdbEncode(buf, v[key])
		}
	case []any:
		mmdbControl(buf, mmdbArray, len(v))
		for _, item := range v {
			mmdbEncode(buf, item)
		}
	default:
		panic("unsupported mmdb value")
	}
}

// mmdbUint writes an unsigned integer with the minimal number of bytes
func mmdbUint(buf *bytes.Buffer, typ int, v uint64) {
	var b []byte
	for ; v > 0; v >>= 8 {
		b = append([]byte{byte(v)}, b...)
	}
	mmdbControl(buf, typ, len(b))
	buf.Write(b)
}

// mmdbControl writes the control byte, the extended type byte and one size extension byte as needed
func mmdbControl(buf *bytes.Buffer, typ, size int) {
	var ctrl byte
	if typ <= 7 {
		ctrl = byte(typ << 5)
	}

	var sizeExt []byte
	switch {
	case size < 29:
		ctrl |= byte(size)
	case size < 29+256:
		ctrl |= 29
		sizeExt = []byte{byte(size - 29)}
	default:
		panic("mmdb value too large")
	}

	buf.WriteByte(ctrl)
	if typ > 7 {
		buf.WriteByte(byte(typ - 7))
	}
	buf.Write(sizeExt)
}

package monitor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// ModuleInspector flags risky traits in a plugin module before it is
// compiled. Findings are advisory: loading proceeds and the findings
// land in the log and the audit trail for the operator.
type ModuleInspector struct {
	hostNamespace  string
	maxMemoryPages uint32
	maxModuleBytes int
}

// Severity levels for inspection findings.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Detection represents one risky trait found in a module.
type Detection struct {
	Pattern  string `json:"pattern"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// NewModuleInspector creates an inspector with default thresholds.
// hostNamespace is the only import namespace the engine satisfies.
func NewModuleInspector(hostNamespace string) *ModuleInspector {
	return &ModuleInspector{
		hostNamespace:  hostNamespace,
		maxMemoryPages: 256, // one default sandbox memory budget
		maxModuleBytes: 1 << 20,
	}
}

// Analyze walks the module's sections and reports import namespaces
// the engine will not satisfy, oversized memory declarations and other
// traits worth an operator's attention.
func (i *ModuleInspector) Analyze(module []byte) []Detection {
	var detections []Detection

	if len(module) > i.maxModuleBytes {
		detections = append(detections, Detection{
			Pattern:  "large_module",
			Severity: SeverityLow.String(),
			Detail:   fmt.Sprintf("module is %d bytes", len(module)),
		})
	}

	p := &wasmParser{b: module}
	if !p.skipHeader() {
		return append(detections, malformed("missing or invalid header"))
	}
	for {
		id, body, ok := p.nextSection()
		if !ok {
			break
		}
		switch id {
		case 2:
			detections = append(detections, i.inspectImports(body)...)
		case 5:
			detections = append(detections, i.inspectMemories(body)...)
		}
	}
	if p.failed {
		detections = append(detections, malformed(p.reason))
	}

	for _, d := range detections {
		log.Warn().
			Str("pattern", d.Pattern).
			Str("severity", d.Severity).
			Str("detail", d.Detail).
			Msg("risky trait in plugin module")
	}
	return detections
}

func (i *ModuleInspector) inspectImports(body []byte) []Detection {
	p := &wasmParser{b: body}
	count, ok := p.uleb()
	if !ok {
		return []Detection{malformed("unreadable import count")}
	}

	var out []Detection
	seen := make(map[string]bool)
	for n := uint32(0); n < count; n++ {
		mod, ok := p.name()
		if !ok {
			return append(out, malformed("unreadable import module name"))
		}
		if _, ok := p.name(); !ok {
			return append(out, malformed("unreadable import field name"))
		}
		kind, ok := p.readByte()
		if !ok {
			return append(out, malformed("truncated import entry"))
		}
		switch kind {
		case 0x00: // function: type index
			if _, ok := p.uleb(); !ok {
				return append(out, malformed("truncated function import"))
			}
		case 0x01: // table: reftype then limits
			if !p.skip(1) {
				return append(out, malformed("truncated table import"))
			}
			if _, ok := p.limits(); !ok {
				return append(out, malformed("truncated table import"))
			}
		case 0x02: // memory: limits
			if _, ok := p.limits(); !ok {
				return append(out, malformed("truncated memory import"))
			}
		case 0x03: // global: valtype then mutability
			if !p.skip(2) {
				return append(out, malformed("truncated global import"))
			}
		default:
			return append(out, malformed(fmt.Sprintf("unknown import kind %d", kind)))
		}

		if seen[mod] {
			continue
		}
		seen[mod] = true
		switch {
		case strings.HasPrefix(mod, "wasi"):
			out = append(out, Detection{
				Pattern:  "wasi_imports",
				Severity: SeverityHigh.String(),
				Detail:   fmt.Sprintf("imports from %q; the engine provides no system interface", mod),
			})
		case mod == i.hostNamespace:
			// The one namespace the engine instantiates.
		default:
			out = append(out, Detection{
				Pattern:  "foreign_imports",
				Severity: SeverityMedium.String(),
				Detail:   fmt.Sprintf("imports from unknown namespace %q", mod),
			})
		}
	}
	return out
}

func (i *ModuleInspector) inspectMemories(body []byte) []Detection {
	p := &wasmParser{b: body}
	count, ok := p.uleb()
	if !ok {
		return []Detection{malformed("unreadable memory count")}
	}

	var out []Detection
	for n := uint32(0); n < count; n++ {
		minPages, ok := p.limits()
		if !ok {
			return append(out, malformed("unreadable memory limits"))
		}
		if minPages > i.maxMemoryPages {
			out = append(out, Detection{
				Pattern:  "large_memory",
				Severity: SeverityMedium.String(),
				Detail:   fmt.Sprintf("declares %d pages minimum (%d bytes)", minPages, uint64(minPages)*65536),
			})
		}
	}
	return out
}

func malformed(detail string) Detection {
	return Detection{
		Pattern:  "malformed_module",
		Severity: SeverityMedium.String(),
		Detail:   detail,
	}
}

// wasmParser is a forgiving structural reader. It never panics on bad
// input; it records the first failure and stops.
type wasmParser struct {
	b      []byte
	off    int
	failed bool
	reason string
}

func (p *wasmParser) skipHeader() bool {
	if len(p.b) < 8 || !bytes.Equal(p.b[:4], []byte{0x00, 0x61, 0x73, 0x6d}) {
		return false
	}
	p.off = 8
	return true
}

func (p *wasmParser) nextSection() (byte, []byte, bool) {
	if p.failed || p.off >= len(p.b) {
		return 0, nil, false
	}
	id := p.b[p.off]
	p.off++
	size, ok := p.uleb()
	if !ok {
		p.fail("unreadable section size")
		return 0, nil, false
	}
	if p.off+int(size) > len(p.b) {
		p.fail(fmt.Sprintf("section %d overruns module", id))
		return 0, nil, false
	}
	body := p.b[p.off : p.off+int(size)]
	p.off += int(size)
	return id, body, true
}

func (p *wasmParser) uleb() (uint32, bool) {
	var v uint32
	var shift uint
	for p.off < len(p.b) {
		c := p.b[p.off]
		p.off++
		v |= uint32(c&0x7f) << shift
		if c&0x80 == 0 {
			return v, true
		}
		shift += 7
		if shift > 28 {
			return 0, false
		}
	}
	return 0, false
}

func (p *wasmParser) name() (string, bool) {
	n, ok := p.uleb()
	if !ok || p.off+int(n) > len(p.b) {
		return "", false
	}
	s := string(p.b[p.off : p.off+int(n)])
	p.off += int(n)
	return s, true
}

func (p *wasmParser) readByte() (byte, bool) {
	if p.off >= len(p.b) {
		return 0, false
	}
	c := p.b[p.off]
	p.off++
	return c, true
}

func (p *wasmParser) limits() (uint32, bool) {
	flag, ok := p.readByte()
	if !ok {
		return 0, false
	}
	min, ok := p.uleb()
	if !ok {
		return 0, false
	}
	if flag&0x01 != 0 {
		if _, ok := p.uleb(); !ok {
			return 0, false
		}
	}
	return min, true
}

func (p *wasmParser) skip(n int) bool {
	if p.off+n > len(p.b) {
		return false
	}
	p.off += n
	return true
}

func (p *wasmParser) fail(reason string) {
	p.failed = true
	p.reason = reason
}

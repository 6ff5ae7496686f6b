package accounting

import (
	"bufio"
	"context"
	"io"
	"os"
	"strconv"
	"strings"
)

// Counters aggregates conntrack byte/packet counts for one session, one
// client, or the whole engine. "In" is the orig direction (client to
// world); "out" is the reply direction (world to client).
type Counters struct {
	BytesIn    uint64
	BytesOut   uint64
	PacketsIn  uint64
	PacketsOut uint64
}

func (c *Counters) add(o Counters) {
	c.BytesIn += o.BytesIn
	c.BytesOut += o.BytesOut
	c.PacketsIn += o.PacketsIn
	c.PacketsOut += o.PacketsOut
}

// ConntrackReader reads kernel connection-tracking counters, keyed by
// conntrack mark. A real implementation parses /proc/net/nf_conntrack;
// tests inject a synthetic implementation.
type ConntrackReader interface {
	// ReadByMark returns aggregated counters for every conntrack entry
	// whose mark is in marks, keyed by mark.
	ReadByMark(ctx context.Context, marks []uint16) (map[uint16]Counters, error)
}

// procConntrackReader reads both address families' live conntrack
// tables from procfs, replacing the popen()/system() probing this
// subsystem's predecessor used with direct kernel-interface inspection.
type procConntrackReader struct {
	paths []string
}

// NewProcConntrackReader returns a ConntrackReader backed by the
// kernel's IPv4 and IPv6 conntrack tables.
func NewProcConntrackReader() ConntrackReader {
	return &procConntrackReader{
		paths: []string{"/proc/net/nf_conntrack"},
	}
}

func (r *procConntrackReader) ReadByMark(ctx context.Context, marks []uint16) (map[uint16]Counters, error) {
	want := make(map[uint16]struct{}, len(marks))
	for _, m := range marks {
		want[m] = struct{}{}
	}

	out := make(map[uint16]Counters, len(marks))
	for _, path := range r.paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := scanConntrackFile(path, want, out); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
	}
	return out, nil
}

func scanConntrackFile(path string, want map[uint16]struct{}, out map[uint16]Counters) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		mark, counters, ok := parseConntrackLine(scanner.Text())
		if !ok {
			continue
		}
		if _, wanted := want[mark]; !wanted {
			continue
		}
		acc := out[mark]
		acc.add(counters)
		out[mark] = acc
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// parseConntrackLine extracts the conntrack mark and both directions'
// packet/byte counters from one line of /proc/net/nf_conntrack. The
// line carries two "packets="/"bytes=" pairs: the first belongs to the
// original-direction tuple (in: client->world), the second to the reply
// tuple (out: world->client).
func parseConntrackLine(line string) (mark uint16, c Counters, ok bool) {
	fields := strings.Fields(line)

	var markFound bool
	pairIndex := 0
	for _, f := range fields {
		switch {
		case strings.HasPrefix(f, "mark="):
			v, err := strconv.ParseUint(f[len("mark="):], 10, 32)
			if err != nil {
				return 0, Counters{}, false
			}
			mark = uint16(v)
			markFound = true
		case strings.HasPrefix(f, "packets="):
			v, err := strconv.ParseUint(f[len("packets="):], 10, 64)
			if err != nil {
				continue
			}
			if pairIndex == 0 {
				c.PacketsIn = v
			} else {
				c.PacketsOut = v
			}
		case strings.HasPrefix(f, "bytes="):
			v, err := strconv.ParseUint(f[len("bytes="):], 10, 64)
			if err != nil {
				continue
			}
			if pairIndex == 0 {
				c.BytesIn = v
				pairIndex = 1
			} else {
				c.BytesOut = v
			}
		}
	}
	if !markFound || mark == 0 {
		return 0, Counters{}, false
	}
	return mark, c, true
}

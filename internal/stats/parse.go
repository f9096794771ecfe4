package stats

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
)

// ParseElapsed converts an elapsed-time token to seconds. Accepted forms,
// tried in order: SS, MM:SS, HH:MM:SS and D-HH:MM:SS. Fractional seconds
// are truncated.
func ParseElapsed(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty elapsed time")
	}

	var days int64
	if d, rest, ok := strings.Cut(s, "-"); ok {
		v, err := parseUint(d)
		if err != nil {
			return 0, fmt.Errorf("elapsed %q: bad days: %w", s, err)
		}
		days = v
		s = rest
		if strings.Count(s, ":") != 2 {
			return 0, fmt.Errorf("elapsed %q: day form needs HH:MM:SS", s)
		}
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("elapsed %q: too many fields", s)
	}
	var total int64
	for i, p := range parts {
		if i == len(parts)-1 {
			p, _, _ = strings.Cut(p, ".")
		}
		v, err := parseUint(p)
		if err != nil {
			return 0, fmt.Errorf("elapsed %q: %w", s, err)
		}
		total = total*60 + v
	}
	return days*86400 + total, nil
}

func parseUint(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty field")
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("negative field %d", v)
	}
	return v, nil
}

// procStatus holds the fields used from /proc/<pid>/status.
type procStatus struct {
	rssKB   int64
	threads int
}

func parseProcStatus(data string) (procStatus, error) {
	var st procStatus
	var haveRSS, haveThreads bool
	sc := bufio.NewScanner(strings.NewReader(data))
	for sc.Scan() {
		key, val, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		fields := strings.Fields(val)
		if len(fields) == 0 {
			continue
		}
		switch key {
		case "VmRSS":
			v, err := strconv.ParseInt(fields[0], 10, 64)
			if err != nil {
				return st, fmt.Errorf("VmRSS: %w", err)
			}
			st.rssKB, haveRSS = v, true
		case "Threads":
			v, err := strconv.Atoi(fields[0])
			if err != nil {
				return st, fmt.Errorf("threads: %w", err)
			}
			st.threads, haveThreads = v, true
		}
	}
	if err := sc.Err(); err != nil {
		return st, err
	}
	// Kernel threads have no VmRSS line.
	if !haveRSS && !haveThreads {
		return st, fmt.Errorf("status has neither VmRSS nor Threads")
	}
	return st, nil
}

// procStat holds the fields used from /proc/<pid>/stat.
type procStat struct {
	utime      uint64
	stime      uint64
	numThreads int
	startTicks uint64
}

// parseProcStat parses a /proc/<pid>/stat record. The comm field may
// contain spaces and parentheses, so fields are counted from the last ')'.
func parseProcStat(data string) (procStat, error) {
	var st procStat
	end := strings.LastIndexByte(data, ')')
	if end < 0 {
		return st, fmt.Errorf("stat: missing comm terminator")
	}
	// fields[0] is field 3 (state) in proc(5) numbering.
	fields := strings.Fields(data[end+1:])
	if len(fields) < 20 {
		return st, fmt.Errorf("stat: %d fields after comm, want at least 20", len(fields))
	}
	var err error
	if st.utime, err = strconv.ParseUint(fields[11], 10, 64); err != nil {
		return st, fmt.Errorf("stat utime: %w", err)
	}
	if st.stime, err = strconv.ParseUint(fields[12], 10, 64); err != nil {
		return st, fmt.Errorf("stat stime: %w", err)
	}
	if st.numThreads, err = strconv.Atoi(fields[17]); err != nil {
		return st, fmt.Errorf("stat num_threads: %w", err)
	}
	if st.startTicks, err = strconv.ParseUint(fields[19], 10, 64); err != nil {
		return st, fmt.Errorf("stat starttime: %w", err)
	}
	return st, nil
}

// parseUptime returns the first value of /proc/uptime in seconds.
func parseUptime(data string) (float64, error) {
	fields := strings.Fields(data)
	if len(fields) == 0 {
		return 0, fmt.Errorf("uptime: empty")
	}
	return strconv.ParseFloat(fields[0], 64)
}

// psRow is one data row of `ps -o pcpu,rss,etime[,nlwp]`.
type psRow struct {
	cpu     float64
	rssKB   int64
	elapsed int64
	threads int
}

// parsePSOutput parses header-plus-one-row ps output. columns is 3 when
// the thread column was not requested and 4 when it was.
func parsePSOutput(out string, columns int) (psRow, error) {
	var row psRow
	lines := nonBlankLines(out)
	if len(lines) < 2 {
		return row, fmt.Errorf("ps: expected header and one row, got %d lines", len(lines))
	}
	fields := strings.Fields(lines[1])
	if len(fields) != columns {
		return row, fmt.Errorf("ps: got %d columns, want %d", len(fields), columns)
	}
	var err error
	if row.cpu, err = strconv.ParseFloat(fields[0], 64); err != nil {
		return row, fmt.Errorf("ps cpu: %w", err)
	}
	if row.rssKB, err = strconv.ParseInt(fields[1], 10, 64); err != nil {
		return row, fmt.Errorf("ps rss: %w", err)
	}
	if row.elapsed, err = ParseElapsed(fields[2]); err != nil {
		return row, err
	}
	if columns > 3 {
		if row.threads, err = strconv.Atoi(fields[3]); err != nil {
			return row, fmt.Errorf("ps threads: %w", err)
		}
	}
	return row, nil
}

// countPSThreads counts the thread rows of `ps -M -p <pid>` output.
func countPSThreads(out string) (int, error) {
	lines := nonBlankLines(out)
	if len(lines) < 2 {
		return 0, fmt.Errorf("ps -M: no thread rows")
	}
	return len(lines) - 1, nil
}

// wmicRow is the data row of the Win32_PerfFormattedData_PerfProc_Process query.
type wmicRow struct {
	cpu         float64
	memoryBytes float64
	elapsed     int64
	threads     int
}

// parseWMICCSV parses `wmic ... /format:csv` output. Blank lines are
// skipped, the first remaining line is the header (starting with the Node
// column) and the next one is data. Columns are looked up by name since
// wmic orders them alphabetically. ElapsedTime is seconds; ElapsedTimeMs,
// when present instead, is milliseconds.
func parseWMICCSV(out string) (wmicRow, error) {
	var row wmicRow
	lines := nonBlankLines(out)
	if len(lines) < 2 {
		return row, fmt.Errorf("wmic: expected header and one row, got %d lines", len(lines))
	}
	r := csv.NewReader(strings.NewReader(lines[0] + "\n" + lines[1] + "\n"))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return row, fmt.Errorf("wmic header: %w", err)
	}
	data, err := r.Read()
	if err != nil {
		return row, fmt.Errorf("wmic row: %w", err)
	}
	if len(data) != len(header) {
		return row, fmt.Errorf("wmic: %d values for %d columns", len(data), len(header))
	}
	col := make(map[string]string, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = strings.TrimSpace(data[i])
	}

	num := func(name string) (float64, error) {
		v, ok := col[name]
		if !ok {
			return 0, fmt.Errorf("wmic: missing column %s", name)
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("wmic %s: %w", name, err)
		}
		return f, nil
	}

	if row.cpu, err = num("PercentProcessorTime"); err != nil {
		return row, err
	}
	if row.memoryBytes, err = num("WorkingSetPrivate"); err != nil {
		return row, err
	}
	threads, err := num("ThreadCount")
	if err != nil {
		return row, err
	}
	row.threads = int(threads)

	if _, ok := col["ElapsedTimeMs"]; ok {
		ms, err := num("ElapsedTimeMs")
		if err != nil {
			return row, err
		}
		row.elapsed = int64(ms) / 1000
	} else {
		secs, err := num("ElapsedTime")
		if err != nil {
			return row, err
		}
		row.elapsed = int64(secs)
	}
	return row, nil
}

func nonBlankLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		l = strings.TrimRight(l, "\r")
		if strings.TrimSpace(l) == "" {
			continue
		}
		out = append(out, l)
	}
	return out
}

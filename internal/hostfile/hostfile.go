// Package hostfile parses operator-supplied host lists into HostEntry
// records. The engine itself accepts already-parsed entries; this package is
// the loader collaborator the UI layer calls.
package hostfile

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/fleetexec/fleetexec/internal/models"

	"github.com/xuri/excelize/v2"
)

// Parse dispatches on the file extension: .txt, .csv, .xlsx/.xls.
func Parse(data []byte, extension string) ([]models.HostEntry, error) {
	switch strings.ToLower(strings.TrimPrefix(extension, ".")) {
	case "txt":
		return ParseTxt(data)
	case "csv":
		return ParseCSV(data)
	case "xlsx", "xls":
		return ParseXLSX(data)
	default:
		return nil, fmt.Errorf("unsupported host file format: %s", extension)
	}
}

// ParseTxt reads one host per line: ip[:port] [label] [k=v ...].
// Blank lines and #-comments are skipped.
func ParseTxt(data []byte) ([]models.HostEntry, error) {
	var hosts []models.HostEntry
	for lineNo, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		entry, err := parseAddress(fields[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo+1, err)
		}

		for _, f := range fields[1:] {
			if k, v, ok := strings.Cut(f, "="); ok {
				if entry.Metadata == nil {
					entry.Metadata = make(map[string]string)
				}
				entry.Metadata[k] = v
			} else if entry.Hostname == "" {
				entry.Hostname = f
			}
		}
		hosts = append(hosts, entry)
	}
	if len(hosts) == 0 {
		return nil, fmt.Errorf("no hosts found")
	}
	return hosts, nil
}

// ParseCSV reads a header row with at least an "ip" column. Optional "port"
// and "hostname" columns map to their fields; every other column becomes
// metadata.
func ParseCSV(data []byte) ([]models.HostEntry, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return fromRows(rows)
}

// ParseXLSX reads the first sheet; the first row is the header.
func ParseXLSX(data []byte) ([]models.HostEntry, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	return fromRows(rows)
}

func fromRows(rows [][]string) ([]models.HostEntry, error) {
	if len(rows) < 2 {
		return nil, fmt.Errorf("no data rows")
	}

	header := make([]string, len(rows[0]))
	ipCol := -1
	for i, h := range rows[0] {
		header[i] = strings.ToLower(strings.TrimSpace(h))
		if header[i] == "ip" {
			ipCol = i
		}
	}
	if ipCol < 0 {
		return nil, fmt.Errorf("missing required column: ip")
	}

	var hosts []models.HostEntry
	for rowNo, row := range rows[1:] {
		if len(row) <= ipCol || strings.TrimSpace(row[ipCol]) == "" {
			continue
		}

		entry, err := parseAddress(strings.TrimSpace(row[ipCol]))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", rowNo+2, err)
		}

		for i, cell := range row {
			if i == ipCol || i >= len(header) {
				continue
			}
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			switch header[i] {
			case "port":
				port, err := strconv.Atoi(cell)
				if err != nil || port < 1 || port > 65535 {
					return nil, fmt.Errorf("row %d: invalid port %q", rowNo+2, cell)
				}
				entry.Port = port
			case "hostname", "label", "name":
				entry.Hostname = cell
			default:
				if entry.Metadata == nil {
					entry.Metadata = make(map[string]string)
				}
				entry.Metadata[header[i]] = cell
			}
		}
		hosts = append(hosts, entry)
	}
	if len(hosts) == 0 {
		return nil, fmt.Errorf("no hosts found")
	}
	return hosts, nil
}

// parseAddress splits an optional :port suffix off an address. IPv6 literals
// pass through unless bracketed ([::1]:22).
func parseAddress(addr string) (models.HostEntry, error) {
	host := addr
	port := 0

	if strings.HasPrefix(addr, "[") {
		// Bracketed IPv6 with optional port.
		end := strings.Index(addr, "]")
		if end < 0 {
			return models.HostEntry{}, fmt.Errorf("unterminated IPv6 literal %q", addr)
		}
		host = addr[1:end]
		if rest := addr[end+1:]; rest != "" {
			if !strings.HasPrefix(rest, ":") {
				return models.HostEntry{}, fmt.Errorf("malformed address %q", addr)
			}
			p, err := parsePort(rest[1:])
			if err != nil {
				return models.HostEntry{}, fmt.Errorf("address %q: %w", addr, err)
			}
			port = p
		}
	} else if strings.Count(addr, ":") == 1 {
		h, portStr, _ := strings.Cut(addr, ":")
		p, err := parsePort(portStr)
		if err != nil {
			return models.HostEntry{}, fmt.Errorf("address %q: %w", addr, err)
		}
		host, port = h, p
	}

	if host == "" {
		return models.HostEntry{}, fmt.Errorf("empty host in %q", addr)
	}
	if looksLikeIPv4(host) && !validIPv4(host) {
		return models.HostEntry{}, fmt.Errorf("invalid IPv4 address %q", host)
	}
	return models.HostEntry{IP: host, Port: port}, nil
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil || p < 1 || p > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return p, nil
}

// looksLikeIPv4 is a cheap shape check so DNS names skip octet validation.
func looksLikeIPv4(s string) bool {
	dots := 0
	for _, r := range s {
		switch {
		case r == '.':
			dots++
		case r < '0' || r > '9':
			return false
		}
	}
	return dots == 3
}

// validIPv4 enforces 0-255 octets with no leading zeros.
func validIPv4(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, part := range parts {
		if part == "" || len(part) > 3 {
			return false
		}
		if len(part) > 1 && part[0] == '0' {
			return false
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 255 {
			return false
		}
	}
	return true
}

// Package bankdir resolves German bank codes (BLZ) from a directory in
// the blz.properties format:
//
//	BLZ=Name|City|BIC|CheckMethod|HBCIHost|PinTanURL|HBCIVersion|PinTanVersion
//
// Trailing fields may be missing. A sample directory is embedded.
package bankdir

import (
	"bufio"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/boddenberg/hbci-session-go/internal/domain"
)

//go:embed blz.properties
var embedded string

// Directory is an immutable, in-memory bank directory.
type Directory struct {
	banks map[string]domain.Bank
	codes []string // sorted
}

// Default returns the embedded directory.
func Default() (*Directory, error) {
	return Parse(strings.NewReader(embedded))
}

// Open reads a directory file. An empty path selects the embedded one.
func Open(path string) (*Directory, error) {
	if path == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bank directory: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a directory. Blank lines and lines starting with '#' or '!'
// are skipped; a later entry for the same BLZ replaces an earlier one.
func Parse(r io.Reader) (*Directory, error) {
	d := &Directory{banks: make(map[string]domain.Bank)}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' || line[0] == '!' {
			continue
		}
		bank, err := parseEntry(line)
		if err != nil {
			return nil, fmt.Errorf("bank directory line %d: %w", lineNo, err)
		}
		if _, dup := d.banks[bank.BLZ]; !dup {
			d.codes = append(d.codes, bank.BLZ)
		}
		d.banks[bank.BLZ] = bank
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read bank directory: %w", err)
	}

	sort.Strings(d.codes)
	return d, nil
}

func parseEntry(line string) (domain.Bank, error) {
	blz, rest, ok := strings.Cut(line, "=")
	blz = strings.TrimSpace(blz)
	if !ok || blz == "" {
		return domain.Bank{}, &domain.ErrValidation{Field: "blz", Message: fmt.Sprintf("malformed entry %q", line)}
	}

	var f [8]string
	copy(f[:], strings.Split(rest, "|"))
	for i := range f {
		f[i] = strings.TrimSpace(f[i])
	}

	return domain.Bank{
		BLZ:           blz,
		Name:          f[0],
		City:          f[1],
		BIC:           f[2],
		CheckMethod:   f[3],
		HBCIHost:      f[4],
		PinTanURL:     f[5],
		HBCIVersion:   f[6],
		PinTanVersion: f[7],
	}, nil
}

// Len returns the number of banks.
func (d *Directory) Len() int {
	return len(d.codes)
}

// Lookup returns the bank registered under blz.
func (d *Directory) Lookup(blz string) (*domain.Bank, error) {
	bank, ok := d.banks[blz]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "bank", ID: blz}
	}
	return &bank, nil
}

// NameForBLZ returns the bank name, or "" for an unknown BLZ.
func (d *Directory) NameForBLZ(blz string) string {
	return d.banks[blz].Name
}

// PinTanURLForBLZ returns the PIN/TAN endpoint, or "" when unknown.
func (d *Directory) PinTanURLForBLZ(blz string) string {
	return d.banks[blz].PinTanURL
}

// ForEach calls fn for every bank in ascending BLZ order.
func (d *Directory) ForEach(fn func(bank domain.Bank)) {
	for _, code := range d.codes {
		fn(d.banks[code])
	}
}

package batch

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Structure is one ligand structure read from an input file.
type Structure struct {
	// ID is the ligand identifier: the molecule name from the record, or
	// "<file>!<index>" when the record carries no name.
	ID string
	// Ext is the source format extension (".sdf" or ".mol2").
	Ext string
	// Lines are the raw record lines, terminator included.
	Lines []string
}

const (
	sdfTerminator  = "$$$$"
	mol2Terminator = "@<TRIPOS>MOLECULE"
)

// ReadStructures reads every ligand structure under path in deterministic
// order. Path may be a single file or a directory walked with sorted file
// names. Plain and gzip-compressed SDF and MOL2 files are supported.
func ReadStructures(path string) ([]Structure, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("ligand path: %w", err)
	}
	var files []string
	if info.IsDir() {
		err := filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !fi.IsDir() && supportedLigandFile(p) {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		sort.Strings(files)
	} else {
		files = []string{path}
	}

	var all []Structure
	for _, f := range files {
		structs, err := readLigandFile(f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f, err)
		}
		all = append(all, structs...)
	}
	return all, nil
}

func supportedLigandFile(path string) bool {
	name := strings.TrimSuffix(filepath.Base(path), ".gz")
	switch filepath.Ext(name) {
	case ".sd", ".sdf", ".mol2":
		return true
	}
	return false
}

func readLigandFile(path string) ([]Structure, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	name := filepath.Base(path)
	if strings.HasSuffix(name, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
		name = strings.TrimSuffix(name, ".gz")
	}

	switch filepath.Ext(name) {
	case ".mol2":
		return readMOL2(r, name)
	default:
		return readSDF(r, name)
	}
}

// readSDF splits a multi-structure SDF stream on the $$$$ terminator.
func readSDF(r io.Reader, name string) ([]Structure, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var (
		out   []Structure
		lines []string
	)
	for scanner.Scan() {
		line := scanner.Text()
		lines = append(lines, line)
		if strings.HasPrefix(line, sdfTerminator) {
			out = append(out, Structure{
				ID:    sdfName(lines, name, len(out)),
				Ext:   ".sdf",
				Lines: lines,
			})
			lines = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	// A trailing record without a terminator is still a structure.
	if len(lines) > 0 && !blankLines(lines) {
		lines = append(lines, sdfTerminator)
		out = append(out, Structure{
			ID:    sdfName(lines, name, len(out)),
			Ext:   ".sdf",
			Lines: lines,
		})
	}
	return out, nil
}

func sdfName(lines []string, file string, index int) string {
	if len(lines) > 0 && strings.TrimSpace(lines[0]) != "" {
		return strings.TrimSpace(lines[0])
	}
	return fmt.Sprintf("%s!%d", file, index)
}

// readMOL2 splits a multi-structure MOL2 stream on the molecule record
// header. MOL2 has no terminator, so a structure runs until the next
// header or end of stream.
func readMOL2(r io.Reader, name string) ([]Structure, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var (
		out   []Structure
		lines []string
	)
	flush := func() {
		if len(lines) == 0 || blankLines(lines) {
			lines = nil
			return
		}
		out = append(out, Structure{
			ID:    mol2Name(lines, name, len(out)),
			Ext:   ".mol2",
			Lines: lines,
		})
		lines = nil
	}
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, mol2Terminator) && len(lines) > 0 {
			flush()
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()
	return out, nil
}

func mol2Name(lines []string, file string, index int) string {
	for i, line := range lines {
		if strings.Contains(line, mol2Terminator) && i+1 < len(lines) {
			if name := strings.TrimSpace(lines[i+1]); name != "" {
				return name
			}
			break
		}
	}
	return fmt.Sprintf("%s!%d", file, index)
}

func blankLines(lines []string) bool {
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			return false
		}
	}
	return true
}

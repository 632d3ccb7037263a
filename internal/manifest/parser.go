package manifest

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

var (
	sectionRe = regexp.MustCompile(`^\[(\w+)\]$`)
	keyValRe  = regexp.MustCompile(`^    ([^=\s]+)=(.*)$`)
	itemRe    = regexp.MustCompile(`^    (\S.*)$`)
)

// Parser reads manifests written by Emitter.
type Parser struct {
	r io.Reader
}

// NewParser creates a new manifest parser.
func NewParser(r io.Reader) *Parser {
	return &Parser{r: r}
}

// Parse reads a manifest. Unknown sections are ignored.
func (p *Parser) Parse() (*Info, error) {
	info := &Info{
		Settings: make(map[string]string),
		Options:  make(map[string]string),
	}
	section := ""
	seenPackage := false

	scanner := bufio.NewScanner(p.r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), " \t\r")

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if matches := sectionRe.FindStringSubmatch(line); matches != nil {
			section = matches[1]
			if section == "package" {
				seenPackage = true
			}
			continue
		}

		switch section {
		case "package", "settings", "options":
			matches := keyValRe.FindStringSubmatch(line)
			if matches == nil {
				return nil, fmt.Errorf("manifest line %d: expected key=value in [%s], got %q", lineNo, section, line)
			}
			key, value := matches[1], matches[2]
			switch section {
			case "package":
				switch key {
				case "name":
					info.Name = value
				case "version":
					info.Version = value
				case "package_id":
					info.PackageID = value
				}
			case "settings":
				info.Settings[key] = value
			case "options":
				info.Options[key] = value
			}
		case "requires", "libs":
			matches := itemRe.FindStringSubmatch(line)
			if matches == nil {
				return nil, fmt.Errorf("manifest line %d: expected indented entry in [%s], got %q", lineNo, section, line)
			}
			if section == "requires" {
				info.Requires = append(info.Requires, matches[1])
			} else {
				info.Libs = append(info.Libs, matches[1])
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	if !seenPackage || info.Name == "" {
		return nil, fmt.Errorf("manifest has no [package] name")
	}
	return info, nil
}

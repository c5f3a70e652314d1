package autolabel

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadLabels reads a label or vocabulary text file containing one entry
// per line.  The detection engine uses this for its tokenizer vocab and
// exporters use it for class lists.
func LoadLabels(file string) ([]string, error) {

	// open the file
	f, err := os.Open(file)

	if err != nil {
		return nil, fmt.Errorf("error opening file: %w", err)
	}

	defer f.Close()

	// create a scanner to read the file.
	scanner := bufio.NewScanner(f)

	var labels []string

	// read and trim each line
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		labels = append(labels, line)
	}

	// check for errors during scanning
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}

	return labels, nil
}

// ParsePrompt splits a free text comma separated class list into
// individual lowercased class names, dropping empty entries
func ParsePrompt(prompt string) []string {

	parts := strings.Split(prompt, ",")
	classes := make([]string, 0, len(parts))

	for _, p := range parts {
		name := strings.ToLower(strings.TrimSpace(p))

		if name == "" {
			continue
		}

		classes = append(classes, name)
	}

	return classes
}

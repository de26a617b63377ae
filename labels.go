package nutrivision

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// LoadLabels reads the class labels the Model was trained on from the given
// text file.  It should contain one label per line, blank lines are skipped
func LoadLabels(file string) ([]string, error) {

	f, err := os.Open(file)

	if err != nil {
		return nil, &AssetError{Path: file, Err: fmt.Errorf("error opening labels: %w", err)}
	}

	defer f.Close()

	scanner := bufio.NewScanner(f)

	var labels []string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" {
			continue
		}

		labels = append(labels, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, &AssetError{Path: file, Err: fmt.Errorf("error reading labels: %w", err)}
	}

	return labels, nil
}

// checkLabels warns when the number of labels differs from the class count,
// classes without a label are reported as class_<id>
func checkLabels(labels []string, classNum int, log *zap.Logger) {

	if len(labels) != classNum {
		log.Warn("label count does not match model classes",
			zap.Int("labels", len(labels)),
			zap.Int("classes", classNum),
		)
	}
}

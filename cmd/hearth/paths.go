package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

const envModelsDir = "HEARTH_MODELS_DIR"

// modelExtensions are the descriptor files the toy backend reads.
var modelExtensions = []string{".yaml", ".yml"}

// stdinIsTTY is a seam for tests.
var stdinIsTTY = isTTY

// resolveModelPath picks the model to load. An explicit path wins; otherwise
// the models directory (flag, then HEARTH_MODELS_DIR) is searched. With no
// directory at all the empty path selects the backend's builtin model.
func resolveModelPath(modelFlag, modelsDir string, stdin io.Reader, stderr io.Writer) (string, error) {
	if p := strings.TrimSpace(modelFlag); p != "" {
		return filepath.Clean(p), nil
	}
	dir := strings.TrimSpace(modelsDir)
	if dir == "" {
		dir = strings.TrimSpace(os.Getenv(envModelsDir))
	}
	if dir == "" {
		return "", nil
	}

	models, err := discoverModels(dir)
	if err != nil {
		return "", err
	}
	switch len(models) {
	case 0:
		return "", fmt.Errorf("no models found in %s", dir)
	case 1:
		_, _ = fmt.Fprintf(stderr, "using model %s\n", models[0])
		return models[0], nil
	}
	if !stdinIsTTY() {
		return "", fmt.Errorf("multiple models found in %s but stdin is not interactive; set --model", dir)
	}
	return selectModel(dir, models, stdin, stderr)
}

func discoverModels(dir string) ([]string, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("models path is not a directory: %s", dir)
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var models []string
	for _, e := range ents {
		if e.IsDir() || !slices.Contains(modelExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			continue
		}
		models = append(models, filepath.Join(dir, e.Name()))
	}
	slices.Sort(models)
	return models, nil
}

func selectModel(dir string, models []string, stdin io.Reader, stderr io.Writer) (string, error) {
	_, _ = fmt.Fprintf(stderr, "select a model from %s\n", dir)
	for i, m := range models {
		_, _ = fmt.Fprintf(stderr, "%d. %s\n", i+1, displayName(dir, m))
	}

	reader := bufio.NewReader(stdin)
	for {
		_, _ = fmt.Fprintf(stderr, "selection [1-%d]: ", len(models))
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		eof := errors.Is(err, io.EOF)
		line = strings.TrimSpace(line)
		if line == "" {
			if eof {
				return "", errors.New("no selection provided on stdin; set --model")
			}
			continue
		}
		idx, convErr := strconv.Atoi(line)
		if convErr == nil && idx >= 1 && idx <= len(models) {
			return models[idx-1], nil
		}
		_, _ = fmt.Fprintf(stderr, "invalid selection %q\n", line)
		if eof {
			return "", errors.New("invalid selection provided on stdin; set --model")
		}
	}
}

func displayName(dir, path string) string {
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." {
		return filepath.Base(path)
	}
	return rel
}

func isTTY() bool {
	st, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return st.Mode()&os.ModeCharDevice != 0
}

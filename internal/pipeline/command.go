package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sammy/pagelift/internal/domain"
	"github.com/sammy/pagelift/internal/logger"
)

// CommandExtractor invokes the extraction pipeline as an external command:
//
//	<command> <inputPath> <outputDir>
//
// Progress is read from the command's stdout, one "PROGRESS <current> <total>"
// line per page, and the result artifact is picked up from outputDir after
// the command exits.
type CommandExtractor struct {
	command string
	args    []string
}

// NewCommandExtractor creates an extractor that shells out to command.
// Parameters:
//   - command: executable plus leading arguments, whitespace separated.
// Returns:
//   - *CommandExtractor: initialized extractor.
func NewCommandExtractor(command string) *CommandExtractor {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return &CommandExtractor{}
	}
	return &CommandExtractor{command: parts[0], args: parts[1:]}
}

// Ready reports whether the configured command resolves to an executable.
func (e *CommandExtractor) Ready() bool {
	if e.command == "" {
		return false
	}
	_, err := exec.LookPath(e.command)
	return err == nil
}

// Extract runs the external command and loads its result artifact.
func (e *CommandExtractor) Extract(ctx context.Context, inputPath, outputDir string, progress ProgressFunc) (*domain.ExtractionResult, error) {
	if e.command == "" {
		return nil, fmt.Errorf("no extractor command configured")
	}

	args := append(append([]string{}, e.args...), inputPath, outputDir)
	cmd := exec.CommandContext(ctx, e.command, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open extractor stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start extractor: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		current, total, ok := parseProgressLine(scanner.Text())
		if ok && progress != nil {
			progress(current, total)
		}
	}

	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("extractor failed: %w", err)
	}

	resultPath := filepath.Join(outputDir, ResultFilename(inputPath))
	result, err := LoadResult(resultPath)
	if err != nil {
		return nil, err
	}
	logger.CtxDebug(ctx, "Extractor produced %d pages, %d components", result.TotalPages, result.TotalComponents)
	return result, nil
}

// parseProgressLine decodes a "PROGRESS <current> <total>" stdout line.
func parseProgressLine(line string) (current, total int, ok bool) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) != 3 || fields[0] != "PROGRESS" {
		return 0, 0, false
	}
	current, err1 := strconv.Atoi(fields[1])
	total, err2 := strconv.Atoi(fields[2])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return current, total, true
}

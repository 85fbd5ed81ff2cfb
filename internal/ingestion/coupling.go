package ingestion

import (
	"bufio"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/dendrite-docs/dendrite/internal/graph"
)

const (
	coChangeMonths      = 6
	coChangeMinStrength = 0.3
	coChangeMinCommits  = 3
)

// AnalyzeCoChange mines git history for source files that change together
// and reports the class pairs behind them. Pairs below the strength or
// commit-count thresholds are dropped. Repos without git history produce no
// insights and no error.
func AnalyzeCoChange(g *graph.KnowledgeGraph, repoPath string) []Insight {
	changes, err := parseGitLog(repoPath, coChangeMonths)
	if err != nil || len(changes) == 0 {
		return nil
	}

	matrix := buildCoChangeMatrix(changes)

	totalChanges := make(map[string]int)
	for _, commit := range changes {
		for _, file := range commit {
			totalChanges[file]++
		}
	}

	classesByFile := make(map[string][]*graph.GraphNode)
	for _, class := range g.GetNodesByLabel(graph.NodeClass) {
		classesByFile[class.FilePath] = append(classesByFile[class.FilePath], class)
	}

	var insights []Insight
	for fileA, coChanges := range matrix {
		for fileB, count := range coChanges {
			if fileA >= fileB {
				continue // each pair once
			}
			strength := computeCouplingStrength(count, totalChanges[fileA], totalChanges[fileB])
			if strength < coChangeMinStrength || count < coChangeMinCommits {
				continue
			}

			classesA := classesByFile[fileA]
			classesB := classesByFile[fileB]
			if len(classesA) == 0 || len(classesB) == 0 {
				continue
			}

			var names []string
			for _, c := range classesA {
				names = append(names, c.QualifiedName)
			}
			for _, c := range classesB {
				names = append(names, c.QualifiedName)
			}
			sort.Strings(names)

			insights = append(insights, Insight{
				Kind:     "co_change",
				Severity: SeverityInfo,
				Title:    fmt.Sprintf("%s and %s change together", fileA, fileB),
				Detail: fmt.Sprintf("changed together in %d commits over the last %d months (strength %.2f)",
					count, coChangeMonths, strength),
				Classes: names,
			})
		}
	}

	sort.Slice(insights, func(i, j int) bool {
		return insights[i].Title < insights[j].Title
	})
	return insights
}

// parseGitLog parses git log for the last N months.
// Returns a list of commits, where each commit is a list of changed files.
func parseGitLog(repoPath string, months int) ([][]string, error) {
	cmd := exec.Command("git", "log",
		fmt.Sprintf("--since=%d months ago", months),
		"--name-only",
		"--pretty=format:COMMIT:%H")
	cmd.Dir = repoPath

	output, err := cmd.Output()
	if err != nil {
		return nil, err
	}

	var changes [][]string
	var currentCommit []string

	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "COMMIT:") {
			if len(currentCommit) > 0 {
				changes = append(changes, currentCommit)
			}
			currentCommit = []string{}
		} else {
			currentCommit = append(currentCommit, line)
		}
	}
	if len(currentCommit) > 0 {
		changes = append(changes, currentCommit)
	}

	return changes, scanner.Err()
}

// buildCoChangeMatrix builds a matrix of file co-changes.
// Returns map[fileA]map[fileB]count
func buildCoChangeMatrix(changes [][]string) map[string]map[string]int {
	matrix := make(map[string]map[string]int)

	for _, commit := range changes {
		for i := 0; i < len(commit); i++ {
			for j := i + 1; j < len(commit); j++ {
				fileA := commit[i]
				fileB := commit[j]

				if matrix[fileA] == nil {
					matrix[fileA] = make(map[string]int)
				}
				if matrix[fileB] == nil {
					matrix[fileB] = make(map[string]int)
				}

				matrix[fileA][fileB]++
				matrix[fileB][fileA]++
			}
		}
	}

	return matrix
}

// computeCouplingStrength calculates the coupling strength between two files.
// Formula: co_changes / max(total_changes_A, total_changes_B)
func computeCouplingStrength(coChanges, totalA, totalB int) float64 {
	if totalA == 0 || totalB == 0 {
		return 0.0
	}
	maxTotal := totalA
	if totalB > maxTotal {
		maxTotal = totalB
	}
	return float64(coChanges) / float64(maxTotal)
}

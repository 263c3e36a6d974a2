package workflow

import (
	"context"
	"slices"
	"strings"

	"github.com/rinawarp/cmdintel/internal/workspace"
)

// ProjectType is an inferred project type with the confidence of the
// signal that produced it.
type ProjectType struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	Signal     string  `json:"signal,omitempty"`
}

// ProjectInfo is the result of DetectProjectType.
type ProjectInfo struct {
	ProjectType
	Patterns []Pattern `json:"patterns"`
}

type dependencyRule struct {
	dependency string
	projType   string
	confidence float64
}

// Checked in order; the first matching rule wins.
var dependencyRules = []dependencyRule{
	{dependency: "react", projType: "react", confidence: 0.8},
	{dependency: "vue", projType: "vue", confidence: 0.8},
	{dependency: "@angular/core", projType: "angular", confidence: 0.8},
	{dependency: "express", projType: "express", confidence: 0.7},
}

var databaseServices = []string{"postgres", "mysql"}

const (
	databaseConfidence = 0.6
	markerConfidence   = 0.5
)

// InferProjectType maps a snapshot to a coarse project type. Dependency
// names are strongest, then database services in the compose file, then
// filesystem markers.
func InferProjectType(c *workspace.Context) ProjectType {
	if c == nil {
		return ProjectType{}
	}
	if c.Package != nil {
		for _, r := range dependencyRules {
			if slices.Contains(c.Package.Dependencies, r.dependency) {
				return ProjectType{Type: r.projType, Confidence: r.confidence, Signal: "dependency:" + r.dependency}
			}
		}
	}
	if c.Docker != nil {
		for _, name := range append(slices.Clone(c.Docker.Services), c.Docker.Containers...) {
			lower := strings.ToLower(name)
			for _, db := range databaseServices {
				if strings.Contains(lower, db) {
					return ProjectType{Type: "database", Confidence: databaseConfidence, Signal: "compose:" + name}
				}
			}
		}
	}
	if len(c.ProjectTypes) > 0 {
		return ProjectType{Type: c.ProjectTypes[0], Confidence: markerConfidence, Signal: "marker"}
	}
	return ProjectType{}
}

// DetectProjectType infers the project type of dir and returns the stored
// patterns recorded in projects of the same type.
func (g *Graph) DetectProjectType(ctx context.Context, dir string) ProjectInfo {
	info := ProjectInfo{Patterns: []Pattern{}}
	wctx := g.snapshot(ctx, dir)
	if wctx == nil {
		return info
	}
	info.ProjectType = InferProjectType(wctx)
	if info.Type == "" {
		return info
	}

	patterns, err := g.Patterns(ctx)
	if err != nil {
		g.logger.Warn("detect project type failed", "op", "scan", "error", err)
		return info
	}
	for _, p := range patterns {
		if p.Context.ProjectType == info.Type {
			info.Patterns = append(info.Patterns, p)
		}
	}
	return info
}

package workspace

import (
	"fmt"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

var composeFiles = []string{
	"compose.yaml",
	"compose.yml",
	"docker-compose.yaml",
	"docker-compose.yml",
}

type composeFile struct {
	Services map[string]struct {
		ContainerName string `yaml:"container_name"`
		Image         string `yaml:"image"`
	} `yaml:"services"`
}

// detectCompose reads the first compose file in dir. Containers are the
// explicit container_name values, falling back to the service name.
func detectCompose(dir string) (*DockerInfo, error) {
	for _, name := range composeFiles {
		path := filepath.Join(dir, name)
		if !fileExists(path) {
			continue
		}
		data, err := readManifest(path)
		if err != nil {
			return nil, err
		}
		var cf composeFile
		if err := yaml.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}

		info := &DockerInfo{}
		for svc, def := range cf.Services {
			info.Services = append(info.Services, svc)
			container := def.ContainerName
			if container == "" {
				container = svc
			}
			info.Containers = append(info.Containers, container)
		}
		sort.Strings(info.Services)
		sort.Strings(info.Containers)
		return info, nil
	}

	if fileExists(filepath.Join(dir, "Dockerfile")) {
		return &DockerInfo{}, nil
	}
	return nil, nil
}

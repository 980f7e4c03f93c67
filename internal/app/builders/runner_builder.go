// Package builders maps daemon configuration onto constructed components.
// Keeping the mapping here keeps Initialize readable and the construction
// logic testable without a full app.
package builders

import (
	"github.com/aatumaykin/tfreaper/internal/config"
	"github.com/aatumaykin/tfreaper/internal/executor"
)

// BuildRunner selects the execution backend: a throwaway Docker container
// when [docker] is enabled, a local subprocess otherwise.
func BuildRunner(cfg *config.Config) (executor.Runner, error) {
	if cfg.Docker.Enabled {
		return executor.NewDockerRunner(executor.DockerRunnerConfig{
			Image:       cfg.Docker.Image,
			PullPolicy:  cfg.Docker.PullPolicy,
			GracePeriod: cfg.Executor.Grace(),
		})
	}

	return &executor.LocalRunner{GracePeriod: cfg.Executor.Grace()}, nil
}

package modelserver

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Runtime manages the named long-running process that serves embeddings.
// The production implementation shells out to the docker CLI; tests use a
// fake.
type Runtime interface {
	// IsRunning reports whether the named process currently runs.
	IsRunning(ctx context.Context, name string) (bool, error)
	// ImageExists reports whether the build artifact is present locally.
	ImageExists(ctx context.Context, name string) (bool, error)
	// BuildImage builds the artifact from the given source directory.
	BuildImage(ctx context.Context, name, dir string) error
	// CreateAndStart creates the process bound to the given port and starts it.
	CreateAndStart(ctx context.Context, name string, port int) error
	// StopAndRemove stops the named process and removes it.
	StopAndRemove(ctx context.Context, name string) error
}

// DockerRuntime implements Runtime over the docker CLI.
type DockerRuntime struct{}

func (DockerRuntime) IsRunning(ctx context.Context, name string) (bool, error) {
	out, err := exec.CommandContext(ctx, "docker", "inspect", "-f", "{{.State.Running}}", name).Output()
	if err != nil {
		// No such container counts as not running.
		return false, nil
	}
	return strings.TrimSpace(string(out)) == "true", nil
}

func (DockerRuntime) ImageExists(ctx context.Context, name string) (bool, error) {
	err := exec.CommandContext(ctx, "docker", "image", "inspect", name+":latest").Run()
	return err == nil, nil
}

func (DockerRuntime) BuildImage(ctx context.Context, name, dir string) error {
	cmd := exec.CommandContext(ctx, "docker", "build", "-t", name+":latest", dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("docker build %s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (DockerRuntime) CreateAndStart(ctx context.Context, name string, port int) error {
	p := strconv.Itoa(port)
	cmd := exec.CommandContext(ctx, "docker", "run", "-d",
		"--name", name,
		"-p", p+":"+p,
		name+":latest")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("docker run %s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (DockerRuntime) StopAndRemove(ctx context.Context, name string) error {
	if out, err := exec.CommandContext(ctx, "docker", "stop", name).CombinedOutput(); err != nil {
		return fmt.Errorf("docker stop %s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	if out, err := exec.CommandContext(ctx, "docker", "rm", name).CombinedOutput(); err != nil {
		return fmt.Errorf("docker rm %s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Command stratum-dev manages the CouchDB container used for local
// development of Stratum.
//
// Usage:
//
//	# Start development environment
//	go run ./cmd/stratum-dev start
//
//	# Stop development environment
//	go run ./cmd/stratum-dev stop
//
//	# Remove development environment (including volumes)
//	go run ./cmd/stratum-dev remove
//
//	# Check status
//	go run ./cmd/stratum-dev status
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"eve.evalgo.org/common"
)

const (
	stackName     = "stratum-dev"
	containerName = "stratum-dev-couchdb"
	volumeName    = "stratum-dev-couchdb-data"
	couchImage    = "couchdb:3.3"
	couchUser     = "admin"
	couchPassword = "stratum-dev-password"
	dockerSocket  = "unix:///var/run/docker.sock"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cli, err := common.CtxCli(dockerSocket)
	if err != nil {
		log.Fatalf("Failed to connect to Docker: %v", err)
	}
	defer cli.Close()

	switch command := os.Args[1]; command {
	case "start":
		err = startStack(ctx, cli)
	case "stop":
		err = stopStack(ctx, cli)
	case "remove":
		err = removeStack(ctx, cli)
	case "status":
		err = statusStack(ctx, cli)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func printUsage() {
	fmt.Println("Stratum Development Environment Manager")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  stratum-dev start   - Start development environment")
	fmt.Println("  stratum-dev stop    - Stop development environment")
	fmt.Println("  stratum-dev remove  - Remove development environment (including volumes)")
	fmt.Println("  stratum-dev status  - Check status of development environment")
}

// findContainer returns the dev container, or nil when it does not exist.
func findContainer(ctx context.Context, cli *dockerclient.Client) (*container.Summary, error) {
	list, err := cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", "stack="+stackName)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	for i := range list {
		for _, name := range list[i].Names {
			if name == "/"+containerName {
				return &list[i], nil
			}
		}
	}
	return nil, nil
}

func startStack(ctx context.Context, cli *dockerclient.Client) error {
	log.Println("🚀 Starting Stratum development environment...")

	existing, err := findContainer(ctx, cli)
	if err != nil {
		return err
	}

	id := ""
	if existing != nil {
		id = existing.ID
	} else {
		if _, _, err := cli.ImageInspectWithRaw(ctx, couchImage); err != nil {
			log.Printf("Pulling %s...", couchImage)
			reader, err := cli.ImagePull(ctx, couchImage, image.PullOptions{})
			if err != nil {
				return fmt.Errorf("failed to pull image: %w", err)
			}
			_, err = io.Copy(io.Discard, reader)
			reader.Close()
			if err != nil {
				return fmt.Errorf("failed to pull image: %w", err)
			}
		}

		port, err := nat.NewPort("tcp", "5984")
		if err != nil {
			return err
		}
		resp, err := cli.ContainerCreate(ctx,
			&container.Config{
				Image:        couchImage,
				Env:          []string{"COUCHDB_USER=" + couchUser, "COUCHDB_PASSWORD=" + couchPassword},
				ExposedPorts: nat.PortSet{port: struct{}{}},
				Labels:       map[string]string{"stack": stackName},
			},
			&container.HostConfig{
				PortBindings:  nat.PortMap{port: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: "5984"}}},
				RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
				Mounts: []mount.Mount{{
					Type:   mount.TypeVolume,
					Source: volumeName,
					Target: "/opt/couchdb/data",
				}},
			},
			nil, nil, containerName)
		if err != nil {
			return fmt.Errorf("failed to create container: %w", err)
		}
		id = resp.ID
	}

	if err := cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}

	log.Println("✅ Development environment started successfully!")
	log.Println()
	log.Println("CouchDB:")
	log.Println("  - UI:  http://localhost:5984/_utils")
	log.Println("  - API: http://localhost:5984")
	log.Printf("  - Credentials: %s / %s", couchUser, couchPassword)
	log.Println()
	log.Println("Point the server at it with:")
	log.Println("  CG_COUCHDB_URL=http://localhost:5984 CG_COUCHDB_USERNAME=admin \\")
	log.Printf("  CG_COUCHDB_PASSWORD=%s stratum server", couchPassword)
	return nil
}

func stopStack(ctx context.Context, cli *dockerclient.Client) error {
	log.Println("🛑 Stopping Stratum development environment...")

	existing, err := findContainer(ctx, cli)
	if err != nil {
		return err
	}
	if existing == nil {
		log.Println("Development environment is not running")
		return nil
	}
	if err := common.ContainerStop(ctx, cli, existing.ID, 10); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}

	log.Println("✅ Development environment stopped")
	return nil
}

func removeStack(ctx context.Context, cli *dockerclient.Client) error {
	log.Println("🗑️  Removing Stratum development environment...")

	existing, err := findContainer(ctx, cli)
	if err != nil {
		return err
	}
	if existing != nil {
		if err := cli.ContainerRemove(ctx, existing.ID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
			return fmt.Errorf("failed to remove container: %w", err)
		}
	}
	if err := cli.VolumeRemove(ctx, volumeName, true); err != nil && !dockerclient.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove volume: %w", err)
	}

	log.Println("✅ Development environment removed (including data volumes)")
	return nil
}

func statusStack(ctx context.Context, cli *dockerclient.Client) error {
	existing, err := findContainer(ctx, cli)
	if err != nil {
		return err
	}
	if existing == nil {
		fmt.Println("Development environment does not exist. Run: stratum-dev start")
		return nil
	}

	fmt.Printf("Container: %s (%s)\n", containerName, existing.ID[:12])
	fmt.Printf("Image:     %s\n", existing.Image)
	fmt.Printf("State:     %s\n", existing.State)
	fmt.Printf("Status:    %s\n", existing.Status)
	return nil
}

package testutil

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DockerContainer represents a Docker container used for testing
type DockerContainer struct {
	ID        string
	Name      string
	Type      string
	Port      string
	HostPort  string
	StartedAt time.Time
}

// StartRedisContainer starts a Redis container for testing
func StartRedisContainer(ctx context.Context) (*DockerContainer, error) {
	containerName := fmt.Sprintf("simex-redis-test-%d", time.Now().Unix())
	hostPort := "6380"

	cmd := exec.CommandContext(ctx, "docker", "run", "--rm", "-d",
		"--name", containerName,
		"-p", hostPort+":6379",
		"redis:alpine")

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("failed to start Redis container: %w, output: %s", err, output)
	}

	container := &DockerContainer{
		ID:        strings.TrimSpace(string(output)),
		Name:      containerName,
		Type:      "redis",
		Port:      "6379",
		HostPort:  hostPort,
		StartedAt: time.Now(),
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("localhost:%s", hostPort),
	})
	defer redisClient.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for {
		select {
		case <-pingCtx.Done():
			_ = container.Stop(ctx)
			return nil, fmt.Errorf("timed out waiting for Redis to be ready")
		default:
			if _, err := redisClient.Ping(pingCtx).Result(); err == nil {
				return container, nil
			}
			time.Sleep(500 * time.Millisecond)
		}
	}
}

// StartKafkaContainer starts a Kafka container for testing and creates
// the fill-events topic once the broker answers.
func StartKafkaContainer(ctx context.Context) (*DockerContainer, error) {
	containerName := fmt.Sprintf("simex-kafka-test-%d", time.Now().Unix())
	hostPort := "9092"

	zookeeperName := fmt.Sprintf("simex-zookeeper-test-%d", time.Now().Unix())
	zkCmd := exec.CommandContext(ctx, "docker", "run", "--rm", "-d",
		"--name", zookeeperName,
		"-e", "ZOOKEEPER_CLIENT_PORT=2181",
		"confluentinc/cp-zookeeper:latest")

	output, err := zkCmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("failed to start Zookeeper container: %w, output: %s", err, output)
	}
	zookeeperID := strings.TrimSpace(string(output))

	cmd := exec.CommandContext(ctx, "docker", "run", "--rm", "-d",
		"--name", containerName,
		"--link", zookeeperName+":zookeeper",
		"-p", hostPort+":9092",
		"-e", "KAFKA_ZOOKEEPER_CONNECT=zookeeper:2181",
		"-e", "KAFKA_ADVERTISED_LISTENERS=PLAINTEXT://localhost:"+hostPort,
		"-e", "KAFKA_OFFSETS_TOPIC_REPLICATION_FACTOR=1",
		"confluentinc/cp-kafka:latest")

	output, err = cmd.CombinedOutput()
	if err != nil {
		_ = exec.CommandContext(ctx, "docker", "rm", "-f", zookeeperID).Run()
		return nil, fmt.Errorf("failed to start Kafka container: %w, output: %s", err, output)
	}

	container := &DockerContainer{
		ID:        strings.TrimSpace(string(output)),
		Name:      containerName,
		Type:      "kafka",
		Port:      "9092",
		HostPort:  hostPort,
		StartedAt: time.Now(),
	}

	for i := 0; i < 40; i++ {
		select {
		case <-ctx.Done():
			_ = exec.CommandContext(context.Background(), "docker", "rm", "-f", zookeeperID).Run()
			_ = container.Stop(context.Background())
			return nil, ctx.Err()
		default:
			createTopicCmd := exec.CommandContext(
				ctx,
				"docker", "exec", containerName,
				"kafka-topics", "--create",
				"--bootstrap-server", "localhost:9092",
				"--replication-factor", "1",
				"--partitions", "1",
				"--topic", "fill-events",
			)
			if err := createTopicCmd.Run(); err == nil {
				return container, nil
			}
			time.Sleep(1 * time.Second)
		}
	}

	_ = exec.CommandContext(context.Background(), "docker", "rm", "-f", zookeeperID).Run()
	_ = container.Stop(context.Background())
	return nil, fmt.Errorf("timed out waiting for Kafka to be ready")
}

// Stop stops and removes the Docker container
func (c *DockerContainer) Stop(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "docker", "rm", "-f", c.ID)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to stop container %s: %w, output: %s", c.ID, err, output)
	}

	// A Kafka container has a linked Zookeeper that needs cleanup too.
	if c.Type == "kafka" {
		cmd := exec.CommandContext(ctx, "docker", "ps", "-a", "--filter", "name=simex-zookeeper-test", "--format", "{{.ID}}")
		output, err := cmd.CombinedOutput()
		if err == nil && len(output) > 0 {
			for _, zkID := range strings.Fields(string(output)) {
				_ = exec.CommandContext(ctx, "docker", "rm", "-f", strings.TrimSpace(zkID)).Run()
			}
		}
	}

	return nil
}

// WithRedisOnly starts a Redis container, runs the test against it, and
// removes the container afterwards. The test is skipped when Docker is
// not available.
func WithRedisOnly(t interface {
	Helper()
	Skip(args ...interface{})
	Cleanup(f func())
	Errorf(format string, args ...interface{})
}, testFunc func(redisAddr string)) {
	ctx := context.Background()

	redisContainer, err := StartRedisContainer(ctx)
	if err != nil {
		t.Skip("Skipping test: could not start Redis container:", err)
		return
	}
	t.Cleanup(func() {
		_ = redisContainer.Stop(context.Background())
	})

	testFunc(fmt.Sprintf("localhost:%s", redisContainer.HostPort))
}

// WithTestDependencies starts Redis and Kafka containers, runs the test
// against both, and removes the containers afterwards.
func WithTestDependencies(t interface {
	Helper()
	Skip(args ...interface{})
	Cleanup(f func())
	Errorf(format string, args ...interface{})
}, testFunc func(redisAddr, kafkaAddr string)) {
	ctx := context.Background()

	redisContainer, err := StartRedisContainer(ctx)
	if err != nil {
		t.Skip("Skipping test: could not start Redis container:", err)
		return
	}

	kafkaContainer, err := StartKafkaContainer(ctx)
	if err != nil {
		_ = redisContainer.Stop(ctx)
		t.Skip("Skipping test: could not start Kafka container:", err)
		return
	}

	t.Cleanup(func() {
		_ = redisContainer.Stop(context.Background())
		_ = kafkaContainer.Stop(context.Background())
	})

	testFunc(
		fmt.Sprintf("localhost:%s", redisContainer.HostPort),
		fmt.Sprintf("localhost:%s", kafkaContainer.HostPort),
	)
}

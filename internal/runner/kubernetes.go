package runner

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/SecurityAnalysts/reproserver/internal/platform/env"
	"github.com/SecurityAnalysts/reproserver/internal/platform/k8s"
	"github.com/SecurityAnalysts/reproserver/internal/repo"
	"github.com/SecurityAnalysts/reproserver/internal/shortids"
)

// Config describes the execution backend Job template.
type Config struct {
	Namespace      string
	Image          string
	ServiceAccount string
}

// ConfigFromEnv reads the runner settings. An empty image means no backend
// is configured and the caller should fall back to the LoggingRunner.
func ConfigFromEnv() Config {
	return Config{
		Namespace:      env.String("REPROSERVER_RUNNER_NAMESPACE", ""),
		Image:          env.String("REPROSERVER_RUNNER_IMAGE", ""),
		ServiceAccount: env.String("REPROSERVER_RUNNER_SERVICE_ACCOUNT", ""),
	}
}

func (c Config) Validate() error {
	if c.Image == "" {
		return errors.New("runner image is required")
	}
	return nil
}

// KubernetesRunner submits each run as a batch Job. The Job's container
// receives the run id and its token and drives the run from there; this
// service never tracks Job completion.
type KubernetesRunner struct {
	client *k8s.Client
	runs   repo.RunStore
	cfg    Config
}

func NewKubernetesRunner(client *k8s.Client, runs repo.RunStore, cfg Config) (*KubernetesRunner, error) {
	if client == nil {
		return nil, errors.New("kubernetes client is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Namespace == "" {
		cfg.Namespace = client.Namespace()
	}
	return &KubernetesRunner{client: client, runs: runs, cfg: cfg}, nil
}

func (r *KubernetesRunner) Submit(ctx context.Context, runID int64) error {
	run, err := r.runs.Get(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run %d: %w", runID, err)
	}

	backoff := int32(0)
	ttl := int32(3600)
	job := k8s.Job{
		APIVersion: "batch/v1",
		Kind:       "Job",
		Metadata: k8s.ObjectMeta{
			Name:      JobName(runID),
			Namespace: r.cfg.Namespace,
			Labels:    map[string]string{"app": "reproserver-run"},
		},
		Spec: k8s.JobSpec{
			BackoffLimit:            &backoff,
			TTLSecondsAfterFinished: &ttl,
			Template: k8s.PodTemplateSpec{
				Metadata: k8s.ObjectMeta{
					Labels: map[string]string{"app": "reproserver-run"},
				},
				Spec: k8s.PodSpec{
					RestartPolicy:      "Never",
					ServiceAccountName: r.cfg.ServiceAccount,
					Containers: []k8s.Container{{
						Name:  "runner",
						Image: r.cfg.Image,
						Args:  []string{strconv.FormatInt(runID, 10)},
						Env: []k8s.EnvVar{
							{Name: "RUN_ID", Value: strconv.FormatInt(runID, 10)},
							{Name: "RUN_TOKEN", Value: run.Token},
						},
					}},
				},
			},
		},
	}

	err = r.client.CreateJob(ctx, r.cfg.Namespace, job)
	if err == k8s.ErrAlreadyExists {
		// A retried submission for the same run reuses the existing Job.
		return nil
	}
	if err != nil {
		return fmt.Errorf("create job for run %d: %w", runID, err)
	}
	return nil
}

// JobName derives the Job name from the run id. Short id tokens are
// lowercase base32, which fits the DNS-label rules Job names must follow.
func JobName(runID int64) string {
	return "run-" + shortids.Encode(runID)
}

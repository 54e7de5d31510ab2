package exec

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/nemanja-m/casbatch/internal/coordinator/core"
	"github.com/nemanja-m/casbatch/internal/shared/config"
	"github.com/nemanja-m/casbatch/internal/shared/logging"
)

const (
	BackendKubernetes = "kubernetes"

	gpuResource    = corev1.ResourceName("nvidia.com/gpu")
	attemptLabel   = "casbatch.io/attempt"
	jobIDLabel     = "casbatch.io/job-id"
	containerName  = "convert"
	defaultPolling = 10 * time.Second
)

// Pod status reasons that mean the node was taken away from the attempt.
var disruptionReasons = map[string]bool{
	"Evicted":    true,
	"Preempting": true,
	"Shutdown":   true,
	"Terminated": true,
	"NodeLost":   true,
}

func init() {
	mustRegister(BackendKubernetes, func(cfg config.ExecutorConfig, logger logging.Logger) (core.ContextProvider, error) {
		restCfg, err := restConfig(cfg.Kubernetes.Kubeconfig)
		if err != nil {
			return nil, err
		}
		client, err := kubernetes.NewForConfig(restCfg)
		if err != nil {
			return nil, fmt.Errorf("clientset: %w", err)
		}
		return NewKubernetesProvider(client, cfg, logger)
	})
}

func restConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("kubeconfig %s: %w", kubeconfig, err)
		}
		return cfg, nil
	}
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("in-cluster config: %w", err)
	}
	return cfg, nil
}

// KubernetesProvider runs each attempt as its own batch/v1 Job.
type KubernetesProvider struct {
	client         kubernetes.Interface
	namespace      string
	image          string
	cuda           bool
	serviceAccount string
	pollInterval   time.Duration
	logger         logging.Logger
}

func NewKubernetesProvider(client kubernetes.Interface, cfg config.ExecutorConfig, logger logging.Logger) (*KubernetesProvider, error) {
	image := cfg.Image()
	if image == "" {
		return nil, fmt.Errorf("no image configured for variant %q", cfg.ImageVariant)
	}
	poll := cfg.Kubernetes.PollInterval
	if poll <= 0 {
		poll = defaultPolling
	}
	namespace := cfg.Kubernetes.Namespace
	if namespace == "" {
		namespace = metav1.NamespaceDefault
	}
	return &KubernetesProvider{
		client:         client,
		namespace:      namespace,
		image:          image,
		cuda:           cfg.ImageVariant == "cuda",
		serviceAccount: cfg.Kubernetes.ServiceAccount,
		pollInterval:   poll,
		logger:         logger,
	}, nil
}

func (p *KubernetesProvider) Name() string {
	return BackendKubernetes
}

func (p *KubernetesProvider) Acquire(ctx context.Context, desc *core.JobDescriptor, shape core.ResourceShape) (core.ExecutionContext, error) {
	name := "casbatch-" + desc.ID.String()[:8] + "-" + uuid.NewString()[:8]
	job := p.JobSpec(name, shape, desc)

	_, err := p.client.BatchV1().Jobs(p.namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		if apierrors.IsInvalid(err) || apierrors.IsForbidden(err) {
			return nil, fmt.Errorf("create job %s: %w: %w", name, core.ErrPermanent, err)
		}
		return nil, fmt.Errorf("create job %s: %w", name, err)
	}
	p.logger.Debug("Created Kubernetes job", "namespace", p.namespace, "name", name, "image", p.image)

	return &kubernetesContext{provider: p, name: name}, nil
}

// JobSpec builds the single-pod, never-restarting Job of one attempt.
func (p *KubernetesProvider) JobSpec(name string, shape core.ResourceShape, desc *core.JobDescriptor) *batchv1.Job {
	resources := corev1.ResourceList{
		corev1.ResourceCPU:              resource.MustParse(fmt.Sprintf("%d", shape.CPU)),
		corev1.ResourceMemory:           resource.MustParse(fmt.Sprintf("%dGi", shape.MemoryGB)),
		corev1.ResourceEphemeralStorage: resource.MustParse(fmt.Sprintf("%dGi", shape.BootDiskGB)),
	}
	if p.cuda {
		resources[gpuResource] = resource.MustParse("1")
	}

	container := corev1.Container{
		Name:  containerName,
		Image: p.image,
		Env: []corev1.EnvVar{
			{Name: "CASBATCH_JOB_ID", Value: desc.ID.String()},
		},
		Resources: corev1.ResourceRequirements{
			Limits:   resources,
			Requests: resources.DeepCopy(),
		},
	}
	if desc.Template != nil && desc.Template.Program != "" {
		container.Command = []string{desc.Template.Program}
		container.Args = append(append([]string{}, desc.Template.Args...), desc.Args()...)
	} else {
		container.Args = containerCommand(desc)
	}

	labels := map[string]string{
		"app":        "casbatch",
		attemptLabel: name,
		jobIDLabel:   desc.ID.String(),
	}
	backoff := int32(0)

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: p.namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoff,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					RestartPolicy:      corev1.RestartPolicyNever,
					ServiceAccountName: p.serviceAccount,
					Containers:         []corev1.Container{container},
				},
			},
		},
	}
}

type kubernetesContext struct {
	provider *KubernetesProvider
	name     string
}

func (c *kubernetesContext) ID() string {
	return c.name
}

// Run polls the Job until it completes or fails. API errors other than
// the Job being gone are retried on the next tick.
func (c *kubernetesContext) Run(ctx context.Context, desc *core.JobDescriptor) (core.AttemptResult, error) {
	ticker := time.NewTicker(c.provider.pollInterval)
	defer ticker.Stop()

	for {
		result, done, err := c.poll(ctx)
		switch {
		case err == nil && done:
			return result, nil
		case err != nil && (apierrors.IsNotFound(err) || ctx.Err() != nil):
			return core.AttemptResult{}, err
		case err != nil:
			c.provider.logger.Warn("Failed to poll job, retrying", "context_id", c.name, "error", err)
		}
		select {
		case <-ctx.Done():
			return core.AttemptResult{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *kubernetesContext) poll(ctx context.Context) (core.AttemptResult, bool, error) {
	p := c.provider
	job, err := p.client.BatchV1().Jobs(p.namespace).Get(ctx, c.name, metav1.GetOptions{})
	if err != nil {
		return core.AttemptResult{}, false, fmt.Errorf("get job %s: %w", c.name, err)
	}

	for _, cond := range job.Status.Conditions {
		if cond.Status != corev1.ConditionTrue {
			continue
		}
		switch cond.Type {
		case batchv1.JobComplete:
			return core.AttemptResult{Status: core.AttemptSucceeded}, true, nil
		case batchv1.JobFailed:
			result, err := c.inspectFailure(ctx, cond.Message)
			return result, true, err
		}
	}
	return core.AttemptResult{}, false, nil
}

// inspectFailure looks at the attempt's pod to tell a disruption from a
// program failure.
func (c *kubernetesContext) inspectFailure(ctx context.Context, jobMessage string) (core.AttemptResult, error) {
	p := c.provider
	pods, err := p.client.CoreV1().Pods(p.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: attemptLabel + "=" + c.name,
	})
	if err != nil {
		return core.AttemptResult{}, fmt.Errorf("list pods of job %s: %w", c.name, err)
	}

	result := core.AttemptResult{Status: core.AttemptFailed, ExitCode: -1, Message: jobMessage}
	for _, pod := range pods.Items {
		if podDisrupted(&pod) {
			return core.AttemptResult{
				Status:   core.AttemptPreempted,
				ExitCode: -1,
				Message:  fmt.Sprintf("pod %s disrupted: %s", pod.Name, pod.Status.Reason),
			}, nil
		}
		for _, status := range pod.Status.ContainerStatuses {
			if term := status.State.Terminated; term != nil && status.Name == containerName {
				result.ExitCode = int(term.ExitCode)
				if term.Message != "" {
					result.Message = term.Message
				} else if term.Reason != "" {
					result.Message = term.Reason
				}
			}
		}
	}
	return result, nil
}

func podDisrupted(pod *corev1.Pod) bool {
	if disruptionReasons[pod.Status.Reason] {
		return true
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.DisruptionTarget && cond.Status == corev1.ConditionTrue {
			return true
		}
	}
	return false
}

func (c *kubernetesContext) Release(ctx context.Context) error {
	propagation := metav1.DeletePropagationBackground
	err := c.provider.client.BatchV1().Jobs(c.provider.namespace).Delete(ctx, c.name, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("delete job %s: %w", c.name, err)
	}
	return nil
}

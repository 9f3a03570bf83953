package providers

import (
	"context"
	"fmt"
	"sort"
	"strings"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/codeready-toolchain/tarka/pkg/models"
)

// Kube is the Kubernetes capability: read-only snapshots of pods, workloads,
// jobs, events, and owner-chain resolution.
type Kube interface {
	Pod(ctx context.Context, namespace, name string) (*models.PodSnapshot, models.Availability)
	Workload(ctx context.Context, namespace, kind, name string) (*models.WorkloadSnapshot, models.Availability)
	Job(ctx context.Context, namespace, name string) (*models.JobSnapshot, models.Availability)
	Events(ctx context.Context, namespace, objectName string) ([]models.EventRecord, models.Availability)

	// ResolveOwner walks ownerReferences from a pod up to the owning
	// workload (ReplicaSet hops to its Deployment).
	ResolveOwner(ctx context.Context, namespace, pod string) (kind, name string, avail models.Availability)

	// PodsForJob lists pods created by a Job, newest first. Returns empty
	// when the pods have been garbage-collected.
	PodsForJob(ctx context.Context, namespace, job string) ([]string, models.Availability)
}

// KubeProvider implements Kube against a typed clientset.
type KubeProvider struct {
	client kubernetes.Interface
}

// NewKubeProvider builds a provider from a kubeconfig path, or in-cluster
// config when the path is empty.
func NewKubeProvider(kubeconfig string) (*KubeProvider, error) {
	var (
		cfg *rest.Config
		err error
	)
	if kubeconfig != "" {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	} else {
		cfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("building kubernetes config: %w", err)
	}
	client, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes clientset: %w", err)
	}
	return &KubeProvider{client: client}, nil
}

// NewKubeProviderFromClient wraps an existing clientset (used in tests with
// the fake clientset).
func NewKubeProviderFromClient(client kubernetes.Interface) *KubeProvider {
	return &KubeProvider{client: client}
}

// classifyKubeError maps apimachinery status errors to surface reasons.
func classifyKubeError(err error) models.Availability {
	switch {
	case apierrors.IsNotFound(err):
		return models.AvailUnavailable(ReasonNotFound)
	case apierrors.IsForbidden(err) || apierrors.IsUnauthorized(err):
		return models.AvailUnavailable(ReasonForbidden)
	case apierrors.IsTimeout(err) || apierrors.IsServerTimeout(err):
		return models.AvailUnavailable(ReasonTimeout)
	case apierrors.IsTooManyRequests(err):
		return models.AvailUnavailable(ReasonThrottled)
	default:
		return classifyError(err)
	}
}

// Pod implements Kube.
func (p *KubeProvider) Pod(ctx context.Context, namespace, name string) (*models.PodSnapshot, models.Availability) {
	pod, err := p.client.CoreV1().Pods(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, classifyKubeError(err)
	}
	return podSnapshot(pod), models.AvailOK()
}

func podSnapshot(pod *corev1.Pod) *models.PodSnapshot {
	snap := &models.PodSnapshot{
		Name:      pod.Name,
		Namespace: pod.Namespace,
		NodeName:  pod.Spec.NodeName,
		Phase:     string(pod.Status.Phase),
		CreatedAt: pod.CreationTimestamp.Time,
		QOSClass:  string(pod.Status.QOSClass),
	}
	if ref := controllerOwner(pod.OwnerReferences); ref != nil {
		snap.OwnerKind = ref.Kind
		snap.OwnerName = ref.Name
	}
	for _, c := range pod.Status.Conditions {
		snap.Conditions = append(snap.Conditions, models.PodCondition{
			Type:    string(c.Type),
			Status:  string(c.Status),
			Reason:  c.Reason,
			Message: c.Message,
		})
	}
	specByName := make(map[string]corev1.Container, len(pod.Spec.Containers))
	for _, c := range pod.Spec.Containers {
		specByName[c.Name] = c
	}
	for _, cs := range pod.Status.ContainerStatuses {
		state := models.ContainerState{
			Name:         cs.Name,
			Image:        cs.Image,
			Ready:        cs.Ready,
			RestartCount: cs.RestartCount,
		}
		switch {
		case cs.State.Running != nil:
			state.State = "running"
		case cs.State.Waiting != nil:
			state.State = "waiting"
			state.Reason = cs.State.Waiting.Reason
			state.Message = cs.State.Waiting.Message
		case cs.State.Terminated != nil:
			state.State = "terminated"
			state.Reason = cs.State.Terminated.Reason
			state.Message = cs.State.Terminated.Message
			code := cs.State.Terminated.ExitCode
			state.ExitCode = &code
		}
		if lt := cs.LastTerminationState.Terminated; lt != nil {
			state.LastTerminatedReason = lt.Reason
			code := lt.ExitCode
			state.LastExitCode = &code
		}
		if spec, ok := specByName[cs.Name]; ok {
			if mem := spec.Resources.Limits.Memory(); mem != nil {
				state.MemoryLimitBytes = mem.Value()
			}
			if mem := spec.Resources.Requests.Memory(); mem != nil {
				state.MemoryRequestBytes = mem.Value()
			}
			if cpu := spec.Resources.Limits.Cpu(); cpu != nil {
				state.CPULimitMilli = cpu.MilliValue()
			}
			if cpu := spec.Resources.Requests.Cpu(); cpu != nil {
				state.CPURequestMilli = cpu.MilliValue()
			}
		}
		snap.Containers = append(snap.Containers, state)
	}
	return snap
}

func controllerOwner(refs []metav1.OwnerReference) *metav1.OwnerReference {
	for i := range refs {
		if refs[i].Controller != nil && *refs[i].Controller {
			return &refs[i]
		}
	}
	if len(refs) > 0 {
		return &refs[0]
	}
	return nil
}

// Workload implements Kube. Supported kinds: Deployment, StatefulSet,
// DaemonSet, ReplicaSet.
func (p *KubeProvider) Workload(ctx context.Context, namespace, kind, name string) (*models.WorkloadSnapshot, models.Availability) {
	opts := metav1.GetOptions{}
	switch strings.ToLower(kind) {
	case "deployment":
		d, err := p.client.AppsV1().Deployments(namespace).Get(ctx, name, opts)
		if err != nil {
			return nil, classifyKubeError(err)
		}
		snap := &models.WorkloadSnapshot{
			Kind: "Deployment", Name: d.Name,
			ReadyReplicas:     d.Status.ReadyReplicas,
			UpdatedReplicas:   d.Status.UpdatedReplicas,
			AvailableReplicas: d.Status.AvailableReplicas,
		}
		if d.Spec.Replicas != nil {
			snap.Replicas = *d.Spec.Replicas
		}
		for _, c := range d.Status.Conditions {
			if c.Type == "Progressing" {
				t := c.LastUpdateTime.Time
				snap.LastRolloutAt = &t
			}
		}
		return snap, models.AvailOK()
	case "statefulset":
		s, err := p.client.AppsV1().StatefulSets(namespace).Get(ctx, name, opts)
		if err != nil {
			return nil, classifyKubeError(err)
		}
		snap := &models.WorkloadSnapshot{
			Kind: "StatefulSet", Name: s.Name,
			ReadyReplicas:     s.Status.ReadyReplicas,
			UpdatedReplicas:   s.Status.UpdatedReplicas,
			AvailableReplicas: s.Status.AvailableReplicas,
		}
		if s.Spec.Replicas != nil {
			snap.Replicas = *s.Spec.Replicas
		}
		return snap, models.AvailOK()
	case "daemonset":
		d, err := p.client.AppsV1().DaemonSets(namespace).Get(ctx, name, opts)
		if err != nil {
			return nil, classifyKubeError(err)
		}
		return &models.WorkloadSnapshot{
			Kind: "DaemonSet", Name: d.Name,
			Replicas:          d.Status.DesiredNumberScheduled,
			ReadyReplicas:     d.Status.NumberReady,
			UpdatedReplicas:   d.Status.UpdatedNumberScheduled,
			AvailableReplicas: d.Status.NumberAvailable,
		}, models.AvailOK()
	case "replicaset":
		r, err := p.client.AppsV1().ReplicaSets(namespace).Get(ctx, name, opts)
		if err != nil {
			return nil, classifyKubeError(err)
		}
		snap := &models.WorkloadSnapshot{
			Kind: "ReplicaSet", Name: r.Name,
			ReadyReplicas:     r.Status.ReadyReplicas,
			AvailableReplicas: r.Status.AvailableReplicas,
		}
		if r.Spec.Replicas != nil {
			snap.Replicas = *r.Spec.Replicas
		}
		return snap, models.AvailOK()
	default:
		return nil, models.AvailUnavailable(fmt.Sprintf("unsupported workload kind %q", kind))
	}
}

// Job implements Kube.
func (p *KubeProvider) Job(ctx context.Context, namespace, name string) (*models.JobSnapshot, models.Availability) {
	job, err := p.client.BatchV1().Jobs(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, classifyKubeError(err)
	}
	return jobSnapshot(job), models.AvailOK()
}

func jobSnapshot(job *batchv1.Job) *models.JobSnapshot {
	snap := &models.JobSnapshot{
		Name:      job.Name,
		Active:    job.Status.Active,
		Succeeded: job.Status.Succeeded,
		Failed:    job.Status.Failed,
	}
	if job.Spec.BackoffLimit != nil {
		snap.BackoffLimit = *job.Spec.BackoffLimit
	}
	if job.Status.StartTime != nil {
		t := job.Status.StartTime.Time
		snap.StartTime = &t
	}
	if job.Status.CompletionTime != nil {
		t := job.Status.CompletionTime.Time
		snap.CompletionTime = &t
	}
	for _, c := range job.Status.Conditions {
		if c.Type == batchv1.JobFailed && c.Status == corev1.ConditionTrue {
			snap.FailureReason = c.Reason
			if c.Message != "" {
				snap.FailureReason = c.Reason + ": " + c.Message
			}
		}
	}
	return snap
}

// Events implements Kube. Events are filtered to the named object and sorted
// by last-seen descending.
func (p *KubeProvider) Events(ctx context.Context, namespace, objectName string) ([]models.EventRecord, models.Availability) {
	list, err := p.client.CoreV1().Events(namespace).List(ctx, metav1.ListOptions{
		FieldSelector: "involvedObject.name=" + objectName,
	})
	if err != nil {
		return nil, classifyKubeError(err)
	}
	if len(list.Items) == 0 {
		return nil, models.AvailEmpty()
	}
	records := make([]models.EventRecord, 0, len(list.Items))
	for _, ev := range list.Items {
		lastSeen := ev.LastTimestamp.Time
		if lastSeen.IsZero() {
			lastSeen = ev.EventTime.Time
		}
		records = append(records, models.EventRecord{
			Type:     ev.Type,
			Reason:   ev.Reason,
			Message:  ev.Message,
			Object:   ev.InvolvedObject.Kind + "/" + ev.InvolvedObject.Name,
			Count:    ev.Count,
			LastSeen: lastSeen,
		})
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].LastSeen.After(records[j].LastSeen)
	})
	return records, models.AvailOK()
}

// ResolveOwner implements Kube. A ReplicaSet owner is walked one more hop to
// its Deployment so rollout-noisy alerts land on the stable workload.
func (p *KubeProvider) ResolveOwner(ctx context.Context, namespace, pod string) (string, string, models.Availability) {
	po, err := p.client.CoreV1().Pods(namespace).Get(ctx, pod, metav1.GetOptions{})
	if err != nil {
		return "", "", classifyKubeError(err)
	}
	ref := controllerOwner(po.OwnerReferences)
	if ref == nil {
		return "", "", models.AvailEmpty()
	}
	if ref.Kind != "ReplicaSet" {
		return ref.Kind, ref.Name, models.AvailOK()
	}
	rs, err := p.client.AppsV1().ReplicaSets(namespace).Get(ctx, ref.Name, metav1.GetOptions{})
	if err != nil {
		// The ReplicaSet may already be gone; the RS name still identifies
		// the workload family better than the pod does.
		return ref.Kind, ref.Name, models.AvailOK()
	}
	if owner := controllerOwner(rs.OwnerReferences); owner != nil {
		return owner.Kind, owner.Name, models.AvailOK()
	}
	return ref.Kind, ref.Name, models.AvailOK()
}

// PodsForJob implements Kube using the job-name label set by the Job
// controller.
func (p *KubeProvider) PodsForJob(ctx context.Context, namespace, job string) ([]string, models.Availability) {
	list, err := p.client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "job-name=" + job,
	})
	if err != nil {
		return nil, classifyKubeError(err)
	}
	if len(list.Items) == 0 {
		return nil, models.AvailEmpty()
	}
	sort.Slice(list.Items, func(i, j int) bool {
		return list.Items[i].CreationTimestamp.After(list.Items[j].CreationTimestamp.Time)
	})
	names := make([]string, 0, len(list.Items))
	for _, po := range list.Items {
		names = append(names, po.Name)
	}
	return names, models.AvailOK()
}

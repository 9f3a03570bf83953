package diag

import (
	"fmt"
	"strings"

	"github.com/codeready-toolchain/tarka/pkg/models"
)

// kubectl command helpers used in next steps. They assume the evidence names
// a pod/namespace; callers only build them when it does.
func kubectlDescribePod(ev *models.Evidence) string {
	return fmt.Sprintf("kubectl describe pod %s -n %s", ev.Kube.Pod.Name, ev.Kube.Pod.Namespace)
}

func kubectlPreviousLogs(ev *models.Evidence) string {
	return fmt.Sprintf("kubectl logs %s -n %s --previous", ev.Kube.Pod.Name, ev.Kube.Pod.Namespace)
}

func podHasWaitingReason(ev *models.Evidence, reason string) (*models.ContainerState, bool) {
	if ev.Kube.Pod == nil {
		return nil, false
	}
	for i, c := range ev.Kube.Pod.Containers {
		if c.State == "waiting" && c.Reason == reason {
			return &ev.Kube.Pod.Containers[i], true
		}
	}
	return nil, false
}

func eventWithReason(ev *models.Evidence, reasons ...string) *models.EventRecord {
	for i, record := range ev.Kube.Events {
		for _, r := range reasons {
			if record.Reason == r {
				return &ev.Kube.Events[i]
			}
		}
	}
	return nil
}

func eventMessageContains(ev *models.Evidence, substr string) *models.EventRecord {
	for i, record := range ev.Kube.Events {
		if strings.Contains(strings.ToLower(record.Message), substr) {
			return &ev.Kube.Events[i]
		}
	}
	return nil
}

var kubeModules = []Module{
	module{
		id:      "k8s.crash_loop_backoff",
		applies: kubeOK,
		run: func(ev *models.Evidence) *models.Finding {
			c, ok := podHasWaitingReason(ev, "CrashLoopBackOff")
			if !ok {
				return nil
			}
			why := []string{fmt.Sprintf("container %q is in CrashLoopBackOff with %d restarts", c.Name, c.RestartCount)}
			if c.LastTerminatedReason != "" {
				why = append(why, fmt.Sprintf("last termination: %s (exit %s)", c.LastTerminatedReason, exitCodeString(c.LastExitCode)))
			}
			return &models.Finding{
				Severity:     models.SeverityCritical,
				Label:        "container crash-looping",
				Why:          why,
				Next:         []string{kubectlPreviousLogs(ev), kubectlDescribePod(ev)},
				EvidenceRefs: []string{"k8s.pod.containers"},
			}
		},
	},
	module{
		id:      "k8s.image_pull_backoff",
		applies: kubeOK,
		run: func(ev *models.Evidence) *models.Finding {
			c, ok := podHasWaitingReason(ev, "ImagePullBackOff")
			if !ok {
				if c, ok = podHasWaitingReason(ev, "ErrImagePull"); !ok {
					return nil
				}
			}
			return &models.Finding{
				Severity: models.SeverityError,
				Label:    "image pull failing",
				Why:      []string{fmt.Sprintf("container %q cannot pull image %s: %s", c.Name, c.Image, c.Message)},
				Next: []string{
					kubectlDescribePod(ev),
					fmt.Sprintf("check registry access and that tag %s exists", c.Image),
				},
				EvidenceRefs: []string{"k8s.pod.containers"},
			}
		},
	},
	module{
		id:      "k8s.oom_killed",
		applies: kubeOK,
		run: func(ev *models.Evidence) *models.Finding {
			if ev.Kube.Pod == nil {
				return nil
			}
			for _, c := range ev.Kube.Pod.Containers {
				terminatedOOM := c.State == "terminated" && c.Reason == "OOMKilled"
				lastOOM := c.LastTerminatedReason == "OOMKilled"
				if !terminatedOOM && !lastOOM {
					continue
				}
				code := c.LastExitCode
				if terminatedOOM {
					code = c.ExitCode
				}
				why := []string{fmt.Sprintf("container %q was OOMKilled (exit %s)", c.Name, exitCodeString(code))}
				if c.MemoryLimitBytes > 0 {
					why = append(why, fmt.Sprintf("memory limit is %s", formatBytes(c.MemoryLimitBytes)))
				}
				return &models.Finding{
					Severity: models.SeverityCritical,
					Label:    fmt.Sprintf("OOMKilled (exit %s)", exitCodeString(code)),
					Why:      why,
					Next: []string{
						kubectlPreviousLogs(ev),
						fmt.Sprintf(`max_over_time(container_memory_working_set_bytes{namespace="%s", pod="%s", container="%s"}[1h])`,
							ev.Kube.Pod.Namespace, ev.Kube.Pod.Name, c.Name),
						"raise the memory limit or fix the leak before raising it",
					},
					EvidenceRefs: []string{"k8s.pod.containers"},
				}
			}
			return nil
		},
	},
	module{
		id:      "k8s.container_config_error",
		applies: kubeOK,
		run: func(ev *models.Evidence) *models.Finding {
			c, ok := podHasWaitingReason(ev, "CreateContainerConfigError")
			if !ok {
				return nil
			}
			return &models.Finding{
				Severity:     models.SeverityError,
				Label:        "container config invalid",
				Why:          []string{fmt.Sprintf("container %q: %s", c.Name, c.Message)},
				Next:         []string{kubectlDescribePod(ev), "verify referenced ConfigMaps/Secrets exist"},
				EvidenceRefs: []string{"k8s.pod.containers"},
			}
		},
	},
	module{
		id:      "k8s.pod_pending_unschedulable",
		applies: kubeOK,
		run: func(ev *models.Evidence) *models.Finding {
			if ev.Kube.Pod == nil || ev.Kube.Pod.Phase != "Pending" {
				return nil
			}
			record := eventWithReason(ev, "FailedScheduling")
			why := []string{"pod has been Pending and is not scheduled to a node"}
			if record != nil {
				why = append(why, "scheduler: "+record.Message)
			}
			return &models.Finding{
				Severity: models.SeverityError,
				Label:    "pod unschedulable",
				Why:      why,
				Next: []string{
					kubectlDescribePod(ev),
					"kubectl get nodes -o wide",
					"check node taints, resource requests, and affinity rules",
				},
				EvidenceRefs: []string{"k8s.pod", "k8s.events"},
			}
		},
	},
	module{
		id:      "k8s.volume_mount_failure",
		applies: kubeOK,
		run: func(ev *models.Evidence) *models.Finding {
			record := eventWithReason(ev, "FailedMount", "FailedAttachVolume")
			if record == nil {
				return nil
			}
			return &models.Finding{
				Severity:     models.SeverityError,
				Label:        "volume mount failing",
				Why:          []string{record.Reason + ": " + record.Message},
				Next:         []string{"kubectl get pvc -n " + namespaceOf(ev), "check the PV/CSI driver status"},
				EvidenceRefs: []string{"k8s.events"},
			}
		},
	},
	module{
		id:      "k8s.readiness_probe_failing",
		applies: kubeOK,
		run: func(ev *models.Evidence) *models.Finding {
			record := eventMessageContains(ev, "readiness probe failed")
			if record == nil {
				return nil
			}
			return &models.Finding{
				Severity:     models.SeverityWarn,
				Label:        "readiness probe failing",
				Why:          []string{fmt.Sprintf("%s (x%d)", record.Message, record.Count)},
				Next:         []string{"check the probe endpoint and its timeout against app startup time"},
				EvidenceRefs: []string{"k8s.events"},
			}
		},
	},
	module{
		id:      "k8s.liveness_probe_failing",
		applies: kubeOK,
		run: func(ev *models.Evidence) *models.Finding {
			record := eventMessageContains(ev, "liveness probe failed")
			if record == nil {
				return nil
			}
			return &models.Finding{
				Severity:     models.SeverityError,
				Label:        "liveness probe failing",
				Why:          []string{fmt.Sprintf("%s (x%d) — kubelet restarts the container on each failure", record.Message, record.Count)},
				Next:         []string{"check whether the app deadlocks or the probe threshold is too aggressive"},
				EvidenceRefs: []string{"k8s.events"},
			}
		},
	},
	module{
		id:      "k8s.service_account_forbidden",
		applies: kubeOK,
		run: func(ev *models.Evidence) *models.Finding {
			record := eventMessageContains(ev, "forbidden")
			if record == nil {
				return nil
			}
			return &models.Finding{
				Severity:     models.SeverityError,
				Label:        "RBAC forbidden",
				Why:          []string{record.Message},
				Next:         []string{"kubectl auth can-i --list --as system:serviceaccount:" + namespaceOf(ev) + ":<sa>"},
				EvidenceRefs: []string{"k8s.events"},
			}
		},
	},
	module{
		id:      "k8s.pod_evicted",
		applies: kubeOK,
		run: func(ev *models.Evidence) *models.Finding {
			if ev.Kube.Pod == nil {
				return nil
			}
			record := eventWithReason(ev, "Evicted")
			if record == nil && ev.Kube.Pod.Phase != "Failed" {
				return nil
			}
			if record == nil {
				return nil
			}
			return &models.Finding{
				Severity:     models.SeverityError,
				Label:        "pod evicted",
				Why:          []string{record.Message},
				Next:         []string{"kubectl describe node " + ev.Kube.Pod.NodeName, "check node memory/disk pressure"},
				EvidenceRefs: []string{"k8s.events"},
			}
		},
	},
	module{
		id:      "k8s.node_not_ready",
		applies: kubeOK,
		run: func(ev *models.Evidence) *models.Finding {
			record := eventWithReason(ev, "NodeNotReady")
			if record == nil {
				return nil
			}
			return &models.Finding{
				Severity:     models.SeverityError,
				Label:        "node not ready",
				Why:          []string{record.Message},
				Next:         []string{"kubectl get nodes", "kubectl describe node " + nodeOf(ev)},
				EvidenceRefs: []string{"k8s.events"},
			}
		},
	},
	module{
		id:      "k8s.restart_churn",
		applies: kubeOK,
		run: func(ev *models.Evidence) *models.Finding {
			if ev.Kube.Pod == nil {
				return nil
			}
			for _, c := range ev.Kube.Pod.Containers {
				// Churn without a waiting reason is caught here; the
				// CrashLoopBackOff module covers the waiting case.
				if c.RestartCount >= 5 && c.State != "waiting" {
					return &models.Finding{
						Severity:     models.SeverityWarn,
						Label:        "container restarting repeatedly",
						Why:          []string{fmt.Sprintf("container %q has %d restarts", c.Name, c.RestartCount)},
						Next:         []string{kubectlPreviousLogs(ev)},
						EvidenceRefs: []string{"k8s.pod.containers"},
					}
				}
			}
			return nil
		},
	},
	module{
		id:      "k8s.job_backoff_exceeded",
		applies: kubeOK,
		run: func(ev *models.Evidence) *models.Finding {
			job := ev.Kube.Job
			if job == nil || job.Failed == 0 {
				return nil
			}
			if job.Failed <= job.BackoffLimit && !strings.Contains(job.FailureReason, "BackoffLimitExceeded") {
				return nil
			}
			return &models.Finding{
				Severity: models.SeverityCritical,
				Label:    "job exhausted its backoff limit",
				Why: []string{fmt.Sprintf("job %q failed %d times (backoffLimit %d): %s",
					job.Name, job.Failed, job.BackoffLimit, job.FailureReason)},
				Next: []string{
					fmt.Sprintf("kubectl describe job %s -n %s", job.Name, namespaceOf(ev)),
					fmt.Sprintf("kubectl logs -n %s -l job-name=%s --tail=100", namespaceOf(ev), job.Name),
				},
				EvidenceRefs: []string{"k8s.job"},
			}
		},
	},
	module{
		id:      "k8s.job_deadline_exceeded",
		applies: kubeOK,
		run: func(ev *models.Evidence) *models.Finding {
			job := ev.Kube.Job
			if job == nil || !strings.Contains(job.FailureReason, "DeadlineExceeded") {
				return nil
			}
			return &models.Finding{
				Severity:     models.SeverityError,
				Label:        "job exceeded its active deadline",
				Why:          []string{fmt.Sprintf("job %q: %s", job.Name, job.FailureReason)},
				Next:         []string{"raise activeDeadlineSeconds or investigate why the run slowed down"},
				EvidenceRefs: []string{"k8s.job"},
			}
		},
	},
	module{
		id:      "k8s.replicas_unavailable",
		applies: kubeOK,
		run: func(ev *models.Evidence) *models.Finding {
			wl := ev.Kube.Workload
			if wl == nil || wl.Replicas == 0 || wl.ReadyReplicas >= wl.Replicas {
				return nil
			}
			sev := models.SeverityWarn
			if wl.ReadyReplicas == 0 {
				sev = models.SeverityCritical
			}
			return &models.Finding{
				Severity: sev,
				Label:    "workload below desired replicas",
				Why: []string{fmt.Sprintf("%s %q has %d/%d ready replicas",
					wl.Kind, wl.Name, wl.ReadyReplicas, wl.Replicas)},
				Next:         []string{fmt.Sprintf("kubectl get pods -n %s | grep %s", namespaceOf(ev), wl.Name)},
				EvidenceRefs: []string{"k8s.workload"},
			}
		},
	},
	module{
		id:      "k8s.rollout_in_progress",
		applies: kubeOK,
		run: func(ev *models.Evidence) *models.Finding {
			wl := ev.Kube.Workload
			if wl == nil || wl.Replicas == 0 || wl.UpdatedReplicas == 0 || wl.UpdatedReplicas >= wl.Replicas {
				return nil
			}
			return &models.Finding{
				Severity: models.SeverityInfo,
				Label:    "rollout in progress",
				Why: []string{fmt.Sprintf("%s %q has updated %d/%d replicas — alert may be rollout churn",
					wl.Kind, wl.Name, wl.UpdatedReplicas, wl.Replicas)},
				Next:         []string{fmt.Sprintf("kubectl rollout status %s/%s -n %s", strings.ToLower(wl.Kind), wl.Name, namespaceOf(ev))},
				EvidenceRefs: []string{"k8s.workload"},
			}
		},
	},
	module{
		id:      "k8s.failed_create",
		applies: kubeOK,
		run: func(ev *models.Evidence) *models.Finding {
			record := eventWithReason(ev, "FailedCreate")
			if record == nil {
				return nil
			}
			return &models.Finding{
				Severity:     models.SeverityError,
				Label:        "controller cannot create pods",
				Why:          []string{record.Message},
				Next:         []string{"kubectl describe quota -n " + namespaceOf(ev), "check admission webhooks"},
				EvidenceRefs: []string{"k8s.events"},
			}
		},
	},
}

func exitCodeString(code *int32) string {
	if code == nil {
		return "unknown"
	}
	return fmt.Sprintf("%d", *code)
}

func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%dGi", b>>30)
	case b >= 1<<20:
		return fmt.Sprintf("%dMi", b>>20)
	case b >= 1<<10:
		return fmt.Sprintf("%dKi", b>>10)
	default:
		return fmt.Sprintf("%dB", b)
	}
}

func namespaceOf(ev *models.Evidence) string {
	if ev.Kube.Pod != nil {
		return ev.Kube.Pod.Namespace
	}
	return "<namespace>"
}

func nodeOf(ev *models.Evidence) string {
	if ev.Kube.Pod != nil && ev.Kube.Pod.NodeName != "" {
		return ev.Kube.Pod.NodeName
	}
	return "<node>"
}

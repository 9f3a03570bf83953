package diag

import (
	"fmt"
	"strings"

	"github.com/codeready-toolchain/tarka/pkg/models"
)

var awsModules = []Module{
	module{
		id:      "aws.rds_unavailable",
		applies: awsOK,
		run: func(ev *models.Evidence) *models.Finding {
			for _, db := range ev.AWS.DBInstances {
				if db.Status == "available" {
					continue
				}
				return &models.Finding{
					Severity:     models.SeverityError,
					Label:        "RDS instance not available",
					Why:          []string{fmt.Sprintf("db instance %q is %q", db.ID, db.Status)},
					Next:         []string{"aws rds describe-db-instances --db-instance-identifier " + db.ID},
					EvidenceRefs: []string{"aws.db_instances"},
				}
			}
			return nil
		},
	},
	module{
		id:      "aws.elb_unhealthy",
		applies: awsOK,
		run: func(ev *models.Evidence) *models.Finding {
			for _, lb := range ev.AWS.LoadBalancers {
				if lb.State == "active" || lb.State == "" {
					continue
				}
				return &models.Finding{
					Severity:     models.SeverityError,
					Label:        "load balancer degraded",
					Why:          []string{fmt.Sprintf("load balancer %q is in state %q", lb.Name, lb.State)},
					Next:         []string{"aws elbv2 describe-load-balancers --names " + lb.Name},
					EvidenceRefs: []string{"aws.load_balancers"},
				}
			}
			return nil
		},
	},
	module{
		id: "aws.api_throttled",
		applies: func(ev *models.Evidence) bool {
			return ev.AWS != nil && len(ev.AWS.Errors) > 0
		},
		run: func(ev *models.Evidence) *models.Finding {
			var throttled []string
			for subsystem, reason := range ev.AWS.Errors {
				if strings.Contains(reason, "throttled") {
					throttled = append(throttled, subsystem)
				}
			}
			if len(throttled) == 0 {
				return nil
			}
			return &models.Finding{
				Severity:     models.SeverityInfo,
				Label:        "AWS API throttling",
				Why:          []string{"describe calls were throttled for: " + strings.Join(throttled, ", ")},
				Next:         []string{"re-run the investigation; the snapshot is partial"},
				EvidenceRefs: []string{"aws.errors"},
			}
		},
	},
	module{
		id:      "aws.recent_infra_change",
		applies: awsOK,
		run: func(ev *models.Evidence) *models.Finding {
			var writes []models.CloudTrailEvent
			for _, ct := range ev.AWS.CloudTrail {
				if isReadOnlyEvent(ct.Name) {
					continue
				}
				writes = append(writes, ct)
			}
			if len(writes) == 0 {
				return nil
			}
			latest := writes[0]
			for _, ct := range writes[1:] {
				if ct.EventTime.After(latest.EventTime) {
					latest = ct
				}
			}
			return &models.Finding{
				Severity: models.SeverityInfo,
				Label:    "recent AWS infrastructure change",
				Why: []string{fmt.Sprintf("%d write events in the lookback window; latest %s by %s at %s",
					len(writes), latest.Name, latest.Username, latest.EventTime.UTC().Format("15:04:05"))},
				Next:         []string{"aws cloudtrail lookup-events --max-results 20"},
				EvidenceRefs: []string{"aws.cloudtrail"},
			}
		},
	},
}

// isReadOnlyEvent filters CloudTrail names that cannot have changed anything.
func isReadOnlyEvent(name string) bool {
	return strings.HasPrefix(name, "Describe") ||
		strings.HasPrefix(name, "Get") ||
		strings.HasPrefix(name, "List") ||
		strings.HasPrefix(name, "LookupEvents") ||
		strings.HasPrefix(name, "AssumeRole")
}

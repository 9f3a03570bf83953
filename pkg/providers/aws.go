package providers

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/smithy-go"

	"github.com/codeready-toolchain/tarka/pkg/models"
)

// Narrow per-service interfaces so tests can stub each API without the SDK's
// full surface.
type (
	ec2API interface {
		DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, opts ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	}
	elbAPI interface {
		DescribeLoadBalancers(ctx context.Context, in *elbv2.DescribeLoadBalancersInput, opts ...func(*elbv2.Options)) (*elbv2.DescribeLoadBalancersOutput, error)
	}
	rdsAPI interface {
		DescribeDBInstances(ctx context.Context, in *rds.DescribeDBInstancesInput, opts ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error)
	}
	ecrAPI interface {
		DescribeRepositories(ctx context.Context, in *ecr.DescribeRepositoriesInput, opts ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error)
	}
	cloudtrailAPI interface {
		LookupEvents(ctx context.Context, in *cloudtrail.LookupEventsInput, opts ...func(*cloudtrail.Options)) (*cloudtrail.LookupEventsOutput, error)
	}
)

// AWS is the AWS evidence capability: reduced read-only snapshots plus recent
// CloudTrail management events.
type AWS interface {
	Snapshot(ctx context.Context) (*models.AWSEvidence, models.Availability)
	RecentCloudTrail(ctx context.Context, end time.Time) ([]models.CloudTrailEvent, models.Availability)
}

// AWSProvider implements AWS on the v2 SDK. All calls are Describe*/Lookup*;
// nothing here can mutate cloud state.
type AWSProvider struct {
	ec2        ec2API
	elb        elbAPI
	rds        rdsAPI
	ecr        ecrAPI
	cloudtrail cloudtrailAPI

	lookback  time.Duration
	maxEvents int

	// cloudTrailPause throttles LookupEvents pagination; the API allows
	// 2 requests per second.
	cloudTrailPause time.Duration
}

// NewAWSProvider builds a provider from the default credential chain.
func NewAWSProvider(ctx context.Context, lookback time.Duration, maxEvents int) (*AWSProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return &AWSProvider{
		ec2:             ec2.NewFromConfig(cfg),
		elb:             elbv2.NewFromConfig(cfg),
		rds:             rds.NewFromConfig(cfg),
		ecr:             ecr.NewFromConfig(cfg),
		cloudtrail:      cloudtrail.NewFromConfig(cfg),
		lookback:        lookback,
		maxEvents:       maxEvents,
		cloudTrailPause: 500 * time.Millisecond,
	}, nil
}

// classifyAWSError maps SDK errors to surface reasons.
func classifyAWSError(err error) models.Availability {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "RequestLimitExceeded", "TooManyRequestsException":
			return models.AvailUnavailable(ReasonThrottled)
		case "UnauthorizedOperation", "AccessDenied", "AccessDeniedException":
			return models.AvailUnavailable(ReasonForbidden)
		}
	}
	return classifyError(err)
}

// Snapshot implements AWS. Subsystems fail independently: a forbidden EC2
// call still leaves RDS and ELB data in place, with the failure recorded in
// Errors.
func (p *AWSProvider) Snapshot(ctx context.Context) (*models.AWSEvidence, models.Availability) {
	ev := &models.AWSEvidence{Errors: map[string]string{}}

	if out, err := p.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{}); err != nil {
		ev.Errors["ec2"] = classifyAWSError(err).Reason
	} else {
		for _, res := range out.Reservations {
			for _, inst := range res.Instances {
				item := models.EC2Instance{
					ID:   aws.ToString(inst.InstanceId),
					Type: string(inst.InstanceType),
				}
				if inst.State != nil {
					item.State = string(inst.State.Name)
				}
				if inst.Placement != nil {
					item.AZ = aws.ToString(inst.Placement.AvailabilityZone)
				}
				ev.Instances = append(ev.Instances, item)
			}
		}
	}

	if out, err := p.elb.DescribeLoadBalancers(ctx, &elbv2.DescribeLoadBalancersInput{}); err != nil {
		ev.Errors["elb"] = classifyAWSError(err).Reason
	} else {
		for _, lb := range out.LoadBalancers {
			item := models.LoadBalancerSnapshot{
				Name: aws.ToString(lb.LoadBalancerName),
				Type: string(lb.Type),
			}
			if lb.State != nil {
				item.State = string(lb.State.Code)
			}
			ev.LoadBalancers = append(ev.LoadBalancers, item)
		}
	}

	if out, err := p.rds.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{}); err != nil {
		ev.Errors["rds"] = classifyAWSError(err).Reason
	} else {
		for _, db := range out.DBInstances {
			ev.DBInstances = append(ev.DBInstances, models.DBInstanceSnapshot{
				ID:     aws.ToString(db.DBInstanceIdentifier),
				Status: aws.ToString(db.DBInstanceStatus),
				Engine: aws.ToString(db.Engine),
			})
		}
	}

	if out, err := p.ecr.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{}); err != nil {
		ev.Errors["ecr"] = classifyAWSError(err).Reason
	} else {
		for _, repo := range out.Repositories {
			ev.Repositories = append(ev.Repositories, aws.ToString(repo.RepositoryName))
		}
	}

	if trail, avail := p.RecentCloudTrail(ctx, time.Now()); avail.OK() {
		ev.CloudTrail = trail
	} else if avail.Status == models.SlotUnavailable {
		ev.Errors["cloudtrail"] = avail.Reason
	}

	if len(ev.Errors) == 0 {
		ev.Errors = nil
	}
	if len(ev.Instances) == 0 && len(ev.LoadBalancers) == 0 && len(ev.DBInstances) == 0 &&
		len(ev.Repositories) == 0 && len(ev.CloudTrail) == 0 {
		if len(ev.Errors) > 0 {
			ev.Availability = models.AvailUnavailable("all aws subsystems failed")
		} else {
			ev.Availability = models.AvailEmpty()
		}
		return ev, ev.Availability
	}
	ev.Availability = models.AvailOK()
	return ev, ev.Availability
}

// cloudTrailMaxLookback mirrors the API's 90-day event retention.
const cloudTrailMaxLookback = 90 * 24 * time.Hour

// RecentCloudTrail implements AWS. Pagination is followed until maxEvents is
// reached, with a pause between pages to stay under the 2/s LookupEvents
// limit; throttling backs off once before giving up.
func (p *AWSProvider) RecentCloudTrail(ctx context.Context, end time.Time) ([]models.CloudTrailEvent, models.Availability) {
	lookback := p.lookback
	if lookback > cloudTrailMaxLookback {
		lookback = cloudTrailMaxLookback
	}
	start := end.Add(-lookback)

	var (
		events    []models.CloudTrailEvent
		nextToken *string
		backedOff bool
	)
	for {
		out, err := p.cloudtrail.LookupEvents(ctx, &cloudtrail.LookupEventsInput{
			StartTime: aws.Time(start),
			EndTime:   aws.Time(end),
			NextToken: nextToken,
		})
		if err != nil {
			avail := classifyAWSError(err)
			if avail.Reason == ReasonThrottled && !backedOff {
				backedOff = true
				select {
				case <-time.After(2 * p.cloudTrailPause):
					continue
				case <-ctx.Done():
					return nil, models.AvailUnavailable(ReasonTimeout)
				}
			}
			return nil, avail
		}
		for _, ev := range out.Events {
			events = append(events, models.CloudTrailEvent{
				Name:      aws.ToString(ev.EventName),
				Username:  aws.ToString(ev.Username),
				Source:    aws.ToString(ev.EventSource),
				EventTime: aws.ToTime(ev.EventTime),
			})
			if len(events) >= p.maxEvents {
				return events, models.AvailOK()
			}
		}
		nextToken = out.NextToken
		if nextToken == nil {
			break
		}
		select {
		case <-time.After(p.cloudTrailPause):
		case <-ctx.Done():
			return events, models.AvailUnavailable(ReasonTimeout)
		}
	}
	if len(events) == 0 {
		return nil, models.AvailEmpty()
	}
	return events, models.AvailOK()
}

// Package ec2driver implements provisioner.IaaSDriver against Amazon EC2.
package ec2driver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/nimbus-provisioner/provisioner/pkg/provisioner"
)

// Driver is a provisioner.IaaSDriver backed by the EC2 API. One Driver
// handles exactly one site (region + tag scope); a deployment with multiple
// EC2 regions registers one Driver per region under its own site key.
type Driver struct {
	client     *ec2.Client
	region     string
	tagKey     string
	tagValue   string
	logger     *slog.Logger
}

// Config configures a Driver.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// TagKey/TagValue scope ListNodes to instances this site manages, so
	// that a shared AWS account with unrelated EC2 usage does not leak
	// into the reconciler's view.
	TagKey   string
	TagValue string
	Logger   *slog.Logger
}

// New builds a Driver, resolving AWS credentials from the explicit
// Config fields (never from ambient environment, per the
// injected-configuration design).
func New(ctx context.Context, cfg Config) (*Driver, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.AccessKeyID == "" {
		return nil, fmt.Errorf("ec2 driver: AccessKeyID is required")
	}
	credsProvider := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credsProvider),
	)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	return &Driver{
		client:   ec2.NewFromConfig(awsCfg),
		region:   cfg.Region,
		tagKey:   cfg.TagKey,
		tagValue: cfg.TagValue,
		logger:   logger,
	}, nil
}

// ListNodes returns every instance in this site's tag scope, including
// stopped and terminated ones, which are reported as IaaSTerminated.
func (d *Driver) ListNodes(ctx context.Context) ([]provisioner.IaaSNode, error) {
	out, err := d.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("tag:" + d.tagKey), Values: []string{d.tagValue}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("describe instances: %w", err)
	}

	var nodes []provisioner.IaaSNode
	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			nodes = append(nodes, toIaaSNode(inst))
		}
	}
	return nodes, nil
}

// Launch runs spec.Count instances via EC2 RunInstances.
func (d *Driver) Launch(ctx context.Context, spec provisioner.Spec) ([]provisioner.IaaSNode, error) {
	count := int32(spec.Count)
	if count == 0 {
		count = 1
	}

	input := &ec2.RunInstancesInput{
		InstanceType: ec2types.InstanceType(spec.Size),
		MinCount:     aws.Int32(count),
		MaxCount:     aws.Int32(count),
		TagSpecifications: []ec2types.TagSpecification{
			{
				ResourceType: ec2types.ResourceTypeInstance,
				Tags: []ec2types.Tag{
					{Key: aws.String(d.tagKey), Value: aws.String(d.tagValue)},
				},
			},
		},
	}
	if spec.Keyname != "" {
		input.KeyName = aws.String(spec.Keyname)
	}

	out, err := d.client.RunInstances(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("run instances: %w", err)
	}

	nodes := make([]provisioner.IaaSNode, 0, len(out.Instances))
	for _, inst := range out.Instances {
		nodes = append(nodes, toIaaSNode(inst))
	}
	return nodes, nil
}

// DestroyNode terminates the given instance.
func (d *Driver) DestroyNode(ctx context.Context, node provisioner.IaaSNode) error {
	_, err := d.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{node.ID},
	})
	if err != nil {
		return fmt.Errorf("terminate instance %s: %w", node.ID, err)
	}
	return nil
}

func toIaaSNode(inst ec2types.Instance) provisioner.IaaSNode {
	n := provisioner.IaaSNode{
		ID:    aws.ToString(inst.InstanceId),
		State: mapInstanceState(inst.State),
		Extra: map[string]string{
			"instance_type": string(inst.InstanceType),
		},
	}
	if inst.PublicIpAddress != nil {
		n.PublicIP = []string{aws.ToString(inst.PublicIpAddress)}
	}
	if inst.PrivateIpAddress != nil {
		n.PrivateIP = []string{aws.ToString(inst.PrivateIpAddress)}
	}
	return n
}

func mapInstanceState(state *ec2types.InstanceState) provisioner.IaaSState {
	if state == nil {
		return provisioner.IaaSUnknown
	}
	switch state.Name {
	case ec2types.InstanceStateNameRunning:
		return provisioner.IaaSRunning
	case ec2types.InstanceStateNamePending:
		return provisioner.IaaSPending
	case ec2types.InstanceStateNameStopping, ec2types.InstanceStateNameShuttingDown:
		return provisioner.IaaSRebooting
	case ec2types.InstanceStateNameTerminated, ec2types.InstanceStateNameStopped:
		return provisioner.IaaSTerminated
	default:
		return provisioner.IaaSUnknown
	}
}

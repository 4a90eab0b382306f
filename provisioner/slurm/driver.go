package slurm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gammadia/skyway/account"
	"github.com/gammadia/skyway/errdefs"
	"github.com/gammadia/skyway/provisioner"
	"github.com/gammadia/skyway/provisioner/internal"
	"github.com/samber/lo"
)

// queueFormat lists job id, state, name, account, nodes, elapsed, submit
// time, comment and user. The comment carries the node type.
const queueFormat = "%i|%t|%j|%a|%N|%M|%V|%k|%u"

const submitTimeLayout = "2006-01-02T15:04:05"

var (
	pollInterval = 5 * time.Second
	allocationRe = regexp.MustCompile(`(?:Granted|Pending) job allocation (\d+)`)
)

type driver struct {
	runner       Runner
	settings     *account.SlurmConfig
	keyFile      string
	grantTimeout time.Duration
}

var (
	_ provisioner.Driver            = (*driver)(nil)
	_ provisioner.ShutdownScheduler = (*driver)(nil)
)

func (d *driver) Instances(ctx context.Context) ([]provisioner.Instance, error) {
	stdout, _, err := d.runner.Run(ctx, "squeue", "-h", "-A", d.settings.Account, "-o", queueFormat)
	if err != nil {
		return nil, translate("squeue", err)
	}
	return parseQueue(stdout), nil
}

func (d *driver) job(ctx context.Context, id string) (provisioner.Instance, bool, error) {
	stdout, _, err := d.runner.Run(ctx, "squeue", "-h", "-j", id, "-o", queueFormat)
	if err = translate(id, err); errors.Is(err, errdefs.ErrNotFound) {
		return provisioner.Instance{}, false, nil
	} else if err != nil {
		return provisioner.Instance{}, false, err
	}

	jobs := parseQueue(stdout)
	if len(jobs) == 0 {
		return provisioner.Instance{}, false, nil
	}
	return jobs[0], true, nil
}

func (d *driver) Launch(ctx context.Context, spec provisioner.LaunchSpec) (provisioner.Instance, error) {
	args := []string{
		"--no-shell",
		"--account=" + d.settings.Account,
		"--job-name=" + spec.Name,
		"--nodes=1",
		fmt.Sprintf("--ntasks-per-node=%d", max(spec.NodeType.Cores, 1)),
		fmt.Sprintf("--time=%s", provisioner.FormatWalltime(spec.Walltime)),
		"--comment=" + spec.NodeType.Name,
		fmt.Sprintf("--immediate=%d", int(math.Ceil(d.grantTimeout.Seconds()))),
	}
	if spec.NodeType.MemoryGB > 0 {
		args = append(args, fmt.Sprintf("--mem=%dG", int(spec.NodeType.MemoryGB)))
	}

	partition := d.settings.Partition
	if spec.NodeType.HasGPU() {
		args = append(args, gres(spec.NodeType.GPU, spec.NodeType.GPUType))
		partition = lo.Ternary(d.settings.GPUPartition != "", d.settings.GPUPartition, partition)
	}
	if partition != "" {
		args = append(args, "--partition="+partition)
	}

	stdout, stderr, err := d.runner.Run(ctx, "salloc", args...)
	if err != nil {
		return provisioner.Instance{}, translate(spec.Name, err)
	}

	match := allocationRe.FindStringSubmatch(stderr + stdout)
	if match == nil {
		return provisioner.Instance{}, errdefs.New(errdefs.ErrProvision, spec.Name, "no job allocation in salloc output: %s", strings.TrimSpace(stderr))
	}

	return provisioner.Instance{
		ID:           match[1],
		Name:         spec.Name,
		Owner:        spec.Owner,
		SKU:          spec.NodeType.Name,
		InstanceType: spec.NodeType.Name,
		Status:       provisioner.NodeStatusProvisioning,
	}, nil
}

func gres(count int, gpuType string) string {
	if gpuType == "" {
		return fmt.Sprintf("--gres=gpu:%d", count)
	}
	return fmt.Sprintf("--gres=gpu:%s:%d", gpuType, count)
}

func (d *driver) WaitReady(ctx context.Context, id string) (provisioner.Instance, error) {
	var ready provisioner.Instance
	err := internal.Poll(ctx, pollInterval, func(ctx context.Context) (bool, error) {
		job, ok, err := d.job(ctx, id)
		if err != nil {
			return false, err
		}
		if !ok || job.Status.Terminal() {
			return false, errdefs.New(errdefs.ErrProvision, id, "job left the queue before running")
		}
		ready = job
		return job.Status == provisioner.NodeStatusRunning && job.Endpoint != "", nil
	})
	return ready, err
}

// ScheduleShutdown is a no-op, the allocation was requested with --time.
func (d *driver) ScheduleShutdown(ctx context.Context, inst provisioner.Instance, walltime time.Duration) error {
	return nil
}

func (d *driver) Terminate(ctx context.Context, id string) error {
	_, _, err := d.runner.Run(ctx, "scancel", id)
	return translate(id, err)
}

func (d *driver) WaitTerminated(ctx context.Context, id string) error {
	return internal.Poll(ctx, pollInterval, func(ctx context.Context) (bool, error) {
		job, ok, err := d.job(ctx, id)
		if err != nil {
			return false, err
		}
		return !ok || job.Status.Terminal(), nil
	})
}

// Connection logs in to the allocated node as the local user.
func (d *driver) Connection(inst provisioner.Instance) provisioner.ConnectionInfo {
	return provisioner.ConnectionInfo{PrivateKey: d.keyFile, Login: inst.Endpoint}
}

func parseQueue(output string) []provisioner.Instance {
	var jobs []provisioner.Instance

	for _, line := range strings.Split(output, "\n") {
		fields := strings.Split(strings.TrimSpace(line), "|")
		if len(fields) != 9 {
			continue
		}

		job := provisioner.Instance{
			ID:           fields[0],
			Status:       status(fields[1]),
			Name:         fields[2],
			Endpoint:     endpoint(fields[4]),
			SKU:          lo.Ternary(fields[7] == "(null)", "", fields[7]),
			InstanceType: lo.Ternary(fields[7] == "(null)", "", fields[7]),
			Owner:        fields[8],
		}
		if elapsed, err := parseElapsed(fields[5]); err == nil {
			job.Elapsed = elapsed
		}
		if submitted, err := time.ParseInLocation(submitTimeLayout, fields[6], time.Local); err == nil {
			job.LaunchedAt = submitted
		}
		jobs = append(jobs, job)
	}
	return jobs
}

func endpoint(nodes string) string {
	if nodes == "" || strings.HasPrefix(nodes, "(") {
		return ""
	}
	return nodes
}

// parseElapsed reads the [D-][HH:]MM:SS run time of a job.
func parseElapsed(s string) (time.Duration, error) {
	var days int
	if d, rest, ok := strings.Cut(s, "-"); ok {
		var err error
		if days, err = strconv.Atoi(d); err != nil {
			return 0, fmt.Errorf("invalid elapsed time '%s'", s)
		}
		s = rest
	}

	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid elapsed time '%s'", s)
	}

	var total int
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid elapsed time '%s'", s)
		}
		total = total*60 + n
	}
	return time.Duration(days)*24*time.Hour + time.Duration(total)*time.Second, nil
}

func status(state string) provisioner.NodeStatus {
	switch state {
	case "PD", "CF", "RQ", "RF", "RH", "RS":
		return provisioner.NodeStatusProvisioning
	case "R", "SI", "SO":
		return provisioner.NodeStatusRunning
	case "S", "ST":
		return provisioner.NodeStatusStopped
	case "CG", "SE":
		return provisioner.NodeStatusTerminationRequested
	default:
		return provisioner.NodeStatusTerminated
	}
}

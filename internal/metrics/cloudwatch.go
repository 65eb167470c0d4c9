package metrics

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"tradedash/logger"
)

// CloudWatchOptions configures metric publishing. Static credentials are
// optional; the default AWS credential chain is used when they are empty.
type CloudWatchOptions struct {
	Region          string
	Namespace       string
	Dashboard       string
	AccessKeyID     string
	SecretAccessKey string
}

type cloudWatchState struct {
	client        *cloudwatch.Client
	namespace     string
	dashboardName string
	region        string
}

var (
	cwState atomic.Pointer[cloudWatchState]

	// cloudWatchPublishInterval limits how often a single metric series is sent.
	cloudWatchPublishInterval = 10 * time.Second

	lastPublishMu sync.Mutex
	lastPublish   = map[string]time.Time{}

	timeNow            = time.Now
	publishMetricsFunc = publishMetrics
)

func init() {
	cwState.Store(&cloudWatchState{namespace: "TradeDash", dashboardName: "TradeDash"})
}

// InitCloudWatch creates the CloudWatch client. A failure leaves publishing
// disabled and is returned so callers can log it.
func InitCloudWatch(ctx context.Context, opts CloudWatchOptions) error {
	log := logger.GetLogger().WithComponent("cloudwatch")

	region := opts.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return fmt.Errorf("load aws configuration: %w", err)
	}

	state := *cwState.Load()
	state.client = cloudwatch.NewFromConfig(cfg)
	if opts.Namespace != "" {
		state.namespace = opts.Namespace
	}
	if opts.Dashboard != "" {
		state.dashboardName = opts.Dashboard
	}
	state.region = cfg.Region
	if state.region == "" {
		state.region = region
	}
	cwState.Store(&state)

	log.WithFields(logger.Fields{"region": state.region, "namespace": state.namespace}).Info("initialized CloudWatch client")

	if err := createDashboard(ctx, &state); err != nil {
		log.WithError(err).Warn("failed to create CloudWatch dashboard")
	}
	logger.SetReportSink(publishReport)
	return nil
}

// publishReport forwards the host side of a runtime report sample.
func publishReport(r logger.Report) {
	log := logger.GetLogger()
	EmitMetric(log, "runtime", "cpu_percent", r.CPUPercent, "gauge", logger.Fields{"unit": "percent"})
	EmitMetric(log, "runtime", "memory_percent", r.MemoryPercent, "gauge", logger.Fields{"unit": "percent"})
	EmitMetric(log, "runtime", "goroutines", float64(r.Goroutines), "gauge", nil)
}

// EmitMetric logs the metric, dispatches it to registered handlers and
// publishes it to CloudWatch when configured.
func EmitMetric(log *logger.Log, component, name string, value float64, metricType string, fields logger.Fields) {
	m, ok := recordMetric(log, component, name, value, metricType, fields)
	if !ok {
		return
	}
	publishMetricDatum(m, m.Value)
}

func dashboardBody(namespace, region string) string {
	names := []string{
		"stream_reconnect",
		"snapshot_refresh_failure",
		"snapshot_persistent_failure",
		"order_submitted",
		"order_failed",
		"cpu_percent",
		"memory_percent",
	}
	rows := make([]string, 0, len(names))
	for _, n := range names {
		rows = append(rows, fmt.Sprintf(`[%q,%q]`, namespace, n))
	}
	return fmt.Sprintf(`{"widgets":[{"type":"metric","width":24,"height":6,"properties":{"metrics":[%s],"period":60,"stat":"Sum","region":%q,"title":"TradeDash sync health"}}]}`,
		strings.Join(rows, ","), region)
}

func createDashboard(ctx context.Context, state *cloudWatchState) error {
	if state == nil || state.client == nil {
		return nil
	}
	_, err := state.client.PutDashboard(ctx, &cloudwatch.PutDashboardInput{
		DashboardName: aws.String(state.dashboardName),
		DashboardBody: aws.String(dashboardBody(state.namespace, state.region)),
	})
	return err
}

func publishMetricDatum(m Metric, value float64) {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return
	}

	key := m.Component + "/" + m.Name
	now := timeNow()
	lastPublishMu.Lock()
	if last, ok := lastPublish[key]; ok && now.Sub(last) < cloudWatchPublishInterval {
		lastPublishMu.Unlock()
		return
	}
	lastPublish[key] = now
	lastPublishMu.Unlock()

	unit := cwtypes.StandardUnitCount
	if raw, ok := m.Fields["unit"].(string); ok {
		if parsed, found := metricUnitFromString(raw); found {
			unit = parsed
		}
	}

	dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(m.Component)}}
	for k, v := range m.Fields {
		if k == "unit" {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(s)})
		}
	}

	publishMetricsFunc(context.Background(), state, []cwtypes.MetricDatum{{
		MetricName: aws.String(m.Name),
		Dimensions: dims,
		Unit:       unit,
		Value:      aws.Float64(value),
		Timestamp:  aws.Time(m.Timestamp),
	}})
}

func publishMetrics(ctx context.Context, state *cloudWatchState, data []cwtypes.MetricDatum) {
	if state == nil || state.client == nil || len(data) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := state.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(state.namespace),
		MetricData: data,
	}); err != nil {
		logger.GetLogger().WithComponent("cloudwatch").WithError(err).Warn("failed to publish CloudWatch metrics")
	}
}

func resetMetricPublishTimes() {
	lastPublishMu.Lock()
	lastPublish = map[string]time.Time{}
	lastPublishMu.Unlock()
}

func metricUnitFromString(unit string) (cwtypes.StandardUnit, bool) {
	switch strings.ToLower(unit) {
	case "count":
		return cwtypes.StandardUnitCount, true
	case "percent":
		return cwtypes.StandardUnitPercent, true
	case "seconds":
		return cwtypes.StandardUnitSeconds, true
	case "milliseconds":
		return cwtypes.StandardUnitMilliseconds, true
	default:
		return cwtypes.StandardUnitCount, false
	}
}
